package membership

import (
	"context"
	"time"
)

// Admission sources.
const (
	SourcePayment  = "payment"
	SourceApproval = "approval"
	SourceOverride = "override"
)

// AdmissionGranted is emitted once per window extension, after it is committed.
type AdmissionGranted struct {
	SubscriberID int64
	WindowEnd    time.Time
	PaymentID    string
	Source       string
}

// AccessRevoked is emitted once per deactivation.
type AccessRevoked struct {
	SubscriberID int64
	WindowEnd    time.Time
}

// Publisher receives admission events. Errors are logged by the caller and
// never undo the committed change.
type Publisher interface {
	OnAdmissionGranted(ctx context.Context, ev AdmissionGranted) error
}

type nopPublisher struct{}

func (nopPublisher) OnAdmissionGranted(context.Context, AdmissionGranted) error { return nil }
