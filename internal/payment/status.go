package payment

import "strings"

// State is the internal settlement taxonomy every gateway maps into.
type State string

const (
	StateNotFound      State = "not_found"
	StatePending       State = "pending"
	StateConfirmed     State = "confirmed"
	StatePartiallyPaid State = "partially_paid"
	StateExpired       State = "expired"
	StateFailed        State = "failed"
)

// NormalizeNowPaymentsStatus maps the processor's payment_status vocabulary.
// Unknown values stay pending so they are polled again rather than settled.
func NormalizeNowPaymentsStatus(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "waiting", "confirming":
		return StatePending
	case "confirmed", "sending", "finished":
		return StateConfirmed
	case "partially_paid":
		return StatePartiallyPaid
	case "expired":
		return StateExpired
	case "failed", "refunded":
		return StateFailed
	default:
		return StatePending
	}
}
