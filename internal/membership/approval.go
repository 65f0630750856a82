package membership

import (
	"context"
	"log/slog"
	"time"

	"vipgate-bot/internal/database"
	"vipgate-bot/internal/metrics"
	"vipgate-bot/internal/models"
)

type ApprovalStore interface {
	ExtendApproved(ctx context.Context, approval *models.ManualApproval, displayName string, period time.Duration, now time.Time) (*models.Subscriber, error)
}

// Approver is the operator path for admissions that bypass gateway polling.
type Approver struct {
	operatorID int64
	store      ApprovalStore
	ledger     Ledger
	events     Publisher
	period     time.Duration
	log        *slog.Logger
	now        func() time.Time
}

func NewApprover(operatorID int64, store ApprovalStore, ledger Ledger, events Publisher, period time.Duration, log *slog.Logger) *Approver {
	if events == nil {
		events = nopPublisher{}
	}
	return &Approver{
		operatorID: operatorID,
		store:      store,
		ledger:     ledger,
		events:     events,
		period:     period,
		log:        log.With("component", "approver"),
		now:        time.Now,
	}
}

// IsOperator reports whether callerID may use the privileged operations.
func (a *Approver) IsOperator(callerID int64) bool {
	return a.operatorID != 0 && callerID == a.operatorID
}

// Approve extends the subscriber's window by one period after an operator
// reviewed a receipt. Every call extends again; callers approve each receipt
// once. The approval is audited in the same transaction.
func (a *Approver) Approve(ctx context.Context, operatorID, subscriberID int64, displayName, note string) (*models.Subscriber, error) {
	if !a.IsOperator(operatorID) {
		a.log.Warn("Rejected approval from non-operator", "caller_id", operatorID, "subscriber_id", subscriberID)
		return nil, ErrUnauthorized
	}
	if subscriberID <= 0 {
		return nil, ErrInvalidSubscriber
	}

	approval := &models.ManualApproval{
		SubscriberID: subscriberID,
		OperatorID:   operatorID,
		Note:         note,
	}
	sub, err := a.store.ExtendApproved(ctx, approval, displayName, a.period, a.now())
	if err != nil {
		a.log.Error("Failed to approve subscriber", "subscriber_id", subscriberID, "err", err)
		return nil, err
	}

	a.log.Info("Subscriber approved manually",
		"subscriber_id", subscriberID, "operator_id", operatorID, "approval_id", approval.ID, "window_end", sub.WindowEnd)
	publishAdmission(ctx, a.events, a.log, AdmissionGranted{
		SubscriberID: sub.ID,
		WindowEnd:    sub.WindowEnd,
		Source:       SourceApproval,
	})
	return sub, nil
}

// ResolvePayment marks a pending attempt confirmed on the operator's word,
// crediting the window through the same one-time ledger transition as
// polling. A second call for the same attempt changes nothing.
func (a *Approver) ResolvePayment(ctx context.Context, operatorID int64, paymentID, note string) (*database.SettleResult, error) {
	if !a.IsOperator(operatorID) {
		a.log.Warn("Rejected payment override from non-operator", "caller_id", operatorID, "payment_id", paymentID)
		return nil, ErrUnauthorized
	}

	res, err := a.ledger.Settle(ctx, database.SettleRequest{
		PaymentID:     paymentID,
		Status:        models.PaymentConfirmed,
		GatewayStatus: "operator_override",
		At:            a.now(),
		Credit:        a.period,
		Approval: &models.ManualApproval{
			OperatorID: operatorID,
			Note:       note,
		},
	})
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		a.log.Info("Payment already settled, override ignored", "payment_id", paymentID, "status", res.Attempt.Status)
		return res, nil
	}

	metrics.PaymentsSettledTotal.WithLabelValues(string(res.Attempt.Status)).Inc()
	a.log.Info("Payment resolved by operator", "payment_id", paymentID, "operator_id", operatorID)
	publishAdmission(ctx, a.events, a.log, AdmissionGranted{
		SubscriberID: res.Subscriber.ID,
		WindowEnd:    res.Subscriber.WindowEnd,
		PaymentID:    paymentID,
		Source:       SourceOverride,
	})
	return res, nil
}
