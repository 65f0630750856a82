package membership

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"vipgate-bot/internal/database"
	"vipgate-bot/internal/metrics"
	"vipgate-bot/internal/models"
	"vipgate-bot/internal/payment"
)

// Gateway is a payment processor the controller can drive.
type Gateway interface {
	Name() string
	Quote(ctx context.Context, amount decimal.Decimal) (*payment.Quote, error)
	CreatePayment(ctx context.Context, req payment.PaymentRequest) (*payment.Instructions, error)
	PollStatus(ctx context.Context, paymentID string) (*payment.Settlement, error)
}

type Ledger interface {
	Create(ctx context.Context, attempt *models.PaymentAttempt) error
	Get(ctx context.Context, paymentID string) (*models.PaymentAttempt, error)
	LatestPending(ctx context.Context, subscriberID int64) (*models.PaymentAttempt, error)
	Settle(ctx context.Context, req database.SettleRequest) (*database.SettleResult, error)
}

type SubscriberReader interface {
	Get(ctx context.Context, id int64) (*models.Subscriber, error)
}

type ControllerConfig struct {
	// Period is added to the window for every admitting payment.
	Period time.Duration
	// AdmitPartial lets partially paid attempts admit.
	AdmitPartial bool
	Description  string
	// PollTimeout bounds one shared status poll and settlement.
	PollTimeout time.Duration
}

// Controller owns every transition of a payment attempt.
type Controller struct {
	gateway     Gateway
	ledger      Ledger
	subscribers SubscriberReader
	events      Publisher
	cfg         ControllerConfig
	log         *slog.Logger

	polls singleflight.Group
	now   func() time.Time
}

func NewController(gateway Gateway, ledger Ledger, subscribers SubscriberReader, events Publisher, cfg ControllerConfig, log *slog.Logger) *Controller {
	if events == nil {
		events = nopPublisher{}
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.Description == "" {
		cfg.Description = "Private group access"
	}
	return &Controller{
		gateway:     gateway,
		ledger:      ledger,
		subscribers: subscribers,
		events:      events,
		cfg:         cfg,
		log:         log.With("component", "membership"),
		now:         time.Now,
	}
}

// RequestPayment quotes amount, opens a payment at the gateway and records
// the pending attempt. Nothing is recorded unless the gateway issued
// instructions.
func (c *Controller) RequestPayment(ctx context.Context, subscriberID int64, amount decimal.Decimal) (*models.PaymentAttempt, error) {
	if subscriberID <= 0 {
		return nil, ErrInvalidSubscriber
	}

	quote, err := c.gateway.Quote(ctx, amount)
	if err != nil {
		return nil, err
	}

	ins, err := c.gateway.CreatePayment(ctx, payment.PaymentRequest{
		Amount:      amount,
		OrderID:     uuid.NewString(),
		Description: c.cfg.Description,
	})
	if err != nil {
		return nil, err
	}

	payAmount := ins.PayAmount
	if !payAmount.IsPositive() {
		payAmount = quote.PayAmount
	}
	attempt := &models.PaymentAttempt{
		PaymentID:     ins.PaymentID,
		SubscriberID:  subscriberID,
		Gateway:       c.gateway.Name(),
		OrderID:       ins.OrderID,
		PriceAmount:   amount,
		PriceCurrency: quote.PriceCurrency,
		PayAmount:     payAmount,
		PayCurrency:   ins.PayCurrency,
		PayAddress:    ins.PayAddress,
		Status:        models.PaymentPending,
		ExpiresAt:     ins.ExpiresAt,
		CreatedAt:     c.now(),
	}
	if err := c.ledger.Create(ctx, attempt); err != nil {
		c.log.Error("Payment opened at gateway but not recorded",
			"payment_id", ins.PaymentID, "subscriber_id", subscriberID, "err", err)
		return nil, err
	}

	metrics.PaymentsCreatedTotal.WithLabelValues(c.gateway.Name()).Inc()
	c.log.Info("Payment requested",
		"payment_id", attempt.PaymentID, "subscriber_id", subscriberID,
		"pay_amount", attempt.PayAmount.String(), "pay_currency", attempt.PayCurrency)
	return attempt, nil
}

// Confirmation is the outcome of ConfirmPayment.
type Confirmation struct {
	Attempt models.PaymentAttempt
	// Subscriber is set when the attempt admitted, on this call or before.
	Subscriber *models.Subscriber
	// Admitted is true only for the call that credited the window.
	Admitted bool
	// GatewayState is the polled state; empty when the stored result was returned.
	GatewayState payment.State
	// InstructionsExpired means the attempt is still pending past its local expiry.
	InstructionsExpired bool
}

// ConfirmPayment settles a payment from the gateway's view. Terminal attempts
// return their stored result without polling. Concurrent calls for one id
// share a single poll, and the ledger transition credits at most once.
func (c *Controller) ConfirmPayment(ctx context.Context, paymentID string) (*Confirmation, error) {
	attempt, err := c.ledger.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if attempt.Status.Terminal() {
		return c.stored(ctx, attempt)
	}

	// The shared poll outlives any single caller's cancellation.
	leader := false
	v, err, _ := c.polls.Do(paymentID, func() (interface{}, error) {
		leader = true
		pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PollTimeout)
		defer cancel()
		return c.pollAndSettle(pollCtx, attempt)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Confirmation)
	if !leader {
		res.Admitted = false
	}
	return &res, nil
}

// PendingFor returns the subscriber's most recent pending attempt.
func (c *Controller) PendingFor(ctx context.Context, subscriberID int64) (*models.PaymentAttempt, error) {
	return c.ledger.LatestPending(ctx, subscriberID)
}

func (c *Controller) pollAndSettle(ctx context.Context, attempt *models.PaymentAttempt) (*Confirmation, error) {
	s, err := c.gateway.PollStatus(ctx, attempt.PaymentID)
	if err != nil {
		c.log.Warn("Payment status poll failed", "payment_id", attempt.PaymentID, "err", err)
		return nil, err
	}

	now := c.now()
	status, ok := c.ledgerStatus(s.State)
	if !ok {
		return &Confirmation{
			Attempt:             *attempt,
			GatewayState:        s.State,
			InstructionsExpired: now.After(attempt.ExpiresAt),
		}, nil
	}

	req := database.SettleRequest{
		PaymentID:     attempt.PaymentID,
		Status:        status,
		GatewayStatus: s.RawStatus,
		At:            now,
	}
	if status.Admits() {
		req.Credit = c.cfg.Period
	}
	settled, err := c.ledger.Settle(ctx, req)
	if err != nil {
		c.log.Error("Failed to settle payment", "payment_id", attempt.PaymentID, "status", status, "err", err)
		return nil, err
	}

	if !settled.Applied {
		// Another writer settled it first; report what it stored.
		return c.stored(ctx, &settled.Attempt)
	}

	metrics.PaymentsSettledTotal.WithLabelValues(string(settled.Attempt.Status)).Inc()
	res := &Confirmation{
		Attempt:      settled.Attempt,
		Subscriber:   settled.Subscriber,
		Admitted:     settled.Subscriber != nil,
		GatewayState: s.State,
	}
	c.log.Info("Payment settled",
		"payment_id", attempt.PaymentID, "status", settled.Attempt.Status, "gateway_status", s.RawStatus)

	if res.Admitted {
		publishAdmission(ctx, c.events, c.log, AdmissionGranted{
			SubscriberID: res.Subscriber.ID,
			WindowEnd:    res.Subscriber.WindowEnd,
			PaymentID:    attempt.PaymentID,
			Source:       SourcePayment,
		})
	}
	return res, nil
}

func (c *Controller) stored(ctx context.Context, attempt *models.PaymentAttempt) (*Confirmation, error) {
	res := &Confirmation{Attempt: *attempt}
	if !attempt.Status.Admits() || c.subscribers == nil {
		return res, nil
	}
	sub, err := c.subscribers.Get(ctx, attempt.SubscriberID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	res.Subscriber = sub
	return res, nil
}

// ledgerStatus maps a polled state to the terminal ledger status it settles
// to. ok is false when the attempt should stay pending.
func (c *Controller) ledgerStatus(state payment.State) (models.PaymentStatus, bool) {
	switch state {
	case payment.StateConfirmed:
		return models.PaymentConfirmed, true
	case payment.StatePartiallyPaid:
		if c.cfg.AdmitPartial {
			return models.PaymentPartiallyPaid, true
		}
		return "", false
	case payment.StateExpired:
		return models.PaymentExpired, true
	case payment.StateFailed:
		return models.PaymentFailed, true
	default:
		return "", false
	}
}

func publishAdmission(ctx context.Context, events Publisher, log *slog.Logger, ev AdmissionGranted) {
	metrics.AdmissionsTotal.WithLabelValues(ev.Source).Inc()
	if err := events.OnAdmissionGranted(ctx, ev); err != nil {
		log.Warn("Admission notification failed",
			"subscriber_id", ev.SubscriberID, "source", ev.Source, "err", err)
	}
}
