package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"vipgate-bot/internal/models"
)

// PaymentLedger is the durable record of payment attempts. Attempts are never
// deleted; status only moves out of pending, once.
type PaymentLedger struct {
	db *gorm.DB
}

func NewPaymentLedger(db *gorm.DB) *PaymentLedger {
	return &PaymentLedger{db: db}
}

func (l *PaymentLedger) Create(ctx context.Context, attempt *models.PaymentAttempt) error {
	if attempt.Status == "" {
		attempt.Status = models.PaymentPending
	}
	attempt.CreatedAt = normalize(attempt.CreatedAt)
	attempt.ExpiresAt = normalize(attempt.ExpiresAt)
	if err := l.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return persistErr("create payment attempt", err)
	}
	return nil
}

func (l *PaymentLedger) Get(ctx context.Context, paymentID string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := l.db.WithContext(ctx).Where("payment_id = ?", paymentID).Take(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("get payment attempt", err)
	}
	return &attempt, nil
}

// LatestPending returns the subscriber's most recent pending attempt.
func (l *PaymentLedger) LatestPending(ctx context.Context, subscriberID int64) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := l.db.WithContext(ctx).
		Where("subscriber_id = ? AND status = ?", subscriberID, models.PaymentPending).
		Order("created_at DESC").
		Take(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("latest pending payment", err)
	}
	return &attempt, nil
}

type SettleRequest struct {
	PaymentID     string
	Status        models.PaymentStatus
	GatewayStatus string
	At            time.Time
	// Credit is added to the owner's window when Status admits.
	Credit time.Duration
	// Approval, when set, is written as the audit row of an operator override.
	Approval *models.ManualApproval
}

type SettleResult struct {
	Attempt    models.PaymentAttempt
	Subscriber *models.Subscriber
	// Applied is true only for the call that moved the attempt out of pending.
	Applied bool
}

// Settle moves a pending attempt to a terminal status and, for admitting
// statuses, extends the owner's window in the same transaction. The status
// predicate makes concurrent calls for one payment credit at most once.
func (l *PaymentLedger) Settle(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	if !req.Status.Terminal() {
		return nil, fmt.Errorf("database: settle %s: status %q is not terminal", req.PaymentID, req.Status)
	}
	at := normalize(req.At)

	res := &SettleResult{}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&models.PaymentAttempt{}).
			Where("payment_id = ? AND status = ?", req.PaymentID, models.PaymentPending).
			Updates(map[string]any{
				"status":         req.Status,
				"gateway_status": req.GatewayStatus,
				"completed_at":   at,
			})
		if upd.Error != nil {
			return upd.Error
		}

		if err := tx.Where("payment_id = ?", req.PaymentID).Take(&res.Attempt).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if upd.RowsAffected == 0 {
			return nil
		}
		res.Applied = true

		if !req.Status.Admits() || req.Credit <= 0 {
			return nil
		}
		sub, err := extendWindow(tx, res.Attempt.SubscriberID, "", req.Credit, at)
		if err != nil {
			return err
		}
		res.Subscriber = sub

		if req.Approval != nil {
			paymentID := req.PaymentID
			req.Approval.PaymentID = &paymentID
			return recordApproval(tx, req.Approval, sub, at)
		}
		return nil
	})
	if err != nil {
		return nil, persistErr("settle payment", err)
	}
	return res, nil
}
