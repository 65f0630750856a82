package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vipgate-bot/internal/models"
)

type ApprovalLog struct {
	db *gorm.DB
}

func NewApprovalLog(db *gorm.DB) *ApprovalLog {
	return &ApprovalLog{db: db}
}

// ListBySubscriber returns approvals for a subscriber, newest first.
func (l *ApprovalLog) ListBySubscriber(ctx context.Context, subscriberID int64) ([]models.ManualApproval, error) {
	var out []models.ManualApproval
	err := l.db.WithContext(ctx).
		Where("subscriber_id = ?", subscriberID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, persistErr("list approvals", err)
	}
	return out, nil
}

func recordApproval(tx *gorm.DB, approval *models.ManualApproval, sub *models.Subscriber, now time.Time) error {
	if approval.ID == "" {
		approval.ID = uuid.NewString()
	}
	approval.SubscriberID = sub.ID
	approval.WindowEnd = sub.WindowEnd
	approval.CreatedAt = normalize(now)
	return tx.Create(approval).Error
}
