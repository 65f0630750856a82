package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vipgate-bot/internal/models"
)

// SubscriberStore is the durable record of subscription windows. Every write
// is a single conditional statement or a row-locked transaction, so the sweep
// and renewals can run concurrently.
type SubscriberStore struct {
	db *gorm.DB
}

func NewSubscriberStore(db *gorm.DB) *SubscriberStore {
	return &SubscriberStore{db: db}
}

func (s *SubscriberStore) Get(ctx context.Context, id int64) (*models.Subscriber, error) {
	var sub models.Subscriber
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("get subscriber", err)
	}
	return &sub, nil
}

// Extend adds period to the subscriber's window, starting from
// max(window_end, now), creating the record on first admission.
func (s *SubscriberStore) Extend(ctx context.Context, id int64, displayName string, period time.Duration, now time.Time) (*models.Subscriber, error) {
	var sub *models.Subscriber
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = extendWindow(tx, id, displayName, period, now)
		return err
	})
	if err != nil {
		return nil, persistErr("extend subscriber", err)
	}
	return sub, nil
}

// ExtendApproved extends the window and writes the approval audit row in the
// same transaction.
func (s *SubscriberStore) ExtendApproved(ctx context.Context, approval *models.ManualApproval, displayName string, period time.Duration, now time.Time) (*models.Subscriber, error) {
	var sub *models.Subscriber
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = extendWindow(tx, approval.SubscriberID, displayName, period, now)
		if err != nil {
			return err
		}
		return recordApproval(tx, approval, sub, now)
	})
	if err != nil {
		return nil, persistErr("approve subscriber", err)
	}
	return sub, nil
}

// ListLapsed returns subscribers still flagged active whose window ended before now.
func (s *SubscriberStore) ListLapsed(ctx context.Context, now time.Time) ([]models.Subscriber, error) {
	var subs []models.Subscriber
	err := s.db.WithContext(ctx).
		Where("active = ? AND window_end < ?", true, normalize(now)).
		Order("window_end").
		Find(&subs).Error
	if err != nil {
		return nil, persistErr("list lapsed subscribers", err)
	}
	return subs, nil
}

// ListExpiring returns active subscribers whose window ends in [from, to).
func (s *SubscriberStore) ListExpiring(ctx context.Context, from, to time.Time) ([]models.Subscriber, error) {
	var subs []models.Subscriber
	err := s.db.WithContext(ctx).
		Where("active = ? AND window_end >= ? AND window_end < ?", true, normalize(from), normalize(to)).
		Order("window_end").
		Find(&subs).Error
	if err != nil {
		return nil, persistErr("list expiring subscribers", err)
	}
	return subs, nil
}

// Deactivate clears the active flag only if the window is still lapsed at
// now. It reports false when a renewal won the race or the record was
// already inactive.
func (s *SubscriberStore) Deactivate(ctx context.Context, id int64, now time.Time) (bool, error) {
	now = normalize(now)
	res := s.db.WithContext(ctx).
		Model(&models.Subscriber{}).
		Where("id = ? AND active = ? AND window_end < ?", id, true, now).
		Updates(map[string]any{"active": false, "updated_at": now})
	if res.Error != nil {
		return false, persistErr("deactivate subscriber", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func extendWindow(tx *gorm.DB, id int64, displayName string, period time.Duration, now time.Time) (*models.Subscriber, error) {
	if period <= 0 {
		return nil, fmt.Errorf("extend subscriber %d: non-positive period %s", id, period)
	}
	now = normalize(now)

	// Seed an empty window so the row exists before it is locked.
	seed := models.Subscriber{
		ID:          id,
		DisplayName: displayName,
		WindowStart: now,
		WindowEnd:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}

	var sub models.Subscriber
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&sub).Error; err != nil {
		return nil, err
	}

	start := sub.WindowEnd
	if start.Before(now) {
		start = now
	}
	sub.WindowStart = now
	sub.WindowEnd = normalize(start.Add(period))
	sub.Active = true
	sub.UpdatedAt = now
	if displayName != "" {
		sub.DisplayName = displayName
	}

	err := tx.Model(&models.Subscriber{}).Where("id = ?", id).Updates(map[string]any{
		"display_name": sub.DisplayName,
		"window_start": sub.WindowStart,
		"window_end":   sub.WindowEnd,
		"active":       true,
		"updated_at":   now,
	}).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// normalize keeps stored timestamps comparable across drivers.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
