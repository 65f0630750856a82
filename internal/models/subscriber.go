package models

import (
	"time"
)

// Subscriber is the access window of one chat user. Active is a cached flag
// maintained by the expiry sweep; live access is WindowEnd compared to now.
type Subscriber struct {
	ID          int64     `gorm:"primaryKey;autoIncrement:false"`
	DisplayName string    `gorm:"size:255"`
	WindowStart time.Time `gorm:"not null"`
	WindowEnd   time.Time `gorm:"not null;index"`
	Active      bool      `gorm:"not null;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasAccess reports whether the window is still open at now.
func (s *Subscriber) HasAccess(now time.Time) bool {
	return now.Before(s.WindowEnd)
}

// Remaining is the time left in the window, zero once it has lapsed.
func (s *Subscriber) Remaining(now time.Time) time.Duration {
	if !s.HasAccess(now) {
		return 0
	}
	return s.WindowEnd.Sub(now)
}
