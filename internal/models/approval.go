package models

import (
	"time"
)

// ManualApproval is the audit trail of an operator extending a window by hand.
type ManualApproval struct {
	ID           string  `gorm:"primaryKey;size:36"`
	SubscriberID int64   `gorm:"not null;index"`
	OperatorID   int64   `gorm:"not null"`
	PaymentID    *string `gorm:"size:64;index"`
	Note         string  `gorm:"size:512"`
	WindowEnd    time.Time
	CreatedAt    time.Time
}
