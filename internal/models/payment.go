package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentConfirmed     PaymentStatus = "confirmed"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentExpired       PaymentStatus = "expired"
	PaymentFailed        PaymentStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

// Admits reports whether the status unlocks the subscription window.
func (s PaymentStatus) Admits() bool {
	return s == PaymentConfirmed || s == PaymentPartiallyPaid
}

type PaymentAttempt struct {
	PaymentID     string          `gorm:"primaryKey;size:64"`
	SubscriberID  int64           `gorm:"not null;index"`
	Gateway       string          `gorm:"size:32;not null"`
	OrderID       string          `gorm:"size:64;index"`
	PriceAmount   decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	PriceCurrency string          `gorm:"size:16"`
	PayAmount     decimal.Decimal `gorm:"type:numeric(30,12)"`
	PayCurrency   string          `gorm:"size:32"`
	PayAddress    string          `gorm:"size:255"`
	Status        PaymentStatus   `gorm:"size:32;not null;index"`
	GatewayStatus string          `gorm:"size:32"`
	ExpiresAt     time.Time
	CreatedAt     time.Time
	CompletedAt   *time.Time
}
