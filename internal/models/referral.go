package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferralTransaction is a commission credited to a sponsor for a payment
// made by a user they referred.
type ReferralTransaction struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	SponsorID uint            `gorm:"not null;index" json:"sponsor_id"`
	UserID    uint            `gorm:"not null;index" json:"user_id"`
	PaymentID uint            `gorm:"not null;uniqueIndex" json:"payment_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}
