package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const PaymentSucceeded = "succeeded"

type Payment struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uint            `gorm:"not null;index" json:"user_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status    string          `gorm:"size:16;default:'succeeded'" json:"status"`
	Reference string          `gorm:"size:64;uniqueIndex;not null" json:"reference"`
	CreatedAt time.Time       `json:"created_at"`
}

// All lists every model the schema is built from.
func All() []any {
	return []any{&User{}, &Payment{}, &ReferralTransaction{}}
}
