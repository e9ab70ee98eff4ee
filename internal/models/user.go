package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleAdmin    Role = "admin"
	RoleTrader   Role = "trader"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleVendor, RoleAdmin, RoleTrader:
		return true
	}
	return false
}

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

type User struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Username     string          `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Email        string          `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Phone        string          `gorm:"size:32" json:"phone,omitempty"`
	Country      string          `gorm:"size:64" json:"country,omitempty"`
	FullName     string          `gorm:"size:255" json:"full_name,omitempty"`
	Role         Role            `gorm:"size:16;not null;default:'customer'" json:"role"`
	Status       string          `gorm:"size:16;not null;default:'active'" json:"status"`
	PasswordHash string          `gorm:"size:255;not null" json:"-"`
	SponsorID    *uint           `gorm:"index" json:"sponsor_id"`
	LeftChildID  *uint           `gorm:"uniqueIndex" json:"left_child_id"`
	RightChildID *uint           `gorm:"uniqueIndex" json:"right_child_id"`
	Level        int             `gorm:"default:0" json:"level"`
	Balance      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (u *User) Active() bool {
	return u.Status == StatusActive
}

// Side names a slot of the binary placement tree.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

func (s Side) Valid() bool {
	return s == Left || s == Right
}

// Column is the users column holding the child for this side.
func (s Side) Column() string {
	if s == Right {
		return "right_child_id"
	}
	return "left_child_id"
}

// Child returns the child id stored on u for this side.
func (u *User) Child(s Side) *uint {
	if s == Right {
		return u.RightChildID
	}
	return u.LeftChildID
}
