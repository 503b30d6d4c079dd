package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	DepositLimitID *int64    `json:"deposit_limit_id"` // nil means deposits are not allowed
	CreatedAt      time.Time `json:"created_at"`
}

// DepositLimit is a named tier capping what a user may deposit per local day.
type DepositLimit struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	DailyLimit decimal.Decimal `json:"daily_limit"`
}

type UserBalance struct {
	UserID    int64           `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}
