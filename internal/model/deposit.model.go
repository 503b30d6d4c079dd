package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SlipDepositRequest is one slip upload as received from the client.
type SlipDepositRequest struct {
	UserID        int64
	ClaimedAmount decimal.Decimal
	FileName      string
	ContentType   string
	Image         []byte
}

func (r SlipDepositRequest) Validate() error {
	if r.UserID <= 0 {
		return errors.New("user id is required")
	}
	if len(r.Image) == 0 {
		return errors.New("file is required")
	}
	if !r.ClaimedAmount.IsPositive() {
		return errors.New("amount must be positive")
	}
	return nil
}

type SlipDepositResult struct {
	TransRef      string          `json:"trans_ref"`
	Amount        decimal.Decimal `json:"amount"`
	ClaimedAmount decimal.Decimal `json:"claimed_amount"`
	Balance       decimal.Decimal `json:"balance"`
	SettledAt     time.Time       `json:"settled_at"`
}

// DepositSummary describes where a user stands against today's limit.
type DepositSummary struct {
	UserID     int64           `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	TodayTotal decimal.Decimal `json:"today_total"`
	DailyLimit decimal.Decimal `json:"daily_limit"`
	Remaining  decimal.Decimal `json:"remaining"`
	DayStart   time.Time       `json:"day_start"`
}

// DepositNotification is the event fired after a deposit settles.
type DepositNotification struct {
	UserID   int64           `json:"userId"`
	UserName string          `json:"userName"`
	Amount   decimal.Decimal `json:"amount"`
	TransRef string          `json:"transRef"`
}
