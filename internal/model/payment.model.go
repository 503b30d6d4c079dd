package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusCompleted = "completed"
	PaymentMethodBank      = "BANK"
)

// PaymentTransaction is the permanent record of one settled transfer.
// TransRef is assigned by the bank and is unique across all users.
type PaymentTransaction struct {
	ID            int64           `json:"id"`
	TransRef      string          `json:"trans_ref"`
	UserID        int64           `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	Method        string          `json:"method"`
	SenderName    string          `json:"sender_name,omitempty"`
	SenderAccount string          `json:"sender_account,omitempty"`
	TransferredAt *time.Time      `json:"transferred_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PaymentFilter controls List queries.
type PaymentFilter struct {
	UserID int64
	From   *time.Time
	To     *time.Time
	Limit  int  // default 50
	Offset int  // for pagination
	Desc   bool // order by created_at
}

type PaymentList struct {
	Items []*PaymentTransaction `json:"items"`
	Total int64                 `json:"total"`
}
