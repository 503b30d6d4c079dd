package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrUnknownUser          = errors.New("unknown user")
	ErrInvalidReceiver      = errors.New("slip receiver does not match the merchant account")
	ErrSlipAlreadyUsed      = errors.New("slip already used")
	ErrNoLimitConfigured    = errors.New("no deposit limit configured for user")
	ErrDepositLimitExceeded = errors.New("daily deposit limit exceeded")
)

// LimitExceededError carries the numbers behind a rejected deposit.
type LimitExceededError struct {
	Limit      decimal.Decimal
	TodayTotal decimal.Decimal
	Amount     decimal.Decimal
}

func (e *LimitExceededError) Remaining() decimal.Decimal {
	r := e.Limit.Sub(e.TodayTotal)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s: limit %s, deposited today %s, remaining %s, requested %s",
		ErrDepositLimitExceeded, e.Limit.StringFixed(2), e.TodayTotal.StringFixed(2),
		e.Remaining().StringFixed(2), e.Amount.StringFixed(2))
}

func (e *LimitExceededError) Unwrap() error {
	return ErrDepositLimitExceeded
}
