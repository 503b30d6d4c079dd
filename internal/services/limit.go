package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/nimasrn/deposit-gateway/internal/repository"
	"github.com/shopspring/decimal"
)

type UserRepository interface {
	GetByID(ctx context.Context, userID int64) (*model.User, error)
}

type DepositLimitRepository interface {
	GetByID(ctx context.Context, id int64) (*model.DepositLimit, error)
}

type PaymentRepository interface {
	ExistsByTransRef(ctx context.Context, transRef string) (bool, error)
	Create(ctx context.Context, p *model.PaymentTransaction) (*model.PaymentTransaction, error)
	SumSince(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error)
	List(ctx context.Context, f model.PaymentFilter) ([]*model.PaymentTransaction, int64, error)
}

// LimitEnforcer caps what a user may deposit between two local midnights of
// the operator timezone.
type LimitEnforcer struct {
	users    UserRepository
	limits   DepositLimitRepository
	payments PaymentRepository
	loc      *time.Location
	now      func() time.Time
}

func NewLimitEnforcer(users UserRepository, limits DepositLimitRepository, payments PaymentRepository, loc *time.Location) *LimitEnforcer {
	if loc == nil {
		loc = time.UTC
	}
	return &LimitEnforcer{
		users:    users,
		limits:   limits,
		payments: payments,
		loc:      loc,
		now:      time.Now,
	}
}

// DayStart returns the local midnight that opens the deposit day containing t.
func (e *LimitEnforcer) DayStart(t time.Time) time.Time {
	local := t.In(e.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
}

// Check reports whether amount still fits in the user's limit for today.
func (e *LimitEnforcer) Check(ctx context.Context, userID int64, amount decimal.Decimal) error {
	user, err := e.user(ctx, userID)
	if err != nil {
		return err
	}
	limit, err := e.dailyLimit(ctx, user)
	if err != nil {
		return err
	}
	return e.checkAt(ctx, userID, limit, amount, e.now())
}

// Summary reports today's total against the user's limit. A user without a
// tier gets a zero limit instead of an error.
func (e *LimitEnforcer) Summary(ctx context.Context, userID int64) (*model.DepositSummary, error) {
	user, err := e.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit, err := e.dailyLimit(ctx, user)
	if err != nil && !errors.Is(err, ErrNoLimitConfigured) {
		return nil, err
	}

	dayStart := e.DayStart(e.now())
	total, err := e.payments.SumSince(ctx, userID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("sum today's deposits: %w", err)
	}

	remaining := limit.Sub(total)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	return &model.DepositSummary{
		UserID:     userID,
		TodayTotal: total,
		DailyLimit: limit,
		Remaining:  remaining,
		DayStart:   dayStart,
	}, nil
}

func (e *LimitEnforcer) user(ctx context.Context, userID int64) (*model.User, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (e *LimitEnforcer) dailyLimit(ctx context.Context, user *model.User) (decimal.Decimal, error) {
	if user.DepositLimitID == nil {
		return decimal.Zero, ErrNoLimitConfigured
	}
	tier, err := e.limits.GetByID(ctx, *user.DepositLimitID)
	if err != nil {
		if errors.Is(err, repository.ErrDepositLimitNotFound) {
			return decimal.Zero, ErrNoLimitConfigured
		}
		return decimal.Zero, fmt.Errorf("get deposit limit: %w", err)
	}
	return tier.DailyLimit, nil
}

func (e *LimitEnforcer) checkAt(ctx context.Context, userID int64, limit, amount decimal.Decimal, at time.Time) error {
	total, err := e.payments.SumSince(ctx, userID, e.DayStart(at))
	if err != nil {
		return fmt.Errorf("sum today's deposits: %w", err)
	}
	if total.Add(amount).GreaterThan(limit) {
		return &LimitExceededError{Limit: limit, TodayTotal: total, Amount: amount}
	}
	return nil
}

// checkSettled runs inside the settlement transaction after the payment row is
// written, so the sum already includes amount.
func (e *LimitEnforcer) checkSettled(ctx context.Context, userID int64, limit, amount decimal.Decimal, at time.Time) error {
	total, err := e.payments.SumSince(ctx, userID, e.DayStart(at))
	if err != nil {
		return fmt.Errorf("sum today's deposits: %w", err)
	}
	if total.GreaterThan(limit) {
		return &LimitExceededError{Limit: limit, TodayTotal: total.Sub(amount), Amount: amount}
	}
	return nil
}
