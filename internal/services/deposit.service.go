package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/nimasrn/deposit-gateway/internal/repository"
	"github.com/nimasrn/deposit-gateway/internal/verifier"
	"github.com/nimasrn/deposit-gateway/pkg/logger"
	"github.com/nimasrn/deposit-gateway/pkg/prom"
	"github.com/shopspring/decimal"
)

type SlipVerifier interface {
	Verify(ctx context.Context, img verifier.SlipImage) (*verifier.VerifiedSlip, error)
}

type BalanceRepository interface {
	LockForUpdate(ctx context.Context, userID int64) (*model.UserBalance, error)
	Increment(ctx context.Context, userID int64, amount decimal.Decimal) error
	Get(ctx context.Context, userID int64) (*model.UserBalance, error)
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type DepositDeps struct {
	Verifier   SlipVerifier
	Receiver   ReceiverIdentity
	Users      UserRepository
	Limits     DepositLimitRepository
	Payments   PaymentRepository
	Balances   BalanceRepository
	Tx         Transactor
	Location   *time.Location
	Dispatcher *Dispatcher
}

// DepositService turns a slip upload into a balance credit.
type DepositService struct {
	verifier   SlipVerifier
	receiver   ReceiverIdentity
	users      UserRepository
	payments   PaymentRepository
	balances   BalanceRepository
	tx         Transactor
	limits     *LimitEnforcer
	dispatcher *Dispatcher
	now        func() time.Time
}

func NewDepositService(d DepositDeps) *DepositService {
	return &DepositService{
		verifier:   d.Verifier,
		receiver:   d.Receiver,
		users:      d.Users,
		payments:   d.Payments,
		balances:   d.Balances,
		tx:         d.Tx,
		limits:     NewLimitEnforcer(d.Users, d.Limits, d.Payments, d.Location),
		dispatcher: d.Dispatcher,
		now:        time.Now,
	}
}

// SetClock replaces the time source of the service and its limit enforcer.
func (s *DepositService) SetClock(now func() time.Time) {
	s.now = now
	s.limits.now = now
}

func (s *DepositService) Limits() *LimitEnforcer {
	return s.limits
}

// Submit verifies the slip and settles it. Checks run in a fixed order and
// the first failing one decides the error; nothing is written unless every
// check passes.
func (s *DepositService) Submit(ctx context.Context, req model.SlipDepositRequest) (*model.SlipDepositResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	slip, err := s.verifier.Verify(ctx, verifier.SlipImage{
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Data:        req.Image,
	})
	if err != nil {
		return nil, err
	}

	if err := ValidateReceiver(s.receiver, slip); err != nil {
		logger.Warn("slip paid to another account", "user_id", req.UserID, "trans_ref", slip.TransRef, "error", err)
		return nil, err
	}

	used, err := s.payments.ExistsByTransRef(ctx, slip.TransRef)
	if err != nil {
		return nil, fmt.Errorf("check trans ref: %w", err)
	}
	if used {
		return nil, ErrSlipAlreadyUsed
	}

	user, err := s.limits.user(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	limit, err := s.limits.dailyLimit(ctx, user)
	if err != nil {
		return nil, err
	}

	at := s.now()
	if err := s.limits.checkAt(ctx, user.ID, limit, slip.Amount, at); err != nil {
		return nil, err
	}

	if !req.ClaimedAmount.Equal(slip.Amount) {
		logger.Warn("claimed amount differs from slip",
			"user_id", user.ID, "trans_ref", slip.TransRef,
			"claimed", req.ClaimedAmount.String(), "verified", slip.Amount.String())
	}

	balance, err := s.settle(ctx, user, limit, slip, at)
	if err != nil {
		return nil, err
	}

	logger.Info("deposit settled", "user_id", user.ID, "trans_ref", slip.TransRef, "amount", slip.Amount.String())
	prom.AddSettledAmount(slip.Amount.InexactFloat64())

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(model.DepositNotification{
			UserID:   user.ID,
			UserName: user.Name,
			Amount:   slip.Amount,
			TransRef: slip.TransRef,
		})
	}

	return &model.SlipDepositResult{
		TransRef:      slip.TransRef,
		Amount:        slip.Amount,
		ClaimedAmount: req.ClaimedAmount,
		Balance:       balance,
		SettledAt:     at.UTC(),
	}, nil
}

// settle records the payment and credits the balance as one unit. It runs
// detached from the request's cancellation so a dropped client cannot cut it
// in half.
func (s *DepositService) settle(ctx context.Context, user *model.User, limit decimal.Decimal, slip *verifier.VerifiedSlip, at time.Time) (decimal.Decimal, error) {
	var balance decimal.Decimal

	err := s.tx.WithinTransaction(context.WithoutCancel(ctx), func(ctx context.Context) error {
		locked, err := s.balances.LockForUpdate(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}

		payment := &model.PaymentTransaction{
			TransRef:      slip.TransRef,
			UserID:        user.ID,
			Amount:        slip.Amount,
			Status:        model.PaymentStatusCompleted,
			Method:        model.PaymentMethodBank,
			SenderName:    senderName(slip.Sender),
			SenderAccount: slip.Sender.Account,
			TransferredAt: slip.TransferredAt,
			CreatedAt:     at.UTC(),
		}
		if _, err := s.payments.Create(ctx, payment); err != nil {
			if errors.Is(err, repository.ErrDuplicateTransRef) {
				return ErrSlipAlreadyUsed
			}
			return fmt.Errorf("record payment: %w", err)
		}

		// a concurrent deposit of the same user may have settled between the
		// pre-check and the lock
		if err := s.limits.checkSettled(ctx, user.ID, limit, slip.Amount, at); err != nil {
			return err
		}

		if err := s.balances.Increment(ctx, user.ID, slip.Amount); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		balance = locked.Balance.Add(slip.Amount)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (s *DepositService) List(ctx context.Context, f model.PaymentFilter) (*model.PaymentList, error) {
	items, total, err := s.payments.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*model.PaymentTransaction{}
	}
	return &model.PaymentList{Items: items, Total: total}, nil
}

func (s *DepositService) Summary(ctx context.Context, userID int64) (*model.DepositSummary, error) {
	summary, err := s.limits.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}

	b, err := s.balances.Get(ctx, userID)
	switch {
	case err == nil:
		summary.Balance = b.Balance
	case errors.Is(err, repository.ErrBalanceNotFound):
		summary.Balance = decimal.Zero
	default:
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return summary, nil
}

func senderName(a verifier.Account) string {
	if a.NameEN != "" {
		return a.NameEN
	}
	return a.NameTH
}
