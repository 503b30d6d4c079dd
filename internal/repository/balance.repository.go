package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/nimasrn/deposit-gateway/pkg/pg"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BalanceRepository struct {
	*pg.DB
}

func NewBalanceRepository(db *pg.DB) *BalanceRepository {
	return &BalanceRepository{
		db,
	}
}

// LockForUpdate takes the row lock on the user's balance. It only has effect
// inside WithinTransaction, where it serializes settlements of one user.
func (r *BalanceRepository) LockForUpdate(ctx context.Context, userID int64) (*model.UserBalance, error) {
	var entity UserBalanceEntity
	err := r.Write(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return toUserBalanceModel(&entity), nil
}

// Increment adds amount to the stored balance in place, so concurrent
// credits never overwrite each other.
func (r *BalanceRepository) Increment(ctx context.Context, userID int64, amount decimal.Decimal) error {
	result := r.Write(ctx).
		Model(&UserBalanceEntity{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

func (r *BalanceRepository) Get(ctx context.Context, userID int64) (*model.UserBalance, error) {
	var entity UserBalanceEntity
	err := r.Read(ctx).
		Where("user_id = ?", userID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return toUserBalanceModel(&entity), nil
}

// EnsureExists creates a zero balance row for the user if none exists.
func (r *BalanceRepository) EnsureExists(ctx context.Context, userID int64) error {
	return r.Write(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&UserBalanceEntity{UserID: userID, Balance: decimal.Zero}).
		Error
}
