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

type UserRepository struct {
	*pg.DB
}

func NewUserRepository(db *pg.DB) *UserRepository {
	return &UserRepository{
		db,
	}
}

func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	var entity UserEntity
	err := r.Read(ctx).
		Where("id = ?", userID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return toUserModel(&entity), nil
}

// Create inserts the user together with a zero balance row.
func (r *UserRepository) Create(ctx context.Context, name string, depositLimitID *int64) (*model.User, error) {
	entity := &UserEntity{Name: name, DepositLimitID: depositLimitID}
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := r.Write(ctx).Create(entity).Error; err != nil {
			return err
		}
		return r.Write(ctx).Create(&UserBalanceEntity{UserID: entity.ID, Balance: decimal.Zero}).Error
	})
	if err != nil {
		return nil, err
	}
	return toUserModel(entity), nil
}

// AssignDepositLimit sets or clears (limitID nil) the user's tier.
func (r *UserRepository) AssignDepositLimit(ctx context.Context, userID int64, limitID *int64) error {
	result := r.Write(ctx).
		Model(&UserEntity{}).
		Where("id = ?", userID).
		Update("deposit_limit_id", limitID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

type DepositLimitRepository struct {
	*pg.DB
}

func NewDepositLimitRepository(db *pg.DB) *DepositLimitRepository {
	return &DepositLimitRepository{
		db,
	}
}

func (r *DepositLimitRepository) GetByID(ctx context.Context, id int64) (*model.DepositLimit, error) {
	var entity DepositLimitEntity
	err := r.Read(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDepositLimitNotFound
		}
		return nil, err
	}
	return toDepositLimitModel(&entity), nil
}

// Upsert creates the tier or updates its daily limit when the name exists.
func (r *DepositLimitRepository) Upsert(ctx context.Context, name string, dailyLimit decimal.Decimal) (*model.DepositLimit, error) {
	entity := &DepositLimitEntity{Name: name, DailyLimit: dailyLimit}
	err := r.Write(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"daily_limit"}),
		}).
		Create(entity).
		Error
	if err != nil {
		return nil, err
	}

	var stored DepositLimitEntity
	if err := r.Write(ctx).Where("name = ?", name).First(&stored).Error; err != nil {
		return nil, err
	}
	return toDepositLimitModel(&stored), nil
}

func (r *DepositLimitRepository) List(ctx context.Context) ([]*model.DepositLimit, error) {
	var entities []*DepositLimitEntity
	if err := r.Read(ctx).Order("daily_limit ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	limits := make([]*model.DepositLimit, len(entities))
	for i, e := range entities {
		limits[i] = toDepositLimitModel(e)
	}
	return limits, nil
}
