package repository

import (
	"time"

	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/shopspring/decimal"
)

type UserEntity struct {
	ID             int64     `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	Name           string    `db:"name"             gorm:"column:name;not null"`
	DepositLimitID *int64    `db:"deposit_limit_id" gorm:"column:deposit_limit_id;index"`
	CreatedAt      time.Time `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
}

func (UserEntity) TableName() string {
	return "users"
}

type DepositLimitEntity struct {
	ID         int64           `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	Name       string          `db:"name"        gorm:"column:name;not null;uniqueIndex"`
	DailyLimit decimal.Decimal `db:"daily_limit" gorm:"column:daily_limit;type:numeric(20,2);not null"`
}

func (DepositLimitEntity) TableName() string {
	return "deposit_limits"
}

type UserBalanceEntity struct {
	UserID    int64           `db:"user_id"    gorm:"primaryKey;autoIncrement:false;column:user_id"`
	Balance   decimal.Decimal `db:"balance"    gorm:"column:balance;type:numeric(20,2);not null;default:0"`
	UpdatedAt time.Time       `db:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (UserBalanceEntity) TableName() string {
	return "user_balances"
}

func toUserModel(e *UserEntity) *model.User {
	if e == nil {
		return nil
	}
	return &model.User{
		ID:             e.ID,
		Name:           e.Name,
		DepositLimitID: e.DepositLimitID,
		CreatedAt:      e.CreatedAt,
	}
}

func toDepositLimitModel(e *DepositLimitEntity) *model.DepositLimit {
	if e == nil {
		return nil
	}
	return &model.DepositLimit{
		ID:         e.ID,
		Name:       e.Name,
		DailyLimit: e.DailyLimit,
	}
}

func toUserBalanceModel(e *UserBalanceEntity) *model.UserBalance {
	if e == nil {
		return nil
	}
	return &model.UserBalance{
		UserID:    e.UserID,
		Balance:   e.Balance,
		UpdatedAt: e.UpdatedAt,
	}
}
