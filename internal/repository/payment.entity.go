package repository

import (
	"time"

	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/shopspring/decimal"
)

type PaymentTransactionEntity struct {
	ID            int64           `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	TransRef      string          `db:"trans_ref"      gorm:"column:trans_ref;not null;uniqueIndex:uq_payment_transactions_trans_ref"`
	UserID        int64           `db:"user_id"        gorm:"column:user_id;not null;index:idx_payment_transactions_user_created,priority:1"`
	Amount        decimal.Decimal `db:"amount"         gorm:"column:amount;type:numeric(20,2);not null"`
	Status        string          `db:"status"         gorm:"column:status;not null"`
	Method        string          `db:"method"         gorm:"column:method;not null"`
	SenderName    string          `db:"sender_name"    gorm:"column:sender_name"`
	SenderAccount string          `db:"sender_account" gorm:"column:sender_account"`
	TransferredAt *time.Time      `db:"transferred_at" gorm:"column:transferred_at"`
	CreatedAt     time.Time       `db:"created_at"     gorm:"column:created_at;not null;index:idx_payment_transactions_user_created,priority:2"`
	UpdatedAt     time.Time       `db:"updated_at"     gorm:"column:updated_at"`
}

func (PaymentTransactionEntity) TableName() string {
	return "payment_transactions"
}

func toPaymentEntity(m *model.PaymentTransaction) *PaymentTransactionEntity {
	if m == nil {
		return nil
	}
	return &PaymentTransactionEntity{
		ID:            m.ID,
		TransRef:      m.TransRef,
		UserID:        m.UserID,
		Amount:        m.Amount,
		Status:        m.Status,
		Method:        m.Method,
		SenderName:    m.SenderName,
		SenderAccount: m.SenderAccount,
		TransferredAt: m.TransferredAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.CreatedAt,
	}
}

func toPaymentModel(e *PaymentTransactionEntity) *model.PaymentTransaction {
	if e == nil {
		return nil
	}
	return &model.PaymentTransaction{
		ID:            e.ID,
		TransRef:      e.TransRef,
		UserID:        e.UserID,
		Amount:        e.Amount,
		Status:        e.Status,
		Method:        e.Method,
		SenderName:    e.SenderName,
		SenderAccount: e.SenderAccount,
		TransferredAt: e.TransferredAt,
		CreatedAt:     e.CreatedAt,
	}
}

func toPaymentModels(entities []*PaymentTransactionEntity) []*model.PaymentTransaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.PaymentTransaction, len(entities))
	for i, e := range entities {
		models[i] = toPaymentModel(e)
	}
	return models
}
