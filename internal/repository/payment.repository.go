package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/nimasrn/deposit-gateway/pkg/pg"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentRepository struct {
	*pg.DB
}

func NewPaymentRepository(db *pg.DB) *PaymentRepository {
	return &PaymentRepository{
		db,
	}
}

func (r *PaymentRepository) ExistsByTransRef(ctx context.Context, transRef string) (bool, error) {
	var count int64
	err := r.Read(ctx).
		Model(&PaymentTransactionEntity{}).
		Where("trans_ref = ?", transRef).
		Limit(1).
		Count(&count).
		Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create inserts the payment. A unique violation on trans_ref is reported as
// ErrDuplicateTransRef; callers inside a transaction must roll back on it.
func (r *PaymentRepository) Create(ctx context.Context, p *model.PaymentTransaction) (*model.PaymentTransaction, error) {
	entity := toPaymentEntity(p)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTransRef, p.TransRef)
		}
		return nil, err
	}

	return toPaymentModel(entity), nil
}

// SumSince returns the total of the user's completed payments created at or
// after since.
func (r *PaymentRepository) SumSince(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.Read(ctx).
		Model(&PaymentTransactionEntity{}).
		Select("SUM(amount)").
		Where("user_id = ? AND status = ? AND created_at >= ?", userID, model.PaymentStatusCompleted, since.UTC()).
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (r *PaymentRepository) List(ctx context.Context, f model.PaymentFilter) ([]*model.PaymentTransaction, int64, error) {
	filtered := func() *gorm.DB {
		q := r.Read(ctx).Model(&PaymentTransactionEntity{}).
			Where("user_id = ?", f.UserID)
		if f.From != nil {
			q = q.Where("created_at >= ?", f.From.UTC())
		}
		if f.To != nil {
			q = q.Where("created_at < ?", f.To.UTC())
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at ASC, id ASC"
	if f.Desc {
		order = "created_at DESC, id DESC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*PaymentTransactionEntity
	if err := filtered().Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toPaymentModels(entities), total, nil
}
