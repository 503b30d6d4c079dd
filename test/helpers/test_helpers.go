package helpers

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/nimasrn/deposit-gateway/internal/repository"
	"github.com/nimasrn/deposit-gateway/pkg/pg"
	"github.com/nimasrn/deposit-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// SetupTestDB opens a private in-memory sqlite database with the full schema.
// One connection serializes transactions like the balance row lock does on
// postgres.
func SetupTestDB(t *testing.T) *pg.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:helpers_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), pg.GormConfig(false))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(repository.Models()...))
	return pg.New(nil, db)
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)

	adapter, err := redis.NewRedisAdapter(fmt.Sprintf("test-%d", time.Now().UnixNano()), "dg:", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	return mr, adapter
}

// CreateTestUser creates a user with a zero balance. A nil limit leaves the
// user without a tier.
func CreateTestUser(t *testing.T, db *pg.DB, name string, limit *decimal.Decimal) *model.User {
	t.Helper()
	ctx := context.Background()

	var limitID *int64
	if limit != nil {
		tier, err := repository.NewDepositLimitRepository(db).Upsert(ctx, name+"-tier", *limit)
		require.NoError(t, err)
		limitID = &tier.ID
	}

	user, err := repository.NewUserRepository(db).Create(ctx, name, limitID)
	require.NoError(t, err)
	return user
}

func CreateTestPayment(t *testing.T, db *pg.DB, userID int64, ref string, amount decimal.Decimal, at time.Time) *model.PaymentTransaction {
	t.Helper()
	p, err := repository.NewPaymentRepository(db).Create(context.Background(), &model.PaymentTransaction{
		TransRef:  ref,
		UserID:    userID,
		Amount:    amount,
		Status:    model.PaymentStatusCompleted,
		Method:    model.PaymentMethodBank,
		CreatedAt: at.UTC(),
	})
	require.NoError(t, err)
	return p
}

func Balance(t *testing.T, db *pg.DB, userID int64) decimal.Decimal {
	t.Helper()
	b, err := repository.NewBalanceRepository(db).Get(context.Background(), userID)
	require.NoError(t, err)
	return b.Balance
}

func CountPayments(t *testing.T, db *pg.DB, transRef string) int64 {
	t.Helper()
	var n int64
	err := db.Read(context.Background()).
		Model(&repository.PaymentTransactionEntity{}).
		Where("trans_ref = ?", transRef).
		Count(&n).Error
	require.NoError(t, err)
	return n
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func Ptr[T any](v T) *T {
	return &v
}
