package repository

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/nimasrn/deposit-gateway/pkg/pg"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

type testDB struct {
	*pg.DB
	rawDB *gorm.DB
}

// setupTestDB opens a private in-memory sqlite database. A single connection
// keeps every query on the same database and serializes transactions the way
// row locks do on postgres.
func setupTestDB(t *testing.T) *testDB {
	dsn := fmt.Sprintf("file:repo_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), pg.GormConfig(false))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(Models()...)
	require.NoError(t, err)

	return &testDB{
		DB:    pg.New(nil, db),
		rawDB: db,
	}
}

func (db *testDB) createUser(t *testing.T, name string, limit *decimal.Decimal) *UserEntity {
	var limitID *int64
	if limit != nil {
		tier := &DepositLimitEntity{Name: name + "-tier", DailyLimit: *limit}
		require.NoError(t, db.rawDB.Create(tier).Error)
		limitID = &tier.ID
	}
	user := &UserEntity{Name: name, DepositLimitID: limitID}
	require.NoError(t, db.rawDB.Create(user).Error)
	require.NoError(t, db.rawDB.Create(&UserBalanceEntity{UserID: user.ID, Balance: decimal.Zero}).Error)
	return user
}
