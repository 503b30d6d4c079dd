package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceRepository_Increment(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBalanceRepository(db.DB)
	ctx := context.Background()
	user := db.createUser(t, "alice", nil)

	t.Run("adds in place", func(t *testing.T) {
		require.NoError(t, repo.Increment(ctx, user.ID, decimal.NewFromInt(1000)))
		require.NoError(t, repo.Increment(ctx, user.ID, decimal.RequireFromString("250.50")))

		b, err := repo.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, b.Balance.Equal(decimal.RequireFromString("1250.50")), "got %s", b.Balance)
	})

	t.Run("missing row", func(t *testing.T) {
		err := repo.Increment(ctx, 9999, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrBalanceNotFound)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		other := db.createUser(t, "bob", nil)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, repo.Increment(ctx, other.ID, decimal.NewFromInt(10)))
			}()
		}
		wg.Wait()

		b, err := repo.Get(ctx, other.ID)
		require.NoError(t, err)
		assert.True(t, b.Balance.Equal(decimal.NewFromInt(100)), "got %s", b.Balance)
	})
}

func TestBalanceRepository_LockForUpdate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBalanceRepository(db.DB)
	ctx := context.Background()
	user := db.createUser(t, "alice", nil)

	err := repo.WithinTransaction(ctx, func(ctx context.Context) error {
		b, err := repo.LockForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}
		assert.True(t, b.Balance.IsZero())
		return repo.Increment(ctx, user.ID, decimal.NewFromInt(5))
	})
	require.NoError(t, err)

	_, err = repo.LockForUpdate(ctx, 9999)
	assert.ErrorIs(t, err, ErrBalanceNotFound)
}

func TestBalanceRepository_EnsureExists(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBalanceRepository(db.DB)
	ctx := context.Background()
	user := db.createUser(t, "alice", nil)

	require.NoError(t, repo.Increment(ctx, user.ID, decimal.NewFromInt(7)))
	// existing row is left untouched
	require.NoError(t, repo.EnsureExists(ctx, user.ID))
	b, err := repo.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(7)))

	require.NoError(t, repo.EnsureExists(ctx, 42))
	b, err = repo.Get(ctx, 42)
	require.NoError(t, err)
	assert.True(t, b.Balance.IsZero())
}
