package notifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/deposit-gateway/pkg/logger"
	"github.com/nimasrn/deposit-gateway/pkg/redis"
)

var (
	ErrAlreadyNotified    = errors.New("deposit already notified")
	ErrLockAcquireFailed  = errors.New("failed to acquire notification lock")
	ErrMaxRetriesExceeded = errors.New("maximum notification retries exceeded")
)

type IdempotencyConfig struct {
	LockTTL      time.Duration
	ProcessedTTL time.Duration
	MaxRetries   int

	RetryKeyPrefix     string
	LockKeyPrefix      string
	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		ProcessedTTL:       7 * 24 * time.Hour,
		MaxRetries:         5,
		RetryKeyPrefix:     "notify:retry:",
		LockKeyPrefix:      "notify:lock:",
		ProcessedKeyPrefix: "notify:done:",
	}
}

// IdempotencyService makes sure one settled deposit is announced once even
// when the stream redelivers it or two consumers pick it up.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(adapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  adapter,
		config: config,
	}
}

type Attempt struct {
	TransRef     string
	RetryCount   int
	lockAcquired bool
}

func (a *Attempt) IsRetry() bool {
	return a.RetryCount > 0
}

// Acquire checks the processed marker and the retry budget, then takes the
// short lived lock for transRef.
func (s *IdempotencyService) Acquire(ctx context.Context, transRef string) (*Attempt, error) {
	exists, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+transRef)
	if err != nil {
		// a failed lookup risks a duplicate message, not a lost one
		logger.Warn("failed to check notified marker", "trans_ref", transRef, "error", err)
	} else if exists > 0 {
		return nil, ErrAlreadyNotified
	}

	retryCount, err := s.RetryCount(ctx, transRef)
	if err != nil {
		logger.Warn("failed to read retry counter", "trans_ref", transRef, "error", err)
	}
	if retryCount >= s.config.MaxRetries {
		return nil, fmt.Errorf("%w: trans_ref=%s, retries=%d", ErrMaxRetriesExceeded, transRef, retryCount)
	}

	lockValue := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	acquired, err := s.redis.SetNX(ctx, s.config.LockKeyPrefix+transRef, lockValue, s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return nil, ErrLockAcquireFailed
	}

	logger.Debug("notification lock acquired", "trans_ref", transRef, "retry_count", retryCount)
	return &Attempt{TransRef: transRef, RetryCount: retryCount, lockAcquired: true}, nil
}

// MarkSuccess sets the long lived processed marker and clears the lock and
// the retry counter.
func (s *IdempotencyService) MarkSuccess(ctx context.Context, a *Attempt) error {
	if err := s.redis.Set(ctx, s.config.ProcessedKeyPrefix+a.TransRef, []byte("1"), s.config.ProcessedTTL); err != nil {
		return fmt.Errorf("failed to mark as notified: %w", err)
	}

	if err := s.redis.Del(ctx, s.config.LockKeyPrefix+a.TransRef); err != nil {
		logger.Warn("failed to clean up lock", "trans_ref", a.TransRef, "error", err)
	}
	if err := s.redis.Del(ctx, s.config.RetryKeyPrefix+a.TransRef); err != nil {
		logger.Warn("failed to clean up retry counter", "trans_ref", a.TransRef, "error", err)
	}
	a.lockAcquired = false
	return nil
}

// MarkFailure bumps the retry counter and frees the lock for the next
// delivery.
func (s *IdempotencyService) MarkFailure(ctx context.Context, a *Attempt, reason error) {
	next := a.RetryCount + 1
	if err := s.redis.Set(ctx, s.config.RetryKeyPrefix+a.TransRef, []byte(strconv.Itoa(next)), s.config.ProcessedTTL); err != nil {
		logger.Error("failed to increment retry counter", "trans_ref", a.TransRef, "error", err)
	}
	_ = s.Release(ctx, a)

	logger.Warn("notification failed, will retry",
		"trans_ref", a.TransRef,
		"retry_count", next,
		"max_retries", s.config.MaxRetries,
		"reason", reason)
}

func (s *IdempotencyService) Release(ctx context.Context, a *Attempt) error {
	if a == nil || !a.lockAcquired {
		return nil
	}
	if err := s.redis.Del(ctx, s.config.LockKeyPrefix+a.TransRef); err != nil {
		logger.Warn("failed to release lock", "trans_ref", a.TransRef, "error", err)
		return err
	}
	a.lockAcquired = false
	return nil
}

func (s *IdempotencyService) RetryCount(ctx context.Context, transRef string) (int, error) {
	b, err := s.redis.Get(ctx, s.config.RetryKeyPrefix+transRef)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return 0, nil
		}
		return 0, err
	}
	n, _ := strconv.Atoi(string(b))
	return n, nil
}

func (s *IdempotencyService) IsNotified(ctx context.Context, transRef string) (bool, error) {
	exists, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+transRef)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
