package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/nimasrn/deposit-gateway/pkg/logger"
)

type Notifier interface {
	Notify(ctx context.Context, n model.DepositNotification) error
}

// Dispatcher fires notifications after the response path is done with them.
// Failures are logged and never reach the caller.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(notifier Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{notifier: notifier, timeout: timeout}
}

func (d *Dispatcher) Dispatch(n model.DepositNotification) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("notification panic recovered", "trans_ref", n.TransRef, "error", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.notifier.Notify(ctx, n); err != nil {
			logger.Error("failed to send deposit notification", "user_id", n.UserID, "trans_ref", n.TransRef, "error", err)
			return
		}
		logger.Debug("deposit notification sent", "trans_ref", n.TransRef)
	}()
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

type Publisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// QueueNotifier hands notifications to the stream read by the notifier
// service.
type QueueNotifier struct {
	publisher Publisher
}

func NewQueueNotifier(p Publisher) *QueueNotifier {
	return &QueueNotifier{publisher: p}
}

func (q *QueueNotifier) Notify(ctx context.Context, n model.DepositNotification) error {
	_, err := q.publisher.PublishJSON(ctx, n, map[string]string{
		"trans_ref": n.TransRef,
		"user_id":   strconv.FormatInt(n.UserID, 10),
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
