package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/nimasrn/deposit-gateway/internal/queue"
	"github.com/nimasrn/deposit-gateway/pkg/logger"
	"github.com/nimasrn/deposit-gateway/pkg/prom"
)

type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
}

// DepositProcessor sends one queued deposit notification to the sink.
type DepositProcessor struct {
	sink        Sink
	idempotency *IdempotencyService
}

func NewDepositProcessor(sink Sink, idempotency *IdempotencyService) *DepositProcessor {
	return &DepositProcessor{
		sink:        sink,
		idempotency: idempotency,
	}
}

// Process returns nil when the message must be acked: delivered, already
// delivered or out of retries. Any error leaves it pending for redelivery.
func (p *DepositProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var n model.DepositNotification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		logger.Error("malformed notification", "id", msg.ID, "error", err)
		prom.IncNotification("malformed")
		return fmt.Errorf("malformed notification %s: %w", msg.ID, err)
	}
	if n.TransRef == "" {
		logger.Error("notification without trans ref", "id", msg.ID)
		prom.IncNotification("malformed")
		return fmt.Errorf("notification %s has no trans ref", msg.ID)
	}

	log := logger.GetLogger().With("trans_ref", n.TransRef, "message_id", msg.ID)

	attempt, err := p.idempotency.Acquire(ctx, n.TransRef)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyNotified):
			log.Info("deposit already notified, skipping")
			prom.IncNotification("duplicate")
			return nil
		case errors.Is(err, ErrMaxRetriesExceeded):
			log.Error("giving up on deposit notification", "error", err)
			prom.IncNotification("dropped")
			return nil
		case errors.Is(err, ErrLockAcquireFailed):
			return fmt.Errorf("notification %s is being sent by another consumer", n.TransRef)
		}
		return err
	}
	defer func() {
		_ = p.idempotency.Release(ctx, attempt)
	}()

	if err := p.sink.Send(ctx, n); err != nil {
		p.idempotency.MarkFailure(ctx, attempt, err)
		prom.IncNotification("failed")
		return err
	}

	if err := p.idempotency.MarkSuccess(ctx, attempt); err != nil {
		// sent already; a redelivery may announce it twice
		log.Error("failed to mark notification as sent", "error", err)
	}
	prom.IncNotification("delivered")
	log.Info("deposit notification delivered", "user_id", n.UserID, "retry_count", attempt.RetryCount)
	return nil
}
