package notifier_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/nimasrn/deposit-gateway/internal/notifier"
	"github.com/nimasrn/deposit-gateway/internal/queue"
	"github.com/nimasrn/deposit-gateway/internal/services"
	"github.com/nimasrn/deposit-gateway/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink returns an error for the first `failures` calls.
type recordingSink struct {
	mu       sync.Mutex
	failures int32
	calls    atomic.Int32
	sent     []model.DepositNotification
}

func (s *recordingSink) Send(ctx context.Context, n model.DepositNotification) error {
	if s.calls.Add(1) <= s.failures {
		return errors.New("sink unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSink) Sent() []model.DepositNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.DepositNotification(nil), s.sent...)
}

func queueConfig(name string) queue.QueueConfig {
	return queue.QueueConfig{
		Name:              name,
		ConsumerGroup:     "notifier",
		MaxRetries:        5,
		VisibilityTimeout: 50 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		BatchSize:         10,
		EnableDLQ:         true,
	}
}

func notification(ref string) model.DepositNotification {
	return model.DepositNotification{UserID: 1, UserName: "somchai", Amount: helpers.Dec("2000"), TransRef: ref}
}

func TestProcessorDeliversOnce(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	sink := &recordingSink{}
	p := notifier.NewDepositProcessor(sink, notifier.NewIdempotencyService(adapter, notifier.DefaultIdempotencyConfig()))

	data, err := json.Marshal(notification("TX1"))
	require.NoError(t, err)
	msg := &queue.Message{ID: "1-0", Data: data}

	require.NoError(t, p.Process(context.Background(), msg))
	// redelivery of the same deposit
	require.NoError(t, p.Process(context.Background(), msg))

	assert.Len(t, sink.Sent(), 1)
	assert.Equal(t, int32(1), sink.calls.Load())
}

func TestProcessorRejectsMalformed(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	p := notifier.NewDepositProcessor(&recordingSink{}, notifier.NewIdempotencyService(adapter, notifier.DefaultIdempotencyConfig()))

	assert.Error(t, p.Process(context.Background(), &queue.Message{ID: "1-0", Data: []byte("{")}))
	assert.Error(t, p.Process(context.Background(), &queue.Message{ID: "2-0", Data: []byte(`{"userId":1}`)}))
}

func TestProcessorGivesUpAfterRetryBudget(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	cfg := notifier.DefaultIdempotencyConfig()
	cfg.MaxRetries = 2
	sink := &recordingSink{failures: 100}
	p := notifier.NewDepositProcessor(sink, notifier.NewIdempotencyService(adapter, cfg))

	data, _ := json.Marshal(notification("TX9"))
	msg := &queue.Message{ID: "1-0", Data: data}

	assert.Error(t, p.Process(context.Background(), msg))
	assert.Error(t, p.Process(context.Background(), msg))
	// budget spent, the message is acked without another send
	assert.NoError(t, p.Process(context.Background(), msg))
	assert.Equal(t, int32(2), sink.calls.Load())
}

func TestServiceConsumesStream(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)

	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := notifier.NewHTTPSink(srv.URL, time.Second)
	require.NoError(t, err)
	p := notifier.NewDepositProcessor(sink, notifier.NewIdempotencyService(adapter, notifier.DefaultIdempotencyConfig()))

	cfg := notifier.Config{
		Queue:             queueConfig("notifications"),
		Consumers:         2,
		Workers:           2,
		ProcessingTimeout: time.Second,
		ReportInterval:    20 * time.Millisecond,
	}
	svc := notifier.NewService(adapter, p, cfg)
	require.NoError(t, svc.Start())
	defer svc.Stop(time.Second)

	publisher, err := queue.NewQueue(adapter, queue.QueueConfig{Name: "notifications", ConsumerGroup: "notifier"})
	require.NoError(t, err)
	qn := services.NewQueueNotifier(publisher)

	for _, ref := range []string{"TX1", "TX2", "TX3"} {
		require.NoError(t, qn.Notify(context.Background(), notification(ref)))
	}
	// duplicate event for an already settled deposit
	require.NoError(t, qn.Notify(context.Background(), notification("TX1")))

	helpers.AssertEventually(t, 3*time.Second, func() bool {
		return svc.Metrics().Delivered == 4
	}, "all messages processed")
	assert.Equal(t, int32(3), received.Load())
}

func TestServiceRedeliversFailedNotification(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	sink := &recordingSink{failures: 1}
	p := notifier.NewDepositProcessor(sink, notifier.NewIdempotencyService(adapter, notifier.DefaultIdempotencyConfig()))

	svc := notifier.NewService(adapter, p, notifier.Config{
		Queue:   queueConfig("retrying"),
		Workers: 1,
	})
	require.NoError(t, svc.Start())
	defer svc.Stop(time.Second)

	publisher, err := queue.NewQueue(adapter, queue.QueueConfig{Name: "retrying", ConsumerGroup: "notifier"})
	require.NoError(t, err)
	_, err = publisher.PublishJSON(context.Background(), notification("TX5"), nil)
	require.NoError(t, err)

	helpers.AssertEventually(t, 3*time.Second, func() bool {
		return len(sink.Sent()) == 1
	}, "notification delivered after a retry")
	assert.Equal(t, int32(2), sink.calls.Load())
	assert.Equal(t, int64(1), svc.Metrics().Failed)
}
