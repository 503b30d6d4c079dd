// Package queue carries deposit notifications from the API to the notifier
// over a Redis stream.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nimasrn/deposit-gateway/pkg/logger"
	"github.com/nimasrn/deposit-gateway/pkg/redis"
)

// Message is one stream entry. Data holds a JSON deposit notification and
// Metadata the trans_ref and user_id it was published with.
type Message struct {
	ID        string
	Data      []byte
	Metadata  map[string]string
	Timestamp time.Time
	// Attempts counts earlier deliveries of this entry, 0 on the first one.
	Attempts int
	acked    bool
	nacked   bool
	queue    *Queue
}

// Ack acknowledges the message before the handler returns.
func (m *Message) Ack() error {
	if m.acked {
		return errors.New("message already acknowledged")
	}
	if m.nacked {
		return errors.New("message already rejected")
	}

	m.acked = true
	return m.queue.ackMessage(context.Background(), m.ID)
}

// Nack leaves the message pending even if the handler returns nil. It is
// redelivered once the visibility timeout passes.
func (m *Message) Nack() error {
	if m.acked {
		return errors.New("message already acknowledged")
	}
	if m.nacked {
		return errors.New("message already rejected")
	}

	m.nacked = true
	return nil
}

// MessageHandler delivers one notification. A nil return acks it, an error
// leaves it pending for redelivery.
type MessageHandler func(ctx context.Context, msg *Message) error

// QueueConfig is filled from the QUEUE_* settings. Zero values take the
// defaults applied by NewQueue.
type QueueConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

// Queue is the deposit notification stream, read by one consumer group of
// notifier instances. Entries are delivered at least once; entries delivered
// MaxRetries times go to <name>:dlq.
type Queue struct {
	adapter    redis.RedisAdapter
	config     QueueConfig
	handler    MessageHandler
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	processing map[string]*Message
}

type QueueStats struct {
	TotalMessages   int64
	PendingMessages int64
	ConsumerCount   int64
	DeadLetters     int64
}

func NewQueue(adapter redis.RedisAdapter, config QueueConfig) (*Queue, error) {
	if config.Name == "" {
		return nil, errors.New("stream name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "notifier"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("notifier-%d", time.Now().UnixNano())
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		adapter:    adapter,
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		processing: make(map[string]*Message),
	}

	if err := adapter.XGroupCreateMkStream(ctx, config.Name, config.ConsumerGroup, "0"); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return q, nil
}

func (q *Queue) Name() string {
	return q.config.Name
}

func (q *Queue) DeadLetterName() string {
	return q.config.Name + ":dlq"
}

// Publish appends an entry. Metadata keys are stored with a meta_ prefix.
func (q *Queue) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		"data":      string(data),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range metadata {
		values["meta_"+k] = v
	}

	id, err := q.adapter.XAdd(ctx, q.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish notification: %w", err)
	}

	if q.config.MaxLen > 0 {
		if err := q.adapter.XTrimApprox(ctx, q.config.Name, q.config.MaxLen); err != nil {
			logger.Warn("failed to trim notification stream", "stream", q.config.Name, "error", err)
		}
	}

	return id, nil
}

func (q *Queue) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode notification: %w", err)
	}
	return q.Publish(ctx, jsonData, metadata)
}

// Consume starts the poll loop. The handler runs on the loop goroutine, so a
// handler that fans work out must wait for it before returning.
func (q *Queue) Consume(handler MessageHandler) error {
	if handler == nil {
		return errors.New("notification handler is required")
	}

	q.handler = handler
	q.wg.Add(1)
	go q.consumeLoop()

	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.processMessages()
			q.claimStuckMessages()
		}
	}
}

func (q *Queue) processMessages() {
	messages, err := q.adapter.XReadGroup(q.ctx,
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.Name,
		">",
		q.config.BatchSize,
		0,
	)
	if err != nil {
		if !errors.Is(err, redis.NilError) && q.ctx.Err() == nil {
			logger.Error("failed to read notification stream", "stream", q.config.Name, "error", err)
		}
		return
	}

	for _, streamMsg := range messages {
		msg := q.streamMessageToMessage(streamMsg)
		q.handleMessage(msg)
	}
}

// claimStuckMessages takes over entries idle longer than the visibility
// timeout. The delivery count kept by Redis is the retry counter.
func (q *Queue) claimStuckMessages() {
	pendingExt, err := q.adapter.XPendingExt(q.ctx, q.config.Name, q.config.ConsumerGroup, "-", "+", 100)
	if err != nil || len(pendingExt) == 0 {
		return
	}

	deliveries := make(map[string]int64)
	var idsToReclaim []string
	for _, p := range pendingExt {
		if p.Idle >= q.config.VisibilityTimeout {
			idsToReclaim = append(idsToReclaim, p.ID)
			deliveries[p.ID] = p.RetryCount
		}
	}
	if len(idsToReclaim) == 0 {
		return
	}

	messages, err := q.adapter.XClaim(q.ctx,
		q.config.Name,
		q.config.ConsumerGroup,
		q.config.ConsumerName,
		q.config.VisibilityTimeout,
		idsToReclaim...,
	)
	if err != nil {
		if q.ctx.Err() == nil {
			logger.Error("failed to reclaim idle notifications", "stream", q.config.Name, "error", err)
		}
		return
	}

	for _, streamMsg := range messages {
		msg := q.streamMessageToMessage(streamMsg)
		msg.Attempts = int(deliveries[msg.ID])
		q.handleMessage(msg)
	}
}

func (q *Queue) handleMessage(msg *Message) {
	q.mu.Lock()
	q.processing[msg.ID] = msg
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.processing, msg.ID)
		q.mu.Unlock()
	}()

	if msg.Attempts >= q.config.MaxRetries {
		logger.Warn("notification exceeded max deliveries", "stream", q.config.Name, "id", msg.ID,
			"trans_ref", msg.Metadata["trans_ref"], "attempts", msg.Attempts)
		q.moveToDeadLetterQueue(msg)
		_ = q.ackMessage(q.ctx, msg.ID)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.handler(ctx, msg); err != nil {
		logger.Warn("notification delivery failed", "stream", q.config.Name, "id", msg.ID,
			"trans_ref", msg.Metadata["trans_ref"], "attempts", msg.Attempts, "error", err)
		return
	}
	if msg.acked || msg.nacked {
		return
	}
	if err := q.ackMessage(q.ctx, msg.ID); err != nil {
		logger.Error("failed to ack notification", "stream", q.config.Name, "id", msg.ID,
			"trans_ref", msg.Metadata["trans_ref"], "error", err)
	}
}

func (q *Queue) ackMessage(ctx context.Context, messageID string) error {
	return q.adapter.XAck(ctx, q.config.Name, q.config.ConsumerGroup, messageID)
}

func (q *Queue) moveToDeadLetterQueue(msg *Message) {
	if !q.config.EnableDLQ {
		return
	}

	values := map[string]interface{}{
		"data":           string(msg.Data),
		"original_id":    msg.ID,
		"attempts":       msg.Attempts,
		"failed_at":      time.Now().UTC().Format(time.RFC3339Nano),
		"original_queue": q.config.Name,
	}
	for k, v := range msg.Metadata {
		values["meta_"+k] = v
	}

	if _, err := q.adapter.XAdd(q.ctx, q.DeadLetterName(), values); err != nil {
		logger.Error("failed to dead-letter notification", "stream", q.config.Name, "id", msg.ID,
			"trans_ref", msg.Metadata["trans_ref"], "error", err)
	}
}

func (q *Queue) streamMessageToMessage(streamMsg redis.StreamMessage) *Message {
	msg := &Message{
		ID:       streamMsg.ID,
		Metadata: make(map[string]string),
		queue:    q,
	}

	for k, v := range streamMsg.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch {
		case k == "data":
			msg.Data = []byte(s)
		case k == "timestamp":
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				msg.Timestamp = ts
			}
		case strings.HasPrefix(k, "meta_"):
			msg.Metadata[strings.TrimPrefix(k, "meta_")] = s
		}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	return msg
}

// Stop ends the poll loop and waits for the notification in flight.
func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("timeout waiting for notification consumer to stop")
	}
}

// GetStats reports stream length, pending deliveries and dead letters for
// the notifier health report.
func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	totalMessages, err := q.adapter.XLen(ctx, q.config.Name)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{TotalMessages: totalMessages}

	if pending, err := q.adapter.XPending(ctx, q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingMessages = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}

	if q.config.EnableDLQ {
		if n, err := q.adapter.XLen(ctx, q.DeadLetterName()); err == nil {
			stats.DeadLetters = n
		}
	}

	return stats, nil
}
