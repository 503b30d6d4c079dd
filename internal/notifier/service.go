package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/deposit-gateway/internal/queue"
	"github.com/nimasrn/deposit-gateway/pkg/logger"
	"github.com/nimasrn/deposit-gateway/pkg/prom"
	"github.com/nimasrn/deposit-gateway/pkg/redis"
	"github.com/nimasrn/deposit-gateway/pkg/worker"
)

type Config struct {
	Queue queue.QueueConfig
	// Consumers is the number of stream readers. Each one blocks on its batch
	// while the workers process it.
	Consumers         int
	Workers           int
	ProcessingTimeout time.Duration
	ReportInterval    time.Duration
}

// Service consumes the notification stream and feeds a worker pool.
type Service struct {
	adapter   redis.RedisAdapter
	config    Config
	processor Processor
	queues    []*queue.Queue
	metrics   *ServiceMetrics
	worker    *worker.WorkerManager
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewService(adapter redis.RedisAdapter, processor Processor, config Config) *Service {
	if config.Consumers <= 0 {
		config.Consumers = 1
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = 10 * time.Second
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		adapter:   adapter,
		config:    config,
		processor: processor,
		metrics:   NewServiceMetrics(),
		worker:    worker.NewWorkerManager(config.Workers*2, config.Workers),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Service) Start() error {
	logger.Info("starting notifier service", "queue", s.config.Queue.Name, "consumers", s.config.Consumers, "workers", s.config.Workers)

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(s.ctx); err != nil {
			logger.Info("worker manager stopped", "reason", err)
		}
	}()

	base := s.config.Queue.ConsumerName
	if base == "" {
		base = fmt.Sprintf("notifier-%d", time.Now().UnixNano())
	}
	for i := 0; i < s.config.Consumers; i++ {
		qc := s.config.Queue
		qc.ConsumerName = fmt.Sprintf("%s-%d", base, i)

		q, err := queue.NewQueue(s.adapter, qc)
		if err != nil {
			return fmt.Errorf("failed to create queue consumer %d: %w", i, err)
		}
		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}
		s.queues = append(s.queues, q)
	}

	s.wg.Add(1)
	go s.metricsReporter()

	logger.Info("notifier service started")
	return nil
}

func (s *Service) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) reportMetrics() {
	stats := s.metrics.GetStats()
	logger.Info("notifier metrics",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"worker_backlog", s.worker.GetUnreadCount(),
		"rate_per_second", stats.RatePerSecond,
		"avg_duration_ms", stats.AvgDuration.Milliseconds(),
		"uptime", stats.Uptime.Round(time.Second))

	if len(s.queues) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// all consumers share one stream
	qStats, err := s.queues[0].GetStats(ctx)
	if err != nil {
		logger.Warn("queue stats unavailable", "error", err)
		return
	}
	prom.SetNotificationQueue("length", qStats.TotalMessages)
	prom.SetNotificationQueue("pending", qStats.PendingMessages)
	prom.SetNotificationQueue("dead", qStats.DeadLetters)
	if qStats.DeadLetters > 0 {
		logger.Warn("notifications in dead letter queue", "count", qStats.DeadLetters, "queue", s.queues[0].DeadLetterName())
	}
}

func (s *Service) Stop(timeout time.Duration) {
	logger.Info("shutting down notifier service")

	for i, q := range s.queues {
		if err := q.Stop(timeout); err != nil {
			logger.Error("error stopping queue consumer", "consumer", i, "error", err)
		}
	}

	s.cancel()
	s.wg.Wait()
	s.reportMetrics()

	logger.Info("notifier service stopped")
}

func (s *Service) Metrics() Stats {
	return s.metrics.GetStats()
}

type job struct {
	msg    *queue.Message
	result chan error
	ctx    context.Context
}

// messageHandler hands the message to the pool and waits for its outcome,
// which decides the ack.
func (s *Service) messageHandler(ctx context.Context, msg *queue.Message) error {
	msgCtx, cancel := context.WithTimeout(ctx, s.config.ProcessingTimeout)
	defer cancel()

	j := &job{msg: msg, result: make(chan error, 1), ctx: msgCtx}
	if err := s.worker.Enqueue(msgCtx, j); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	select {
	case err := <-j.result:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker: %w", msgCtx.Err())
	}
}

func (s *Service) workerHandler(_ context.Context, workerIndex int, raw interface{}) {
	j, ok := raw.(*job)
	if !ok {
		logger.Error("invalid job type in worker", "worker", workerIndex)
		return
	}

	if j.ctx.Err() != nil {
		logger.Warn("job expired before processing", "worker", workerIndex, "id", j.msg.ID)
		return
	}

	start := time.Now()
	err := s.processor.Process(j.ctx, j.msg)
	if err != nil {
		s.metrics.RecordFailure()
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}

	// buffered, never blocks
	j.result <- err
}
