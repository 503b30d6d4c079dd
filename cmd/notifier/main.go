package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nimasrn/deposit-gateway/internal/config"
	"github.com/nimasrn/deposit-gateway/internal/notifier"
	"github.com/nimasrn/deposit-gateway/pkg/logger"
	"github.com/nimasrn/deposit-gateway/pkg/prom"
	"github.com/nimasrn/deposit-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer logger.Sync()

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting deposit notifier", "version", version, "commit", commit, "date", date)

	redisAdap, err := redis.NewRedisAdapter("notifier", cfg.RedisUniversalKeyPrefix, cfg.Redis("deposit-notifier"))
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}
	defer redisAdap.Close()

	var sink notifier.Sink = notifier.LogSink{}
	if cfg.NotifySinkURL != "" {
		httpSink, err := notifier.NewHTTPSink(cfg.NotifySinkURL, cfg.NotifyTimeout)
		if err != nil {
			logger.Error("failed to create notification sink", "error", err)
			return
		}
		sink = httpSink
	} else {
		logger.Warn("NOTIFY_SINK_URL is empty, notifications are only logged")
	}

	idempotency := notifier.NewIdempotencyService(redisAdap, notifier.DefaultIdempotencyConfig())
	service := notifier.NewService(redisAdap, notifier.NewDepositProcessor(sink, idempotency), notifier.Config{
		Queue:             cfg.NotificationQueue(),
		Consumers:         1,
		Workers:           cfg.NotifyWorkers,
		ProcessingTimeout: cfg.NotifyTimeout * 2,
	})

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.MetricsListenAddr, cfg.MetricsPath)

	if err := service.Start(); err != nil {
		logger.Error("failed to start notifier", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	service.Stop(cfg.QueueVisibilityTimeout)
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.HasPrefix(v, "--env=") {
			path := strings.TrimPrefix(v, "--env=")
			if _, err := os.Stat(path); err != nil {
				logger.Error("failed to open the passed env file", "error", err)
				return ""
			}
			return path
		}
	}
	return ""
}
