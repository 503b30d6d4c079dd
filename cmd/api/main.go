package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/nimasrn/deposit-gateway/internal/config"
	"github.com/nimasrn/deposit-gateway/internal/handlers"
	"github.com/nimasrn/deposit-gateway/internal/queue"
	"github.com/nimasrn/deposit-gateway/internal/repository"
	"github.com/nimasrn/deposit-gateway/internal/services"
	"github.com/nimasrn/deposit-gateway/internal/verifier"
	xhttp "github.com/nimasrn/deposit-gateway/pkg/http"
	"github.com/nimasrn/deposit-gateway/pkg/logger"
	"github.com/nimasrn/deposit-gateway/pkg/pg"
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
	if err := cfg.ValidateAPI(); err != nil {
		logger.Error("invalid config", "error", err)
		return
	}
	loc, _ := cfg.Location()
	logger.Info("starting deposit api", "version", version, "commit", commit, "date", date, "timezone", loc.String())

	opt := xhttp.DefaultServerOption
	opt.MaxRequestBodySize = cfg.HttpMaxRequestBodySize
	opt.ReadTimeout = cfg.HttpServerReadTimeout
	opt.WriteTimeout = cfg.HttpServerWriteTimeout
	s := xhttp.NewServer(opt)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.CompressMiddleware(6))
	s.Router = xhttp.CreateDefaultRouter()

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}
	defer db.Close()

	redisAdap, err := redis.NewRedisAdapter("api", cfg.RedisUniversalKeyPrefix, cfg.Redis("deposit-api"))
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}
	defer redisAdap.Close()

	q, err := queue.NewQueue(redisAdap, cfg.NotificationQueue())
	if err != nil {
		logger.Error("failed creating notification queue", "error", err)
		return
	}

	slipVerifier, err := verifier.NewClient(verifier.Config{
		URL:              cfg.VerifierURL,
		APIKey:           cfg.VerifierAPIKey,
		Timeout:          cfg.VerifierTimeout,
		BreakerThreshold: 5,
	})
	if err != nil {
		logger.Error("failed creating verifier client", "error", err)
		return
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.MetricsListenAddr, cfg.MetricsPath)

	dispatcher := services.NewDispatcher(services.NewQueueNotifier(q), cfg.NotifyTimeout)
	depositService := services.NewDepositService(services.DepositDeps{
		Verifier: slipVerifier,
		Receiver: services.ReceiverIdentity{
			NameTH:      cfg.ReceiverNameTH,
			NameEN:      cfg.ReceiverNameEN,
			AccountType: cfg.ReceiverAccountType,
			Account:     cfg.ReceiverAccount,
		},
		Users:      repository.NewUserRepository(db),
		Limits:     repository.NewDepositLimitRepository(db),
		Payments:   repository.NewPaymentRepository(db),
		Balances:   repository.NewBalanceRepository(db),
		Tx:         db,
		Location:   loc,
		Dispatcher: dispatcher,
	})

	depositHandler := handlers.NewDepositHandler(depositService)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"postgres": db,
		"redis":    redisAdap,
	}, func() interface{} {
		return map[string]interface{}{"verifier": slipVerifier.Stats()}
	})

	g := s.Router.Group("/api/v1")
	handlers.RegisterDepositRoutes(g, depositHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
			c <- syscall.SIGTERM
		}
	}()

	<-c
	s.Shutdown()
	dispatcher.Wait()
	logger.Info("deposit api stopped")
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
