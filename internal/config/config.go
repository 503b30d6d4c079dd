package config

import (
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/deposit-gateway/internal/queue"
	"github.com/nimasrn/deposit-gateway/pkg/logger"
	"github.com/nimasrn/deposit-gateway/pkg/pg"
	"github.com/nimasrn/deposit-gateway/pkg/redis"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every setting the binaries read. Nothing else in the module
// reads the environment directly.
type Config struct {
	AppEnv   string `env:"APP_ENV,default=dev"`
	AppName  string `env:"APP_NAME,default=deposit_gateway"`
	AppDebug bool   `env:"APP_DEBUG,default=false"`

	HttpListenAddr         string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpServerReadTimeout  time.Duration `env:"HTTP_SERVER_READ_TIMEOUT,default=30s"`
	HttpServerWriteTimeout time.Duration `env:"HTTP_SERVER_WRITE_TIMEOUT,default=30s"`
	HttpMaxRequestBodySize int           `env:"HTTP_MAX_REQUEST_BODY_SIZE,default=16777216"`

	MetricsListenAddr string `env:"METRICS_LISTEN_ADDR,default=:9100"`
	MetricsPath       string `env:"METRICS_PATH,default=/metrics"`
	PromNamespace     string `env:"PROM_NAMESPACE,default=deposit_gateway"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`
	PostgresMaxOpenConns  int    `env:"POSTGRES_MAX_OPEN_CONNS,default=20"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE,default=0"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=dg:"`

	LogLevel string `env:"LOG_LEVEL"`

	VerifierURL     string        `env:"VERIFIER_URL"`
	VerifierAPIKey  string        `env:"VERIFIER_API_KEY"`
	VerifierTimeout time.Duration `env:"VERIFIER_TIMEOUT,default=10s"`

	// merchant account every slip must be paid into
	ReceiverNameTH      string `env:"RECEIVER_NAME_TH"`
	ReceiverNameEN      string `env:"RECEIVER_NAME_EN"`
	ReceiverAccountType string `env:"RECEIVER_ACCOUNT_TYPE,default=BANKAC"`
	ReceiverAccount     string `env:"RECEIVER_ACCOUNT"`

	DepositTimezone string `env:"DEPOSIT_TIMEZONE,default=Asia/Bangkok"`

	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT,default=5s"`
	NotifySinkURL string        `env:"NOTIFY_SINK_URL"`
	NotifyWorkers int           `env:"NOTIFY_WORKERS,default=4"`

	QueueName              string        `env:"QUEUE_NAME,default=deposits:notifications"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=notifier"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=5"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=30s"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=20"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	c := &Config{}
	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Config")
	}

	if c.LogLevel != "" {
		if err := logger.SetLevel(c.LogLevel); err != nil {
			logger.Warn("ignoring invalid LOG_LEVEL", "value", c.LogLevel)
		}
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// Set replaces the global config. Used by tests and tools that build the
// config in code.
func Set(c *Config) {
	config = c
}

// ValidateAPI reports every setting the deposit API cannot start without.
func (c *Config) ValidateAPI() error {
	var missing []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	check("POSTGRES_WRITE_HOST", c.PostgresWriteHost)
	check("POSTGRES_WRITE_DBNAME", c.PostgresWriteDatabase)
	check("VERIFIER_URL", c.VerifierURL)
	check("RECEIVER_NAME_TH", c.ReceiverNameTH)
	check("RECEIVER_NAME_EN", c.ReceiverNameEN)
	check("RECEIVER_ACCOUNT_TYPE", c.ReceiverAccountType)
	check("RECEIVER_ACCOUNT", c.ReceiverAccount)

	if len(missing) > 0 {
		return errors.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves DEPOSIT_TIMEZONE, the zone whose midnight starts a new
// deposit day.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DepositTimezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid DEPOSIT_TIMEZONE %q", c.DepositTimezone)
	}
	return loc, nil
}

func (c *Config) PostgresRead() pg.Config {
	if c.PostgresReadHost == "" {
		return c.PostgresWrite()
	}
	return pg.Config{
		User:         c.PostgresReadUser,
		Host:         c.PostgresReadHost,
		Port:         c.PostgresReadPort,
		Password:     c.PostgresReadPassword,
		Database:     c.PostgresReadDatabase,
		MaxOpenConns: c.PostgresMaxOpenConns,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		User:         c.PostgresWriteUser,
		Host:         c.PostgresWriteHost,
		Port:         c.PostgresWritePort,
		Password:     c.PostgresWritePassword,
		Database:     c.PostgresWriteDatabase,
		MaxOpenConns: c.PostgresMaxOpenConns,
	}
}

func (c *Config) Redis(clientName string) *redis.Options {
	return &redis.Options{
		Addrs:      []string{c.RedisAddr},
		ClientName: clientName,
		DB:         c.RedisDatabase,
		Username:   c.RedisUsername,
		Password:   c.RedisPassword,
	}
}

// NotificationQueue is the stream the API publishes settled deposits to and
// the notifier consumes.
func (c *Config) NotificationQueue() queue.QueueConfig {
	return queue.QueueConfig{
		Name:              c.QueueName,
		ConsumerGroup:     c.QueueConsumerGroup,
		ConsumerName:      c.QueueConsumerName,
		MaxRetries:        c.QueueMaxRetries,
		VisibilityTimeout: c.QueueVisibilityTimeout,
		PollInterval:      c.QueuePollInterval,
		BatchSize:         c.QueueBatchSize,
		MaxLen:            c.QueueMaxLen,
		EnableDLQ:         c.QueueEnableDLQ,
	}
}
