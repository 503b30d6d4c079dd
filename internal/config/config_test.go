package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := `POSTGRES_WRITE_HOST=db
POSTGRES_WRITE_DBNAME=deposits
VERIFIER_URL=http://verifier.local
VERIFIER_TIMEOUT=3s
RECEIVER_NAME_TH=บริษัท ทองคำ จำกัด
RECEIVER_NAME_EN=GOLD CO LTD
RECEIVER_ACCOUNT=123-4-56789-0
QUEUE_MAX_RETRIES=7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Cleanup(func() {
		for _, k := range []string{"POSTGRES_WRITE_HOST", "POSTGRES_WRITE_DBNAME", "VERIFIER_URL", "VERIFIER_TIMEOUT",
			"RECEIVER_NAME_TH", "RECEIVER_NAME_EN", "RECEIVER_ACCOUNT", "QUEUE_MAX_RETRIES"} {
			_ = os.Unsetenv(k)
		}
	})

	require.NoError(t, Load(path))
	c := Get()

	assert.Equal(t, "db", c.PostgresWriteHost)
	assert.Equal(t, 3*time.Second, c.VerifierTimeout)
	assert.Equal(t, 7, c.QueueMaxRetries)
	assert.Equal(t, "GOLD CO LTD", c.ReceiverNameEN)
	// defaults
	assert.Equal(t, "BANKAC", c.ReceiverAccountType)
	assert.Equal(t, "Asia/Bangkok", c.DepositTimezone)
	assert.Equal(t, "deposits:notifications", c.QueueName)

	// read side falls back to the write side
	assert.Equal(t, c.PostgresWrite(), c.PostgresRead())

	q := c.NotificationQueue()
	assert.Equal(t, "deposits:notifications", q.Name)
	assert.Equal(t, "notifier", q.ConsumerGroup)
	assert.Equal(t, 7, q.MaxRetries)
	assert.Equal(t, 30*time.Second, q.VisibilityTimeout)

	assert.Equal(t, []string{"localhost:6379"}, c.Redis("api").Addrs)
}

func TestLoadMissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestValidateAPI(t *testing.T) {
	c := &Config{DepositTimezone: "UTC", ReceiverAccountType: "BANKAC"}
	err := c.ValidateAPI()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VERIFIER_URL")
	assert.Contains(t, err.Error(), "RECEIVER_ACCOUNT")

	c = &Config{
		PostgresWriteHost:     "db",
		PostgresWriteDatabase: "deposits",
		VerifierURL:           "http://v",
		ReceiverNameTH:        "th",
		ReceiverNameEN:        "en",
		ReceiverAccountType:   "BANKAC",
		ReceiverAccount:       "1",
		DepositTimezone:       "Not/AZone",
	}
	assert.Error(t, c.ValidateAPI())

	c.DepositTimezone = "UTC"
	assert.NoError(t, c.ValidateAPI())
}
