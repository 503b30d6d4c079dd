package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/nimasrn/deposit-gateway/pkg/logger"
)

// Sink delivers a deposit notification to whoever announces it to the user.
type Sink interface {
	Send(ctx context.Context, n model.DepositNotification) error
}

type sinkMessage struct {
	UserName string `json:"userName"`
	Amount   string `json:"amount"`
	TransRef string `json:"transRef"`
}

type sinkError struct {
	Message string `json:"message"`
}

// HTTPSink posts notifications as JSON to a webhook.
type HTTPSink struct {
	url    string
	client *resty.Client
}

func NewHTTPSink(url string, timeout time.Duration) (*HTTPSink, error) {
	if url == "" {
		return nil, errors.New("sink url is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "deposit-gateway-notifier")
	return &HTTPSink{url: strings.TrimRight(url, "/"), client: client}, nil
}

func (s *HTTPSink) Send(ctx context.Context, n model.DepositNotification) error {
	var errResp sinkError
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", n.TransRef).
		SetBody(sinkMessage{
			UserName: n.UserName,
			Amount:   n.Amount.StringFixed(2),
			TransRef: n.TransRef,
		}).
		SetError(&errResp).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("could not reach notification sink: %w", err)
	}

	if resp.IsError() {
		if errResp.Message != "" {
			return fmt.Errorf("notification sink error: status %s: %s", resp.Status(), errResp.Message)
		}
		return fmt.Errorf("notification sink error: status %s", resp.Status())
	}
	return nil
}

// LogSink only writes the notification to the log. Used when no webhook is
// configured.
type LogSink struct{}

func (LogSink) Send(ctx context.Context, n model.DepositNotification) error {
	logger.Info("deposit notification",
		"user_id", n.UserID,
		"user_name", n.UserName,
		"amount", n.Amount.StringFixed(2),
		"trans_ref", n.TransRef)
	return nil
}
