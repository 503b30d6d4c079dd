package verifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nimasrn/deposit-gateway/pkg/logger"
	"github.com/nimasrn/deposit-gateway/pkg/prom"
	"github.com/valyala/fasthttp"
)

const verifyPath = "/verify"

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration

	MaxConns int
	// BreakerThreshold consecutive timeouts open the breaker for
	// BreakerTimeout. Zero disables it.
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// Client submits slip images to the verification provider. It never
// retries: a failed verification is answered to the user who resubmits.
type Client struct {
	config      Config
	http        *fasthttp.Client
	metrics     *ProviderMetrics
	breakerOpen atomic.Int64 // unix nano until which calls are refused
}

func NewClient(config Config) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("verifier url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxConns <= 0 {
		config.MaxConns = 64
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = 30 * time.Second
	}
	config.URL = strings.TrimRight(config.URL, "/")

	c := &Client{
		config: config,
		http: &fasthttp.Client{
			Name:                "deposit-gateway",
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			MaxResponseBodySize: 1 << 20,
		},
		metrics: NewProviderMetrics(),
	}

	logger.Info("slip verifier client initialized", "url", config.URL, "timeout", config.Timeout)
	return c, nil
}

// Verify validates the image locally, then asks the provider to read it.
func (c *Client) Verify(ctx context.Context, img SlipImage) (*VerifiedSlip, error) {
	if err := ValidateImage(img); err != nil {
		return nil, err
	}

	if until := c.breakerOpen.Load(); until > 0 && time.Now().UnixNano() < until {
		prom.ObserveVerifier("breaker_open", 0)
		return nil, fmt.Errorf("%w: circuit open", ErrVerifierUnavailable)
	}

	body, err := json.Marshal(verifyRequest{Image: base64.StdEncoding.EncodeToString(img.Data)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	status, respBody, err := c.doRequest(ctx, body)
	latency := time.Since(start)

	if err != nil {
		if isTimeout(err) {
			c.metrics.RecordTimeout()
			c.checkBreaker()
			prom.ObserveVerifier("timeout", latency.Seconds())
			logger.Warn("slip verification timed out", "error", err, "latency_ms", latency.Milliseconds())
			return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
		}
		c.metrics.RecordRejected(latency.Milliseconds())
		prom.ObserveVerifier("network_error", latency.Seconds())
		logger.Warn("slip verification request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSlip, err)
	}

	slip, err := parseResponse(status, respBody)
	if err != nil {
		c.metrics.RecordRejected(latency.Milliseconds())
		prom.ObserveVerifier("rejected", latency.Seconds())
		logger.Info("slip rejected by provider", "status", status, "error", err, "latency_ms", latency.Milliseconds())
		return nil, err
	}

	c.metrics.RecordVerified(latency.Milliseconds())
	prom.ObserveVerifier("verified", latency.Seconds())
	logger.Debug("slip verified", "trans_ref", slip.TransRef, "amount", slip.Amount.String(), "latency_ms", latency.Milliseconds())
	return slip, nil
}

func parseResponse(status int, body []byte) (*VerifiedSlip, error) {
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: provider status %d", ErrInvalidSlip, status)
	}

	var resp verifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrInvalidSlip, err)
	}
	if resp.Status != 0 && (resp.Status < 200 || resp.Status > 299) {
		return nil, fmt.Errorf("%w: payload status %d %s", ErrInvalidSlip, resp.Status, resp.Message)
	}

	slip, err := resp.Data.toSlip()
	if err != nil {
		return nil, fmt.Errorf("%w: incomplete payload", err)
	}
	return slip, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.URL + verifyPath)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	req.SetBody(body)

	deadline := time.Now().Add(c.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, err
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return resp.StatusCode(), result, nil
}

func (c *Client) checkBreaker() {
	if c.config.BreakerThreshold <= 0 {
		return
	}
	fails := c.metrics.ConsecutiveTimeouts.Load()
	if fails >= int32(c.config.BreakerThreshold) {
		c.breakerOpen.Store(time.Now().Add(c.config.BreakerTimeout).UnixNano())
		c.metrics.ConsecutiveTimeouts.Store(0)
		logger.Warn("slip verifier circuit opened", "consecutive_timeouts", fails, "open_for", c.config.BreakerTimeout)
	}
}

func (c *Client) Stats() ProviderStats {
	state := "closed"
	if until := c.breakerOpen.Load(); until > 0 && time.Now().UnixNano() < until {
		state = "open"
	}
	return ProviderStats{
		State:               state,
		TotalRequests:       c.metrics.TotalRequests.Load(),
		Verified:            c.metrics.Verified.Load(),
		Rejected:            c.metrics.Rejected.Load(),
		Timeouts:            c.metrics.Timeouts.Load(),
		ConsecutiveTimeouts: c.metrics.ConsecutiveTimeouts.Load(),
		AvgLatencyMs:        c.metrics.AvgLatencyMs(),
		P95LatencyMs:        c.metrics.P95LatencyMs(),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, fasthttp.ErrTimeout) ||
		errors.Is(err, fasthttp.ErrDialTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
