package verifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func pngOfSize(n int) []byte {
	if n < len(pngHeader) {
		n = len(pngHeader)
	}
	b := make([]byte, n)
	copy(b, pngHeader)
	return b
}

func slipImage() SlipImage {
	return SlipImage{FileName: "slip.png", ContentType: "image/png", Data: pngOfSize(512)}
}

const goodPayload = `{
  "status": 200,
  "data": {
    "transRef": "016070154612AQR05737",
    "date": "2026-03-10T12:01:02+07:00",
    "amount": {"amount": 2000},
    "sender": {"bank": {"id": "004"}, "account": {"name": {"th": "นาย ทดสอบ", "en": "MR TEST"}, "bank": {"type": "BANKAC", "account": "xxx-x-x1234-x"}}},
    "receiver": {"bank": {"id": "014"}, "account": {"name": {"th": "บจก. ทอง", "en": "GOLD CO LTD"}, "bank": {"type": "BANKAC", "account": "123-4-56789-0"}}}
  }
}`

type fakeProvider struct {
	hits    atomic.Int64
	lastKey atomic.Value
	lastImg atomic.Value
	handler func(w http.ResponseWriter, r *http.Request)
}

func newFakeProvider(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*fakeProvider, *httptest.Server) {
	t.Helper()
	fp := &fakeProvider{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp.hits.Add(1)
		fp.lastKey.Store(r.Header.Get("Authorization"))
		var req verifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		fp.lastImg.Store(req.Image)
		fp.handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return fp, srv
}

func newTestClient(t *testing.T, url string, timeout time.Duration) *Client {
	t.Helper()
	c, err := NewClient(Config{URL: url, APIKey: "secret", Timeout: timeout})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestVerify_Success(t *testing.T) {
	fp, srv := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, verifyPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(goodPayload))
	})
	c := newTestClient(t, srv.URL+"/", time.Second)

	img := slipImage()
	slip, err := c.Verify(context.Background(), img)
	require.NoError(t, err)

	assert.Equal(t, "016070154612AQR05737", slip.TransRef)
	assert.Equal(t, "2000", slip.Amount.String())
	require.NotNil(t, slip.TransferredAt)
	assert.Equal(t, time.Date(2026, 3, 10, 5, 1, 2, 0, time.UTC), *slip.TransferredAt)
	assert.Equal(t, "GOLD CO LTD", slip.Receiver.NameEN)
	assert.Equal(t, "บจก. ทอง", slip.Receiver.NameTH)
	assert.Equal(t, "BANKAC", slip.Receiver.AccountType)
	assert.Equal(t, "123-4-56789-0", slip.Receiver.Account)
	assert.Equal(t, "014", slip.Receiver.BankID)
	assert.Equal(t, "MR TEST", slip.Sender.NameEN)

	assert.Equal(t, int64(1), fp.hits.Load())
	assert.Equal(t, "Bearer secret", fp.lastKey.Load())
	assert.Equal(t, base64.StdEncoding.EncodeToString(img.Data), fp.lastImg.Load())
	assert.Equal(t, int64(1), c.Stats().Verified)
}

func TestVerify_LocalValidationNeverCallsProvider(t *testing.T) {
	fp, srv := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(goodPayload))
	})
	c := newTestClient(t, srv.URL, time.Second)

	t.Run("too large", func(t *testing.T) {
		_, err := c.Verify(context.Background(), SlipImage{ContentType: "image/png", Data: pngOfSize(11 * 1024 * 1024)})
		assert.ErrorIs(t, err, ErrImageTooLarge)
	})

	t.Run("not an image", func(t *testing.T) {
		_, err := c.Verify(context.Background(), SlipImage{ContentType: "application/pdf", Data: []byte("%PDF-1.4\n%...")})
		assert.ErrorIs(t, err, ErrInvalidImage)
	})

	t.Run("declared image but text content", func(t *testing.T) {
		_, err := c.Verify(context.Background(), SlipImage{ContentType: "image/png", Data: []byte("hello world")})
		assert.ErrorIs(t, err, ErrInvalidImage)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := c.Verify(context.Background(), SlipImage{ContentType: "image/png"})
		assert.ErrorIs(t, err, ErrInvalidImage)
	})

	assert.Equal(t, int64(0), fp.hits.Load())
}

func TestVerify_ExactlyMaxSizeAccepted(t *testing.T) {
	assert.NoError(t, ValidateImage(SlipImage{ContentType: "image/png", Data: pngOfSize(MaxImageSize)}))
	assert.ErrorIs(t, ValidateImage(SlipImage{ContentType: "image/png", Data: pngOfSize(MaxImageSize + 1)}), ErrImageTooLarge)
}

func TestVerify_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"provider error status", http.StatusBadRequest, `{"status":400,"message":"invalid_image"}`},
		{"server error", http.StatusInternalServerError, `oops`},
		{"malformed json", http.StatusOK, `{"status":`},
		{"payload error status", http.StatusOK, `{"status":404,"message":"slip_not_found"}`},
		{"missing data", http.StatusOK, `{"status":200}`},
		{"missing trans ref", http.StatusOK, `{"status":200,"data":{"amount":{"amount":10}}}`},
		{"zero amount", http.StatusOK, `{"status":200,"data":{"transRef":"X1","amount":{"amount":0}}}`},
		{"more than two decimals", http.StatusOK, `{"status":200,"data":{"transRef":"X1","amount":{"amount":100.005}}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, srv := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			c := newTestClient(t, srv.URL, time.Second)

			_, err := c.Verify(context.Background(), slipImage())
			assert.ErrorIs(t, err, ErrInvalidSlip)
			assert.False(t, errors.Is(err, ErrVerifierUnavailable))
		})
	}
}

func TestVerify_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	fp, srv := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		_, _ = w.Write([]byte(goodPayload))
	})
	defer close(release)

	c := newTestClient(t, srv.URL, 50*time.Millisecond)

	start := time.Now()
	_, err := c.Verify(context.Background(), slipImage())
	assert.ErrorIs(t, err, ErrVerifierUnavailable)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(1), fp.hits.Load())
	assert.Equal(t, int64(1), c.Stats().Timeouts)
}

func TestVerify_ContextDeadlineBoundsCall(t *testing.T) {
	release := make(chan struct{})
	_, srv := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	})
	defer close(release)

	c := newTestClient(t, srv.URL, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Verify(ctx, slipImage())
	assert.ErrorIs(t, err, ErrVerifierUnavailable)
}

func TestVerify_BreakerOpensOnTimeouts(t *testing.T) {
	release := make(chan struct{})
	fp, srv := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	})
	defer close(release)

	c, err := NewClient(Config{
		URL:              srv.URL,
		Timeout:          30 * time.Millisecond,
		BreakerThreshold: 2,
		BreakerTimeout:   time.Minute,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := c.Verify(context.Background(), slipImage())
		assert.ErrorIs(t, err, ErrVerifierUnavailable)
	}
	assert.Equal(t, "open", c.Stats().State)

	hits := fp.hits.Load()
	_, err = c.Verify(context.Background(), slipImage())
	assert.ErrorIs(t, err, ErrVerifierUnavailable)
	assert.Equal(t, hits, fp.hits.Load())
}

func TestProviderMetrics(t *testing.T) {
	m := NewProviderMetrics()
	m.RecordVerified(100)
	m.RecordRejected(200)
	m.RecordTimeout()
	m.RecordTimeout()

	assert.Equal(t, int64(4), m.TotalRequests.Load())
	assert.Equal(t, int64(150), m.AvgLatencyMs())
	assert.Equal(t, int32(2), m.ConsecutiveTimeouts.Load())

	m.RecordVerified(100)
	assert.Equal(t, int32(0), m.ConsecutiveTimeouts.Load())

	for i := int64(0); i < 100; i++ {
		m.RecordVerified(i * 10)
	}
	p95 := m.P95LatencyMs()
	assert.GreaterOrEqual(t, p95, int64(900))
	assert.LessOrEqual(t, p95, int64(990))
}

func TestPayloadDateIsOptional(t *testing.T) {
	var resp verifyResponse
	require.NoError(t, json.NewDecoder(bytes.NewBufferString(`{"status":200,"data":{"transRef":"R1","date":"garbage","amount":{"amount":"12.50"}}}`)).Decode(&resp))
	slip, err := resp.Data.toSlip()
	require.NoError(t, err)
	assert.Nil(t, slip.TransferredAt)
	assert.Equal(t, "12.5", slip.Amount.String())
}
