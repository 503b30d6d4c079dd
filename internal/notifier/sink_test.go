package notifier_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/nimasrn/deposit-gateway/internal/notifier"
	"github.com/nimasrn/deposit-gateway/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSinkSend(t *testing.T) {
	var got map[string]string
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink, err := notifier.NewHTTPSink(srv.URL+"/", time.Second)
	require.NoError(t, err)

	err = sink.Send(context.Background(), model.DepositNotification{
		UserID:   7,
		UserName: "somchai",
		Amount:   helpers.Dec("2000.5"),
		TransRef: "TX100",
	})
	require.NoError(t, err)

	assert.Equal(t, "TX100", key)
	assert.Equal(t, map[string]string{"userName": "somchai", "amount": "2000.50", "transRef": "TX100"}, got)
}

func TestHTTPSinkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"upstream chat offline"}`))
	}))
	defer srv.Close()

	sink, err := notifier.NewHTTPSink(srv.URL, time.Second)
	require.NoError(t, err)

	err = sink.Send(context.Background(), model.DepositNotification{TransRef: "TX1", Amount: helpers.Dec("1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream chat offline")

	_, err = notifier.NewHTTPSink("", time.Second)
	assert.Error(t, err)
}

func TestHTTPSinkTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	sink, err := notifier.NewHTTPSink(srv.URL, 50*time.Millisecond)
	require.NoError(t, err)

	err = sink.Send(context.Background(), model.DepositNotification{TransRef: "TX1", Amount: helpers.Dec("1")})
	assert.Error(t, err)
}
