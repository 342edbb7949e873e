package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-relay/src/config"
	"market-relay/src/logger"
)

func newTestManager(t *testing.T) *AsyncNetworkManager {
	t.Helper()
	cfg := config.Default().MConfig
	cfg.Network.MaxRetries = 2
	cfg.Network.RequestsPerSecond = 0
	nm := NewAsyncNetworkManager(cfg, logger.Nop("network"))
	nm.baseDelay = time.Millisecond
	return nm
}

func TestGetEncodesParamsAndReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/kline", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "linear", r.URL.Query().Get("category"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(`{"retCode":0}`))
	}))
	defer srv.Close()

	body, err := newTestManager(t).Get(context.Background(), srv.URL+"/v5/market/kline", map[string]string{
		"category": "linear",
		"symbol":   "BTCUSDT",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"retCode":0}`, string(body))
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := newTestManager(t).Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestManager(t).Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
