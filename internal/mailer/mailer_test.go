package mailer

import (
	"context"
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

func TestSend_PrimarySucceeds(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "a@b.com", payload["to"])
		assert.Equal(t, "noreply@example.com", payload["from"])
		assert.Equal(t, "Registration Confirmed", payload["subject"])
		assert.Contains(t, payload["html"], "A. Bello")
		assert.Contains(t, payload["text"], "A. Bello")

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "noreply@example.com", "Events Team", 5*time.Second)
	require.NoError(t, c.Send(context.Background(), "a@b.com", "A. Bello"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests), "fallback must not fire when primary succeeds")
}

func TestSend_FallbackAfterPrimaryFailure(t *testing.T) {
	// A TLS endpoint with a self-signed certificate: the strict primary
	// transport rejects it, the permissive fallback delivers.
	var requests int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "noreply@example.com", "Events Team", 5*time.Second)
	require.NoError(t, c.Send(context.Background(), "a@b.com", "A. Bello"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestSend_BothTransportsFail(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.Error(w, "relay unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "noreply@example.com", "Events Team", 5*time.Second)
	err := c.Send(context.Background(), "a@b.com", "A. Bello")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeliveryFailed))
	assert.Contains(t, err.Error(), "relay unavailable")
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests), "both transports must be attempted")
}
