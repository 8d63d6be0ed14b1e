// Package sync provides unit tests for the tRPC client.
package sync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/destinyhacking/app/backend/internal/errors"
	"github.com/destinyhacking/app/backend/internal/idempotency"
	"github.com/destinyhacking/app/backend/internal/models"
)

func sliderAction() models.QueuedAction {
	return models.QueuedAction{
		ID:             1,
		Type:           models.ActionSliderCalibration,
		Payload:        json.RawMessage(`{"axisId":3,"value":40}`),
		Timestamp:      time.Now(),
		IdempotencyKey: "f47ac10b-58cc-4372-a567-0e02b2c3d479",
	}
}

// TestTRPCClient_Mutate verifies request shape and headers.
func TestTRPCClient_Mutate(t *testing.T) {
	var gotPath, gotAuth, gotKey, gotType string
	var gotBody map[string]json.RawMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get(idempotency.Header)
		gotType = r.Header.Get("Content-Type")
		assert.Equal(t, http.MethodPost, r.Method)
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &gotBody))
		w.Write([]byte(`{"result":{"data":{"json":{"ok":true}}}}`))
	}))
	defer server.Close()

	client := NewTRPCClient(&TRPCConfig{BaseURL: server.URL + "/", Token: "secret"})
	require.NoError(t, client.Mutate(context.Background(), "sliders.calibrate", sliderAction()))

	assert.Equal(t, "/api/trpc/sliders.calibrate", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "f47ac10b-58cc-4372-a567-0e02b2c3d479", gotKey)
	assert.Equal(t, "application/json", gotType)
	assert.JSONEq(t, `{"axisId":3,"value":40}`, string(gotBody["json"]))
}

// TestTRPCClient_noToken verifies no Authorization header without a token.
func TestTRPCClient_noToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
	}))
	defer server.Close()

	client := NewTRPCClient(&TRPCConfig{BaseURL: server.URL})
	assert.NoError(t, client.Mutate(context.Background(), "dailyCycle.update", sliderAction()))
}

// TestTRPCClient_classification verifies every failing status is retryable.
func TestTRPCClient_classification(t *testing.T) {
	tests := []struct {
		status int
		code   apperrors.ErrorCode
	}{
		{http.StatusInternalServerError, apperrors.ErrRemoteTransient},
		{http.StatusBadGateway, apperrors.ErrRemoteTransient},
		{http.StatusServiceUnavailable, apperrors.ErrRemoteTransient},
		{http.StatusTooManyRequests, apperrors.ErrRemoteTransient},
		{http.StatusRequestTimeout, apperrors.ErrRemoteTransient},
		{http.StatusUnauthorized, apperrors.ErrRemoteTransient},
		{http.StatusBadRequest, apperrors.ErrRemoteTransient},
		{http.StatusNotFound, apperrors.ErrRemoteTransient},
		{http.StatusUnprocessableEntity, apperrors.ErrRemoteTransient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			err := NewTRPCClient(&TRPCConfig{BaseURL: server.URL}).Mutate(context.Background(), "sliders.calibrate", sliderAction())
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
			assert.True(t, apperrors.IsRetryable(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

// TestTRPCClient_networkError verifies unreachable servers are transient.
func TestTRPCClient_networkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewTRPCClient(&TRPCConfig{BaseURL: url, Timeout: time.Second}).Mutate(context.Background(), "sliders.calibrate", sliderAction())
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

// TestTRPCClient_Probe verifies the connectivity probe.
func TestTRPCClient_Probe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	client := NewTRPCClient(&TRPCConfig{BaseURL: server.URL})
	assert.True(t, client.Probe(context.Background()))

	status.Store(http.StatusNotFound)
	assert.True(t, client.Probe(context.Background()), "a 404 still proves reachability")

	status.Store(http.StatusServiceUnavailable)
	assert.False(t, client.Probe(context.Background()))

	server.Close()
	assert.False(t, client.Probe(context.Background()))
}

// TestTRPCClient_Registry verifies every action type is routed to its procedure.
func TestTRPCClient_Registry(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
	}))
	defer server.Close()

	reg := NewTRPCClient(&TRPCConfig{BaseURL: server.URL}).Registry()
	require.Equal(t, len(models.ActionTypes), reg.Len())

	for _, typ := range []models.ActionType{models.ActionSliderCalibration, models.ActionDailyCycleUpdate} {
		e, err := reg.Lookup(typ)
		require.NoError(t, err)
		a := sliderAction()
		a.Type = typ
		require.NoError(t, e.Call(context.Background(), a))
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/api/trpc/sliders.calibrate", "/api/trpc/dailyCycle.update"}, paths)
}
