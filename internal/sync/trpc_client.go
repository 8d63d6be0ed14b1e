package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/destinyhacking/app/backend/internal/errors"
	"github.com/destinyhacking/app/backend/internal/idempotency"
	"github.com/destinyhacking/app/backend/internal/models"
)

// Procedures maps each action type to its tRPC mutation path.
var Procedures = map[models.ActionType]string{
	models.ActionSliderCalibration: "sliders.calibrate",
	models.ActionDailyCycleUpdate:  "dailyCycle.update",
}

// TRPCConfig holds backend connection configuration.
type TRPCConfig struct {
	BaseURL string        // e.g. https://app.destinyhacking.com
	Token   string        // bearer token; empty sends no Authorization header
	Timeout time.Duration // per-request timeout (default 30s)
}

// TRPCClient posts queued actions to the app's tRPC mutation endpoints.
type TRPCClient struct {
	config     *TRPCConfig
	httpClient *http.Client
}

// NewTRPCClient creates a new TRPCClient.
func NewTRPCClient(config *TRPCConfig) *TRPCClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TRPCClient{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// trpcRequest is the single-call (non-batched) tRPC body shape.
type trpcRequest struct {
	JSON json.RawMessage `json:"json"`
}

// Endpoint returns an Endpoint bound to a tRPC procedure.
func (c *TRPCClient) Endpoint(procedure string) Endpoint {
	return EndpointFunc(func(ctx context.Context, action models.QueuedAction) error {
		return c.Mutate(ctx, procedure, action)
	})
}

// Registry returns a Registry with every known action type bound to its procedure.
func (c *TRPCClient) Registry() *Registry {
	r := NewRegistry()
	for t, proc := range Procedures {
		// Procedures only holds known types, so Register cannot fail.
		_ = r.Register(t, c.Endpoint(proc))
	}
	return r
}

// Mutate posts one action's payload to procedure.
func (c *TRPCClient) Mutate(ctx context.Context, procedure string, action models.QueuedAction) error {
	body, err := json.Marshal(trpcRequest{JSON: action.Payload})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalidPayload, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("api/trpc/"+procedure), bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if action.IdempotencyKey != "" {
		req.Header.Set(idempotency.Header, action.IdempotencyKey)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteTransient, procedure+" request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return classifyStatus(procedure, resp.StatusCode, string(snippet))
}

// Probe implements ConnectivityProber with GET /api/health.
func (c *TRPCClient) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("api/health"), nil)
	if err != nil {
		return false
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// Any response below 500 proves the network path works.
	return resp.StatusCode < 500
}

func (c *TRPCClient) url(path string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + "/" + path
}

func (c *TRPCClient) authorize(req *http.Request) {
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
}

// classifyStatus maps an HTTP failure to a transient AppError. Every status
// goes through the retry ceiling; only local decode failures drop an action.
func classifyStatus(procedure string, status int, body string) error {
	msg := fmt.Sprintf("%s failed with status %d: %s", procedure, status, strings.TrimSpace(body))
	return apperrors.New(apperrors.ErrRemoteTransient, msg)
}
