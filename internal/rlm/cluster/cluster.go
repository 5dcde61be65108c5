// Package cluster implements ClusterClient: the HTTP/JSON boundary against
// the cluster control plane. It is a thin net/http client, not a generated
// SDK — the control plane is bespoke and project-internal. Every
// device-keyed call (ExecuteREPL, Complete, Ping) is wrapped by that
// device's circuit breaker, so calls to a device whose breaker is open
// fail fast; State and Models are not breakered. The scheduler does not
// read breaker state: a device leaves scheduling only through
// HealthMonitor's consecutive-failure threshold.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rand/rlmengine/internal/rlm/health"
	"github.com/rand/rlmengine/internal/rlm/resilience"
	"github.com/rand/rlmengine/internal/rlm/rlmerr"
)

// DefaultPingTimeout bounds a single liveness probe.
const DefaultPingTimeout = 5 * time.Second

// Client is the ClusterClient component.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breakers   *resilience.BreakerRegistry
}

// Option configures a Client at construction.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client, e.g. to tune
// MaxIdleConnsPerHost from config.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBreakerRegistry overrides the default per-device breaker registry.
func WithBreakerRegistry(r *resilience.BreakerRegistry) Option {
	return func(cl *Client) { cl.breakers = r }
}

// New constructs a Client against baseURL (e.g. "http://cluster-control:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breakers:   resilience.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StateResponse mirrors GET /state.
type StateResponse struct {
	Devices   []DeviceInfo   `json:"devices"`
	Models    []ModelInfo    `json:"models"`
	Instances []InstanceInfo `json:"instances"`
}

// DeviceInfo is one entry of StateResponse.Devices.
type DeviceInfo struct {
	ID           string              `json:"id"`
	Address      string              `json:"address"`
	MemoryTotal  int64               `json:"memory_total"`
	MemoryAvail  int64               `json:"memory_avail"`
	TokensPerSec float64             `json:"tokens_per_sec"`
	Capabilities health.Capabilities `json:"capabilities"`
}

// ModelInfo is one entry of StateResponse.Models and GET /models.
type ModelInfo struct {
	Name       string `json:"name"`
	DeviceID   string `json:"device_id"`
	ContextLen int    `json:"context_len"`
}

// InstanceInfo is one entry of StateResponse.Instances.
type InstanceInfo struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Model    string `json:"model"`
}

// State fetches GET /state.
func (c *Client) State(ctx context.Context) (StateResponse, error) {
	var out StateResponse
	err := c.do(ctx, "state", http.MethodGet, "/state", nil, &out)
	return out, err
}

// Models fetches GET /models.
func (c *Client) Models(ctx context.Context) ([]ModelInfo, error) {
	var out []ModelInfo
	err := c.do(ctx, "models", http.MethodGet, "/models", nil, &out)
	return out, err
}

// replRequestBody is the POST /api/repl/execute request envelope.
type replRequestBody struct {
	DeviceID string         `json:"device_id"`
	Request  ReplRequestDTO `json:"request"`
}

// ReplRequestDTO mirrors the nested "request" object of POST /api/repl/execute.
type ReplRequestDTO struct {
	Language       string `json:"language"`
	Code           string `json:"code"`
	TimeoutMS      int64  `json:"timeout_ms"`
	MaxOutputBytes int64  `json:"max_output_bytes"`
}

// ReplResponseDTO mirrors the POST /api/repl/execute response.
type ReplResponseDTO struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// ExecuteREPL dispatches a code block to deviceID's REPL sandbox, wrapped
// by that device's circuit breaker.
func (c *Client) ExecuteREPL(ctx context.Context, deviceID string, req ReplRequestDTO) (ReplResponseDTO, error) {
	body := replRequestBody{DeviceID: deviceID, Request: req}
	var out ReplResponseDTO
	breaker := c.breakers.Get(deviceID)
	result, err := breaker.CallWithResult(func() (any, error) {
		var resp ReplResponseDTO
		if err := c.doRaw(ctx, http.MethodPost, "/api/repl/execute", body, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return out, rlmerr.Wrap(rlmerr.KindTransport, fmt.Sprintf("execute repl on device %s", deviceID), err)
	}
	return result.(ReplResponseDTO), nil
}

// chatMessage is one entry of the OpenAI-compatible messages array.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete implements batch.Completer: one POST /v1/chat/completions call
// against device, wrapped by that device's circuit breaker.
func (c *Client) Complete(ctx context.Context, device health.Device, model, prompt string, temperature float64, maxTokens int) (string, int, error) {
	breaker := c.breakers.Get(device.ID)
	reqBody := chatCompletionRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Stream:      false,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	result, err := breaker.CallWithResult(func() (any, error) {
		var resp chatCompletionResponse
		if err := c.doRaw(ctx, http.MethodPost, "/v1/chat/completions", reqBody, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return "", 0, rlmerr.Wrap(rlmerr.KindTransport, fmt.Sprintf("chat completion on device %s", device.ID), err)
	}
	resp := result.(chatCompletionResponse)
	if len(resp.Choices) == 0 {
		return "", 0, rlmerr.New(rlmerr.KindTransport, "chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, resp.Usage.TotalTokens, nil
}

// Ping implements health.Prober: GET /ping/<device_id> with a bounded
// deadline, measuring round-trip latency.
func (c *Client) Ping(ctx context.Context, deviceID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()

	breaker := c.breakers.Get(deviceID)
	start := time.Now()
	_, err := breaker.CallWithResult(func() (any, error) {
		return nil, c.doRaw(ctx, http.MethodGet, "/ping/"+deviceID, nil, nil)
	})
	latencyMS := time.Since(start).Milliseconds()
	if err != nil {
		return 0, rlmerr.Wrap(rlmerr.KindTransport, fmt.Sprintf("ping device %s", deviceID), err)
	}
	return latencyMS, nil
}

// do performs an unbreakered request, used for read-only control-plane
// queries that are not keyed by a single device.
func (c *Client) do(ctx context.Context, opName, method, path string, reqBody, out any) error {
	if err := c.doRaw(ctx, method, path, reqBody, out); err != nil {
		return rlmerr.Wrap(rlmerr.KindTransport, opName, err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(payload))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
