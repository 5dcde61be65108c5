package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rand/rlmengine/internal/rlm/health"
	"github.com/rand/rlmengine/internal/rlm/rlmerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_DecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/state", r.URL.Path)
		_ = json.NewEncoder(w).Encode(StateResponse{
			Devices: []DeviceInfo{{ID: "dev1", Address: "10.0.0.1:9000"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	state, err := c.State(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Devices, 1)
	assert.Equal(t, "dev1", state.Devices[0].ID)
}

func TestExecuteREPL_RoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/repl/execute", r.URL.Path)
		var body replRequestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "dev1", body.DeviceID)
		assert.Equal(t, "python", body.Request.Language)
		_ = json.NewEncoder(w).Encode(ReplResponseDTO{Stdout: "hi\n", ExitCode: 0, ElapsedMS: 12})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.ExecuteREPL(context.Background(), "dev1", ReplRequestDTO{Language: "python", Code: "print('hi')", TimeoutMS: 30000})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", resp.Stdout)
	assert.Equal(t, 0, resp.ExitCode)
}

func TestComplete_ExtractsFirstChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var body chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.False(t, body.Stream)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "user", body.Messages[0].Role)

		resp := chatCompletionResponse{}
		resp.Choices = []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: "42"}}}
		resp.Usage.TotalTokens = 7
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(srv.URL)
	text, tokens, err := c.Complete(context.Background(), health.Device{ID: "dev1"}, "model-a", "what is 6*7", 0.2, 128)
	require.NoError(t, err)
	assert.Equal(t, "42", text)
	assert.Equal(t, 7, tokens)
}

func TestPing_MeasuresLatencyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ping/dev1", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	latency, err := c.Ping(context.Background(), "dev1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latency, int64(0))
}

func TestPing_TransportErrorWrapsAsTransportKind(t *testing.T) {
	c := New("http://127.0.0.1:1") // nothing listens here
	_, err := c.Ping(context.Background(), "dev1")
	require.Error(t, err)
	assert.True(t, rlmerr.OfKind(err, rlmerr.KindTransport))
}
