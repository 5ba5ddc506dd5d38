package llmclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// -- Test Setup Helpers --

// setupGoogleClient points a GoogleClient at a fake Gemini endpoint and
// returns it with a log observer.
func setupGoogleClient(t *testing.T, handler http.HandlerFunc) (*GoogleClient, *httptest.Server, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	loggerCore, observedLogs := observer.New(zap.InfoLevel)
	cfg := getValidLLMConfig()
	cfg.Endpoint = server.URL

	client, err := NewGoogleClient(context.Background(), cfg, zap.New(loggerCore))
	require.NoError(t, err, "NewGoogleClient initialization failed")
	client.backoffFactory = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 5 * time.Millisecond
		b.MaxElapsedTime = 5 * time.Second
		return b
	}
	t.Cleanup(func() { client.Close() })
	return client, server, observedLogs
}

func createTestRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "System prompt instructions.",
		UserPrompt:   "User query.",
		Options:      schemas.GenerationOptions{Temperature: 0.7},
	}
}

func writeCandidate(w http.ResponseWriter, text, reason string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{map[string]any{
			"content":      map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
			"finishReason": reason,
		}},
		"usageMetadata": map[string]any{"promptTokenCount": 12, "candidatesTokenCount": 7, "totalTokenCount": 19},
	})
}

func writeAPIError(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": "simulated failure", "status": status},
	})
}

// -- Test Cases: Initialization --

func TestNewGoogleClient(t *testing.T) {
	t.Run("should initialize the SDK client", func(t *testing.T) {
		cfg := getValidLLMConfig()
		client, err := NewGoogleClient(context.Background(), cfg, setupTestLogger(t))
		require.NoError(t, err)
		assert.NotNil(t, client.client)
		assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)
		assert.NotNil(t, client.backoffFactory, "Backoff factory should be initialized")
	})

	t.Run("should require an API key", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.APIKey = ""
		client, err := NewGoogleClient(context.Background(), cfg, setupTestLogger(t))
		assert.Nil(t, client)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Google/Gemini API Key is required")
	})

	t.Run("should require a model", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Model = ""
		_, err := NewGoogleClient(context.Background(), cfg, nil)
		assert.Error(t, err)
	})
}

// -- Test Cases: Request Building --

func TestBuildConfig(t *testing.T) {
	client, _, _ := setupGoogleClient(t, nil)
	client.config.MaxTokens = 2048
	client.config.SafetyFilters = map[string]string{"CAT_B": "BLOCK_HIGH", "CAT_A": "BLOCK_LOW"}

	t.Run("should map options and config", func(t *testing.T) {
		req := createTestRequest()
		req.Options.Temperature = 0.5
		req.Options.ForceJSONFormat = true

		gc := client.buildConfig(req)

		require.NotNil(t, gc.Temperature)
		assert.Equal(t, float32(0.5), *gc.Temperature)
		require.NotNil(t, gc.TopP)
		assert.Equal(t, float32(0.9), *gc.TopP)
		require.NotNil(t, gc.TopK)
		assert.Equal(t, float32(50), *gc.TopK)
		assert.Equal(t, int32(2048), gc.MaxOutputTokens)
		assert.Equal(t, "application/json", gc.ResponseMIMEType)
		require.NotNil(t, gc.SystemInstruction)
		require.Len(t, gc.SystemInstruction.Parts, 1)
		assert.Equal(t, req.SystemPrompt, gc.SystemInstruction.Parts[0].Text)

		require.Len(t, gc.SafetySettings, 2)
		assert.Equal(t, "CAT_A", string(gc.SafetySettings[0].Category))
		assert.Equal(t, "BLOCK_LOW", string(gc.SafetySettings[0].Threshold))
	})

	t.Run("should fall back to the model temperature", func(t *testing.T) {
		req := createTestRequest()
		req.Options.Temperature = 0
		gc := client.buildConfig(req)
		assert.Equal(t, float32(0.7), *gc.Temperature)
		assert.Empty(t, gc.ResponseMIMEType)
	})
}

// -- Test Cases: Generate --

func TestGenerate_Success(t *testing.T) {
	var gotBody map[string]any
	client, _, observedLogs := setupGoogleClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/test-model:generateContent"), r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		writeCandidate(w, "Generated text.", "STOP")
	})

	response, err := client.Generate(context.Background(), createTestRequest())

	require.NoError(t, err)
	assert.Equal(t, "Generated text.", response)
	assert.Contains(t, gotBody, "contents")

	logs := observedLogs.FilterMessage("LLM generation complete (Gemini)").All()
	require.Len(t, logs, 1)
	assert.Equal(t, int64(12), logs[0].ContextMap()["prompt_tokens"])
	assert.Equal(t, int64(7), logs[0].ContextMap()["completion_tokens"])
}

func TestGenerate_RetryOnTransientErrors(t *testing.T) {
	var attempts int32
	client, _, observedLogs := setupGoogleClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			writeAPIError(w, http.StatusServiceUnavailable, "UNAVAILABLE")
			return
		}
		writeCandidate(w, "Success after retry", "STOP")
	})

	response, err := client.Generate(context.Background(), createTestRequest())

	require.NoError(t, err)
	assert.Equal(t, "Success after retry", response)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
	assert.GreaterOrEqual(t, observedLogs.FilterLevelExact(zap.ErrorLevel).Len(), 2)
}

func TestGenerate_PermanentErrors(t *testing.T) {
	t.Run("should not retry a bad request", func(t *testing.T) {
		var attempts int32
		client, _, _ := setupGoogleClient(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT")
		})

		_, err := client.Generate(context.Background(), createTestRequest())
		require.Error(t, err)
		first := atomic.LoadInt32(&attempts)
		assert.GreaterOrEqual(t, first, int32(1))
		assert.Less(t, first, int32(3), "a 400 must not enter the retry loop")
	})

	t.Run("should stop on a safety block", func(t *testing.T) {
		var attempts int32
		client, _, _ := setupGoogleClient(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"candidates": []any{map[string]any{"finishReason": "SAFETY"}},
			})
		})

		_, err := client.Generate(context.Background(), createTestRequest())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "blocked")
		assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	})

	t.Run("should report no candidates", func(t *testing.T) {
		client, _, _ := setupGoogleClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		})

		_, err := client.Generate(context.Background(), createTestRequest())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no candidates")
	})
}

func TestGenerate_ContextCancellation(t *testing.T) {
	client, _, _ := setupGoogleClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusServiceUnavailable, "UNAVAILABLE")
	})
	client.backoffFactory = func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Generate(ctx, createTestRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must interrupt the backoff wait")
}
