package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientProviders(t *testing.T) {
	_, err := NewClient(OpenAI, "", Options{})
	assert.Error(t, err)

	c, err := NewClient(OpenRouter, "key", Options{})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o-mini", c.Model())

	c, err = NewClient(Local, "", Options{Model: "qwen2.5"})
	require.NoError(t, err)
	assert.Equal(t, Local, c.Provider())
	assert.Equal(t, "qwen2.5", c.Model())

	_, err = NewClient("carrier-pigeon", "", Options{})
	assert.Error(t, err)
}

func TestOpenAIComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"{\"action\":\"abort\"}"}}],"usage":{"prompt_tokens":1000,"completion_tokens":100,"total_tokens":1100}}`))
	}))
	defer srv.Close()

	c, err := NewClient(OpenAI, "sk-test", Options{BaseURL: srv.URL, MaxTokens: 300})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), []Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"abort"}`, out.Content)
	assert.Equal(t, int64(1100), out.Usage.TotalTokens)
	assert.InDelta(t, 0.00021, out.Usage.TotalCost, 1e-9)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.NotNil(t, got.MaxCompletionTokens)
	assert.Equal(t, 300, *got.MaxCompletionTokens)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestOpenAICompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(OpenAI, "sk-test", Options{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestOpenAICompleteHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewClient(OpenAI, "sk-test", Options{BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, nil)
	assert.Error(t, err)
}

func TestMockClient(t *testing.T) {
	m := NewMockClient("first", "second")
	ctx := context.Background()

	for _, want := range []string{"first", "second", "second"} {
		out, err := m.Complete(ctx, []Message{{Role: "user", Content: "x"}})
		require.NoError(t, err)
		assert.Equal(t, want, out.Content)
	}
	assert.Len(t, m.Calls(), 3)

	m.Delay = time.Second
	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := m.Complete(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCostCalculator(t *testing.T) {
	c := NewCostCalculator()
	assert.Zero(t, c.CalculateCost("local", "llama3.1", 5000, 500).TotalCost)
	assert.Equal(t, 2.50, c.Pricing("openai", "gpt-unknown").InputCost)
	assert.Equal(t, "$0.0002", FormatCost(0.00021))
	assert.Equal(t, "$1.50", FormatCost(1.5))
}
