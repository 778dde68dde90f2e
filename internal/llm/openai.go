package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lance13c/portalpilot/internal/logging"
)

// chatRequest is the OpenAI-compatible chat completion request
type chatRequest struct {
	Model               string    `json:"model"`
	Messages            []Message `json:"messages"`
	Temperature         *float64  `json:"temperature,omitempty"`
	MaxCompletionTokens *int      `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// openAIClient talks to any OpenAI-compatible chat completions endpoint
type openAIClient struct {
	provider   Provider
	apiKey     string
	model      string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	costCalc   *CostCalculator
	opts       Options
	jsonMode   bool
}

func newCompatClient(provider Provider, apiKey, defaultModel, defaultURL string, opts Options) *openAIClient {
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if opts.Temperature < 0 {
		opts.Temperature = 0
	} else if opts.Temperature > 2 {
		opts.Temperature = 2
	}
	return &openAIClient{
		provider:   provider,
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		headers:    map[string]string{},
		httpClient: &http.Client{Timeout: timeout},
		costCalc:   NewCostCalculator(),
		opts:       opts,
		jsonMode:   true,
	}
}

func newOpenAIClient(apiKey string, opts Options) (Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	return newCompatClient(OpenAI, apiKey, "gpt-4o-mini", "https://api.openai.com/v1", opts), nil
}

func newOpenRouterClient(apiKey string, opts Options) (Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenRouter API key is required")
	}
	c := newCompatClient(OpenRouter, apiKey, "openai/gpt-4o-mini", "https://openrouter.ai/api/v1", opts)
	c.headers["HTTP-Referer"] = "https://github.com/lance13c/portalpilot"
	c.headers["X-Title"] = "portalpilot"
	return c, nil
}

// newLocalClient targets an OpenAI-compatible local server such as Ollama
func newLocalClient(opts Options) (Client, error) {
	c := newCompatClient(Local, "", "llama3.1", "http://localhost:11434/v1", opts)
	c.jsonMode = false
	return c, nil
}

func (c *openAIClient) Provider() Provider { return c.provider }
func (c *openAIClient) Model() string      { return c.model }

// Complete sends messages to /chat/completions
func (c *openAIClient) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	request := chatRequest{Model: c.model, Messages: messages}
	if c.opts.Temperature > 0 {
		t := c.opts.Temperature
		request.Temperature = &t
	}
	if c.opts.MaxTokens > 0 {
		n := c.opts.MaxTokens
		request.MaxCompletionTokens = &n
	}
	if c.jsonMode {
		request.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	logging.Debug("%s request: model=%s messages=%d", c.provider, c.model, len(messages))
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	logging.Debug("%s response in %v: status=%d bytes=%d", c.provider, time.Since(start), resp.StatusCode, len(body))

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s API returned status %d", c.provider, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%s API error: %s", c.provider, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API returned status %d", c.provider, resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s API returned no choices", c.provider)
	}

	usage := c.costCalc.CalculateCost(string(c.provider), c.model,
		int64(parsed.Usage.PromptTokens), int64(parsed.Usage.CompletionTokens))
	return &Completion{Content: parsed.Choices[0].Message.Content, Usage: usage}, nil
}
