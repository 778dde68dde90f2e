package llm

import (
	"fmt"
	"strings"
	"time"
)

// ModelPricing is the USD cost per 1M tokens for one model
type ModelPricing struct {
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
}

// UsageStats records the tokens and estimated cost of one request
type UsageStats struct {
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	TotalTokens  int64     `json:"total_tokens"`
	TotalCost    float64   `json:"total_cost"`
	RequestTime  time.Time `json:"request_time"`
}

// CostCalculator estimates request costs from a static price list
type CostCalculator struct {
	pricing map[string]ModelPricing
}

// NewCostCalculator creates a calculator with the known price list
func NewCostCalculator() *CostCalculator {
	c := &CostCalculator{pricing: make(map[string]ModelPricing)}
	for _, p := range []ModelPricing{
		{"openai", "gpt-4o", 2.50, 10.00},
		{"openai", "gpt-4o-mini", 0.15, 0.60},
		{"openai", "gpt-4.1-mini", 0.40, 1.60},
		{"openrouter", "openai/gpt-4o-mini", 0.15, 0.60},
		{"openrouter", "anthropic/claude-3.5-haiku", 0.80, 4.00},
		{"openrouter", "default", 3.00, 10.00},
	} {
		c.pricing[p.Provider+"/"+p.Model] = p
	}
	return c
}

// CalculateCost prices a completed request
func (c *CostCalculator) CalculateCost(provider, model string, inputTokens, outputTokens int64) *UsageStats {
	p := c.Pricing(provider, model)
	cost := float64(inputTokens)/1e6*p.InputCost + float64(outputTokens)/1e6*p.OutputCost
	return &UsageStats{
		Provider:     provider,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		TotalCost:    cost,
		RequestTime:  time.Now(),
	}
}

// Pricing returns the price for a model, falling back to a conservative
// estimate for unknown hosted models. Local and mock providers are free.
func (c *CostCalculator) Pricing(provider, model string) ModelPricing {
	if p, ok := c.pricing[provider+"/"+model]; ok {
		return p
	}
	switch Provider(provider) {
	case Local, Mock:
		return ModelPricing{Provider: provider, Model: model}
	case OpenAI:
		return c.pricing["openai/gpt-4o"]
	case OpenRouter:
		if strings.Contains(strings.ToLower(model), "gpt-4o-mini") {
			return c.pricing["openrouter/openai/gpt-4o-mini"]
		}
		return c.pricing["openrouter/default"]
	}
	return ModelPricing{Provider: provider, Model: model, InputCost: 15, OutputCost: 75}
}

// FormatCost formats a cost in USD for display
func FormatCost(cost float64) string {
	switch {
	case cost < 0.001:
		return fmt.Sprintf("$%.4f", cost)
	case cost < 0.01:
		return fmt.Sprintf("$%.3f", cost)
	default:
		return fmt.Sprintf("$%.2f", cost)
	}
}
