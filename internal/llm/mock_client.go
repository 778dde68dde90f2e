package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient replays scripted replies. Once the script runs out the last
// reply repeats. A configured Delay makes calls block, honoring ctx.
type MockClient struct {
	Delay time.Duration
	Err   error

	mu        sync.Mutex
	responses []string
	calls     [][]Message
}

// NewMockClient creates a mock that answers with responses in order
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

func (m *MockClient) Provider() Provider { return Mock }
func (m *MockClient) Model() string      { return "mock" }

func (m *MockClient) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]Message(nil), messages...))
	n := len(m.calls)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.responses) == 0 {
		return nil, fmt.Errorf("mock client has no scripted responses")
	}
	i := n - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return &Completion{
		Content: m.responses[i],
		Usage:   &UsageStats{Provider: string(Mock), Model: "mock", RequestTime: time.Now()},
	}, nil
}

// Calls returns the conversations sent so far
func (m *MockClient) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}
