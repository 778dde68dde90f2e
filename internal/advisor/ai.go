package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/llm"
	"github.com/lance13c/portalpilot/internal/logging"
)

const systemPrompt = `You help an automated customs filing robot recover from a failure on a government web portal.
You never fill in data and never invent values. You only choose how the robot should recover.

Choose exactly one action:
- "retry_selector": a different CSS selector (or "xpath=" prefixed XPath) that locates the intended element. Only propose selectors visible in the page state.
- "dismiss_dialog": close a blocking dialog. Give "selector" for an in-page modal close button, omit it for a native browser dialog.
- "wait_and_retry": the page is still loading. Give "wait_ms" (at most %d).
- "skip_field": leave an optional field empty. Never for required fields.
- "abort": stop the submission. Give a short "reason".

Reply with a single JSON object and nothing else:
{"action": "...", "selector": "...", "wait_ms": 0, "reason": "...", "reasoning": "one or two sentences"}`

// AI consults a chat-completion model. Each call has its own deadline,
// separate from page-action timeouts.
type AI struct {
	client    llm.Client
	timeout   time.Duration
	maxWait   time.Duration
	pageLimit int
}

// NewAI creates an advisor backed by client
func NewAI(client llm.Client, timeout, maxWait time.Duration) *AI {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	return &AI{client: client, timeout: timeout, maxWait: maxWait, pageLimit: 6000}
}

type reply struct {
	RecoveryAction
	Reasoning string `json:"reasoning"`
}

func (a *AI) Advise(ctx context.Context, s Situation) (Decision, error) {
	dec := newDecision(s, SourceAI)
	dec.Model = fmt.Sprintf("%s/%s", a.client.Provider(), a.client.Model())

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	out, err := a.client.Complete(callCtx, a.messages(s))
	dec.Latency = time.Since(start)
	if err != nil {
		dec.Action = RecoveryAction{Kind: Abort, Reason: "advisor unavailable"}
		if ctx.Err() != nil {
			return dec, faults.Wrap(faults.Cancelled, ctx.Err(), "advisor call cancelled")
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			dec.Action.Reason = "advisor timed out"
			return dec, faults.Wrap(faults.AdvisorTimeout, err, fmt.Sprintf("no decision within %v", a.timeout))
		}
		return dec, faults.Wrap(faults.AdvisorTimeout, err, "decision service failed")
	}
	if out.Usage != nil {
		dec.Cost = out.Usage.TotalCost
	}

	r, err := parseReply(out.Content)
	if err != nil {
		dec.Action = RecoveryAction{Kind: Abort, Reason: "unparseable advisor reply"}
		dec.Rejection = err.Error()
		return dec, faults.Wrap(faults.AdvisorInvalidAction, err, "advisor reply")
	}
	dec.Action = r.RecoveryAction
	dec.Reasoning = r.Reasoning
	logging.Info("Advisor proposed %s for %s on page %s: %s", dec.Action, s.Step, s.Page, r.Reasoning)
	return dec, nil
}

func (a *AI) messages(s Situation) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Portal: %s\nStep: %s\nPage: %s\n", s.Target, s.Step, s.Page)
	if s.Field != "" {
		fmt.Fprintf(&b, "Field: %s (required: %v)\n", s.Field, s.Required)
	}
	fmt.Fprintf(&b, "Failure: %s\nError: %s\n", s.Kind, s.Error)
	if len(s.Selectors) > 0 {
		fmt.Fprintf(&b, "Selectors already tried: %s\n", strings.Join(s.Selectors, ", "))
	}
	if s.Dialog != "" {
		fmt.Fprintf(&b, "Open dialog: %s\n", s.Dialog)
	}
	fmt.Fprintf(&b, "Retry %d of %d\n\nPage state:\n", s.Retries+1, s.Budget)
	page := s.PageState
	if len(page) > a.pageLimit {
		page = strings.ToValidUTF8(page[:a.pageLimit], "") + "..."
	}
	b.WriteString(page)

	return []llm.Message{
		{Role: "system", Content: fmt.Sprintf(systemPrompt, a.maxWait.Milliseconds())},
		{Role: "user", Content: b.String()},
	}
}

// parseReply extracts the first JSON object from a model reply, tolerating
// markdown fences and surrounding prose.
func parseReply(content string) (reply, error) {
	var r reply
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return r, fmt.Errorf("no JSON object in reply %q", truncate(content, 120))
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &r); err != nil {
		return r, fmt.Errorf("invalid JSON in reply: %w", err)
	}
	r.Kind = ActionKind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
	r.Selector = strings.TrimSpace(r.Selector)
	return r, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
