// Package advisor chooses a bounded recovery action when a workflow step
// fails deterministically. Decisions are untrusted input: callers must run
// Validate before acting on one.
package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lance13c/portalpilot/internal/browser"
	"github.com/lance13c/portalpilot/internal/faults"
)

// ActionKind is one member of the closed set of recovery actions
type ActionKind string

const (
	RetrySelector ActionKind = "retry_selector"
	DismissDialog ActionKind = "dismiss_dialog"
	WaitAndRetry  ActionKind = "wait_and_retry"
	SkipField     ActionKind = "skip_field"
	Abort         ActionKind = "abort"
)

// Source identifies who produced a decision
type Source string

const (
	SourceAI            Source = "ai"
	SourceDeterministic Source = "deterministic"
)

// RecoveryAction is what the advisor wants the driver to do next
type RecoveryAction struct {
	Kind     ActionKind `json:"action"`
	Selector string     `json:"selector,omitempty"`
	WaitMS   int        `json:"wait_ms,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// Wait returns the requested pause
func (a RecoveryAction) Wait() time.Duration {
	return time.Duration(a.WaitMS) * time.Millisecond
}

func (a RecoveryAction) String() string {
	switch a.Kind {
	case RetrySelector:
		return fmt.Sprintf("retry_selector(%s)", a.Selector)
	case DismissDialog:
		if a.Selector == "" {
			return "dismiss_dialog"
		}
		return fmt.Sprintf("dismiss_dialog(%s)", a.Selector)
	case WaitAndRetry:
		return fmt.Sprintf("wait_and_retry(%dms)", a.WaitMS)
	case Abort:
		return fmt.Sprintf("abort(%s)", a.Reason)
	default:
		return string(a.Kind)
	}
}

// Situation describes a failure for the advisor
type Situation struct {
	Target    string      `json:"target"`
	Step      string      `json:"step"`
	Page      string      `json:"page"`
	Field     string      `json:"field,omitempty"`
	Required  bool        `json:"required"`
	Kind      faults.Kind `json:"error_kind"`
	Error     string      `json:"error"`
	Selectors []string    `json:"selectors_tried,omitempty"`
	Dialog    string      `json:"dialog,omitempty"`
	PageState string      `json:"page_state,omitempty"`
	Retries   int         `json:"retries"`
	Budget    int         `json:"retry_budget"`
}

// Decision is one consultation and its outcome, kept for the audit trail
type Decision struct {
	At        time.Time      `json:"at"`
	Source    Source         `json:"source"`
	Step      string         `json:"step"`
	Page      string         `json:"page"`
	Field     string         `json:"field,omitempty"`
	Kind      faults.Kind    `json:"error_kind"`
	Retry     int            `json:"retry"`
	Action    RecoveryAction `json:"action"`
	Reasoning string         `json:"reasoning,omitempty"`
	Accepted  bool           `json:"accepted"`
	Rejection string         `json:"rejection,omitempty"`
	Model     string         `json:"model,omitempty"`
	Cost      float64        `json:"cost,omitempty"`
	Latency   time.Duration  `json:"latency"`
}

func newDecision(s Situation, src Source) Decision {
	return Decision{
		At:     time.Now(),
		Source: src,
		Step:   s.Step,
		Page:   s.Page,
		Field:  s.Field,
		Kind:   s.Kind,
		Retry:  s.Retries,
	}
}

// Advisor proposes a recovery action for a failure. A returned error means
// no usable decision was produced and the caller must abort; the partial
// Decision is still meant for the audit log.
type Advisor interface {
	Advise(ctx context.Context, s Situation) (Decision, error)
}

// Validate checks an action against the closed set and the situation. The
// wait is bounded by maxWait when maxWait is positive.
func Validate(s Situation, a RecoveryAction, maxWait time.Duration) error {
	switch a.Kind {
	case RetrySelector:
		if strings.TrimSpace(a.Selector) == "" {
			return fmt.Errorf("retry_selector requires a selector")
		}
		if s.Kind == faults.AmbiguousOutcome {
			return fmt.Errorf("retry_selector cannot resolve an ambiguous save outcome")
		}
		if err := browser.CheckSelector(a.Selector); err != nil {
			return err
		}
		for _, tried := range s.Selectors {
			if tried == a.Selector {
				return fmt.Errorf("selector %q was already tried", a.Selector)
			}
		}
	case DismissDialog:
		if a.Selector != "" {
			if err := browser.CheckSelector(a.Selector); err != nil {
				return err
			}
		}
	case WaitAndRetry:
		if a.WaitMS <= 0 {
			return fmt.Errorf("wait_and_retry requires a positive wait_ms")
		}
		if maxWait > 0 && a.Wait() > maxWait {
			return fmt.Errorf("wait of %v exceeds limit %v", a.Wait(), maxWait)
		}
	case SkipField:
		if s.Field == "" {
			return fmt.Errorf("skip_field is only valid while filling a field")
		}
		if s.Required {
			return fmt.Errorf("field %q is required and cannot be skipped", s.Field)
		}
	case Abort:
	default:
		return fmt.Errorf("unknown action %q", a.Kind)
	}
	return nil
}

// Deterministic answers without any external service, used when a target
// does not allow AI assistance. Dialogs are dismissed; everything else gets
// a short wait before the retry.
type Deterministic struct {
	Wait time.Duration
}

func (d Deterministic) Advise(ctx context.Context, s Situation) (Decision, error) {
	dec := newDecision(s, SourceDeterministic)
	wait := d.Wait
	if wait <= 0 {
		wait = time.Second
	}
	switch s.Kind {
	case faults.UnexpectedDialog:
		dec.Action = RecoveryAction{Kind: DismissDialog, Reason: "dismiss unexpected dialog"}
	default:
		dec.Action = RecoveryAction{Kind: WaitAndRetry, WaitMS: int(wait / time.Millisecond), Reason: "page may still be loading"}
	}
	dec.Reasoning = dec.Action.Reason
	return dec, nil
}
