package advisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillSituation() Situation {
	return Situation{
		Target:    "SAD_PORTAL",
		Step:      "fill",
		Page:      "entry",
		Field:     "Importer TIN",
		Required:  true,
		Kind:      faults.SelectorNotFound,
		Error:     "no candidate matched",
		Selectors: []string{"#tin", "input[name=tin]"},
		PageState: "URL: https://portal/declarations/7/edit\nControls:\n- <input> selector=#importerTin",
		Budget:    3,
	}
}

func TestValidate(t *testing.T) {
	ambiguous := fillSituation()
	ambiguous.Step, ambiguous.Field, ambiguous.Kind = "save", "", faults.AmbiguousOutcome

	optional := fillSituation()
	optional.Required = false

	tests := []struct {
		name    string
		sit     Situation
		action  RecoveryAction
		wantErr string
	}{
		{"new selector", fillSituation(), RecoveryAction{Kind: RetrySelector, Selector: "#importerTin"}, ""},
		{"empty selector", fillSituation(), RecoveryAction{Kind: RetrySelector}, "requires a selector"},
		{"malformed selector", fillSituation(), RecoveryAction{Kind: RetrySelector, Selector: "#a["}, "invalid selector"},
		{"xpath selector", fillSituation(), RecoveryAction{Kind: RetrySelector, Selector: "xpath=//input[@name='tin']"}, ""},
		{"repeated selector", fillSituation(), RecoveryAction{Kind: RetrySelector, Selector: "#tin"}, "already tried"},
		{"retry selector on ambiguous save", ambiguous, RecoveryAction{Kind: RetrySelector, Selector: "#save2"}, "ambiguous"},
		{"wait on ambiguous save", ambiguous, RecoveryAction{Kind: WaitAndRetry, WaitMS: 500}, ""},
		{"zero wait", fillSituation(), RecoveryAction{Kind: WaitAndRetry}, "positive"},
		{"wait too long", fillSituation(), RecoveryAction{Kind: WaitAndRetry, WaitMS: 60000}, "exceeds"},
		{"skip required", fillSituation(), RecoveryAction{Kind: SkipField}, "required"},
		{"skip optional", optional, RecoveryAction{Kind: SkipField}, ""},
		{"skip outside fill", ambiguous, RecoveryAction{Kind: SkipField}, "only valid"},
		{"dismiss", fillSituation(), RecoveryAction{Kind: DismissDialog}, ""},
		{"dismiss malformed button", fillSituation(), RecoveryAction{Kind: DismissDialog, Selector: "button[["}, "invalid selector"},
		{"abort", fillSituation(), RecoveryAction{Kind: Abort, Reason: "portal down"}, ""},
		{"unknown", fillSituation(), RecoveryAction{Kind: "submit_anyway"}, "unknown action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.sit, tt.action, 10*time.Second)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDeterministic(t *testing.T) {
	d := Deterministic{Wait: 250 * time.Millisecond}

	dec, err := d.Advise(context.Background(), fillSituation())
	require.NoError(t, err)
	assert.Equal(t, SourceDeterministic, dec.Source)
	assert.Equal(t, RecoveryAction{Kind: WaitAndRetry, WaitMS: 250, Reason: "page may still be loading"}, dec.Action)

	s := fillSituation()
	s.Kind = faults.UnexpectedDialog
	dec, err = d.Advise(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, DismissDialog, dec.Action.Kind)
}

func TestAIAdvise(t *testing.T) {
	client := llm.NewMockClient("Sure! ```json\n{\"action\": \"RETRY_SELECTOR\", \"selector\": \" #importerTin \", \"reasoning\": \"The TIN input was renamed.\"}\n```")
	a := NewAI(client, time.Second, 5*time.Second)

	dec, err := a.Advise(context.Background(), fillSituation())
	require.NoError(t, err)
	assert.Equal(t, SourceAI, dec.Source)
	assert.Equal(t, RetrySelector, dec.Action.Kind)
	assert.Equal(t, "#importerTin", dec.Action.Selector)
	assert.Equal(t, "The TIN input was renamed.", dec.Reasoning)
	assert.Equal(t, "mock/mock", dec.Model)
	assert.Equal(t, "fill", dec.Step)
	assert.Equal(t, "Importer TIN", dec.Field)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0][0].Content, "at most 5000")
	assert.Contains(t, calls[0][1].Content, "Selectors already tried: #tin, input[name=tin]")
	assert.Contains(t, calls[0][1].Content, "Retry 1 of 3")
}

func TestAIAdviseTimeout(t *testing.T) {
	client := llm.NewMockClient(`{"action":"abort"}`)
	client.Delay = time.Second
	a := NewAI(client, 20*time.Millisecond, 0)

	dec, err := a.Advise(context.Background(), fillSituation())
	require.Error(t, err)
	assert.Equal(t, faults.AdvisorTimeout, faults.KindOf(err))
	assert.Equal(t, Abort, dec.Action.Kind)
}

func TestAIAdviseServiceError(t *testing.T) {
	client := llm.NewMockClient()
	client.Err = errors.New("connection refused")
	a := NewAI(client, time.Second, 0)

	dec, err := a.Advise(context.Background(), fillSituation())
	assert.Equal(t, faults.AdvisorTimeout, faults.KindOf(err))
	assert.Equal(t, Abort, dec.Action.Kind)
}

func TestAIAdviseCancelled(t *testing.T) {
	client := llm.NewMockClient(`{"action":"abort"}`)
	client.Delay = time.Second
	a := NewAI(client, time.Minute, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Advise(ctx, fillSituation())
	assert.Equal(t, faults.Cancelled, faults.KindOf(err))
}

func TestAIAdviseUnparseable(t *testing.T) {
	a := NewAI(llm.NewMockClient("I think you should try again later."), time.Second, 0)

	dec, err := a.Advise(context.Background(), fillSituation())
	assert.Equal(t, faults.AdvisorInvalidAction, faults.KindOf(err))
	assert.Equal(t, Abort, dec.Action.Kind)
	assert.Contains(t, dec.Rejection, "no JSON object")
}

func TestRecoveryActionString(t *testing.T) {
	assert.Equal(t, "retry_selector(#x)", RecoveryAction{Kind: RetrySelector, Selector: "#x"}.String())
	assert.Equal(t, "wait_and_retry(500ms)", RecoveryAction{Kind: WaitAndRetry, WaitMS: 500}.String())
	assert.Equal(t, "dismiss_dialog", RecoveryAction{Kind: DismissDialog}.String())
	assert.Equal(t, "skip_field", RecoveryAction{Kind: SkipField}.String())
}
