// Package driver walks a target's workflow in one browser session: it logs
// in, navigates, fills fields and saves, classifying every outcome and
// escalating recoverable failures to the recovery advisor.
package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/lance13c/portalpilot/internal/advisor"
	"github.com/lance13c/portalpilot/internal/browser"
	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/logging"
	"github.com/lance13c/portalpilot/internal/matcher"
	"github.com/lance13c/portalpilot/internal/metrics"
	"github.com/lance13c/portalpilot/internal/recorder"
	"github.com/lance13c/portalpilot/internal/target"
)

// State is a node of the submission state machine
type State string

const (
	NotStarted State = "not_started"
	LoggingIn  State = "logging_in"
	Navigating State = "navigating"
	Filling    State = "filling"
	Submitting State = "submitting"
	Succeeded  State = "succeeded"
	Failed     State = "failed"
)

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

func stateFor(a target.Action) State {
	switch a {
	case target.ActionLogin:
		return LoggingIn
	case target.ActionFill:
		return Filling
	case target.ActionSave:
		return Submitting
	default:
		return Navigating
	}
}

// Progress is reported on every transition and before each field
type Progress struct {
	State  State
	Step   int
	Action target.Action
	Page   string
	Field  string
	At     time.Time
}

// Options tune a driver
type Options struct {
	// RetryBudget is the number of recovery attempts per step, and per
	// field while filling
	RetryBudget int
	// RetryWait is the pause used by deterministic retries
	RetryWait time.Duration
	// SettleDelay is waited after a click when the action has no settle time
	SettleDelay time.Duration
	// Advisor is consulted on recoverable failures when the target allows
	// AI assistance; nil means deterministic retries only
	Advisor advisor.Advisor
	// MaxWait caps wait_and_retry decisions
	MaxWait time.Duration
	// PageStateLimit bounds the page summary sent to the advisor
	PageStateLimit int
	Metrics        *metrics.Metrics
	Progress       func(Progress)
	// Logf receives human readable milestones, e.g. for connection tests
	Logf func(format string, args ...interface{})
	// HTTPClient is used for delegated token requests when set
	HTTPClient *http.Client
}

// DefaultOptions returns the stock retry budget and waits
func DefaultOptions() Options {
	return Options{
		RetryBudget:    3,
		RetryWait:      time.Second,
		SettleDelay:    300 * time.Millisecond,
		MaxWait:        10 * time.Second,
		PageStateLimit: 6000,
	}
}

// Driver executes one plan in one session. It is not safe for concurrent
// use; every browser action is awaited before the next.
type Driver struct {
	target  *target.Target
	session browser.Session
	sub     *recorder.Submission
	opts    Options
	advisor advisor.Advisor

	state     State
	vars      map[string]string
	reference string
}

// New creates a driver over an open session. Events are reported to sub,
// which may be nil for connection tests.
func New(t *target.Target, session browser.Session, sub *recorder.Submission, opts Options) *Driver {
	if opts.RetryBudget < 0 {
		opts.RetryBudget = 0
	}
	d := &Driver{
		target:  t,
		session: session,
		sub:     sub,
		opts:    opts,
		state:   NotStarted,
		vars:    map[string]string{},
	}
	d.advisor = advisor.Deterministic{Wait: opts.RetryWait}
	if t.AllowAI && opts.Advisor != nil {
		d.advisor = opts.Advisor
	}
	return d
}

// State returns the current state
func (d *Driver) State() State {
	return d.state
}

// Reference returns the external reference captured by the last save
func (d *Driver) Reference() string {
	return d.reference
}

// RecordID returns the portal record id captured by a new or save step
func (d *Driver) RecordID() string {
	return d.vars["record_id"]
}

// Run executes the plan. On success it returns the reference number
// extracted from the final save; on failure the returned error carries the
// fault kind of the original problem.
func (d *Driver) Run(ctx context.Context, p *Plan) (string, error) {
	if d.state != NotStarted {
		return "", fmt.Errorf("driver already ran (state %s)", d.state)
	}
	d.vars["declaration_id"] = p.DeclarationID

	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return "", d.fail(ctx, step, faults.Wrap(faults.Cancelled, err, "submission cancelled"))
		}

		d.transition(ctx, stateFor(step.Action), step, "")
		start := time.Now()
		err := d.runStep(ctx, p, step)
		d.opts.Metrics.StepFinished(d.target.Code, string(step.Action), time.Since(start))
		if err != nil {
			return "", d.fail(ctx, step, err)
		}
	}

	d.transition(ctx, Succeeded, PlannedStep{}, "")
	return d.reference, nil
}

func (d *Driver) runStep(ctx context.Context, p *Plan, step PlannedStep) error {
	switch step.Action {
	case target.ActionLogin:
		return d.login(ctx, p, step)
	case target.ActionNavigate:
		return d.navigate(ctx, p, step)
	case target.ActionNew:
		return d.newRecord(ctx, step)
	case target.ActionFill:
		return d.fill(ctx, step)
	case target.ActionSave:
		return d.save(ctx, step)
	default:
		return &faults.Error{Kind: faults.InvalidConfiguration, Message: fmt.Sprintf("unknown action %q", step.Action)}
	}
}

func (d *Driver) fail(ctx context.Context, step PlannedStep, err error) error {
	if fe, ok := err.(*faults.Error); ok {
		if fe.Step == "" {
			fe.Step = string(step.Action)
		}
		if fe.Page == "" && step.Page != nil {
			fe.Page = step.Page.Code
		}
	}
	logging.Error("Submission to %s failed at step %d (%s): %v", d.target.Code, step.Index, step.Action, err)
	d.logf("failed: %v", err)

	var field string
	if fe, ok := err.(*faults.Error); ok {
		field = fe.Field
	}
	if d.sub != nil {
		_ = d.sub.AddError(string(step.Action), pageCode(step), field, err, false)
	}
	d.transition(context.WithoutCancel(ctx), Failed, step, "")
	return err
}

func pageCode(step PlannedStep) string {
	if step.Page == nil {
		return ""
	}
	return step.Page.Code
}

// transition moves the state machine and captures a screenshot of the page
// as it stands. Screenshot failures are logged and otherwise ignored.
func (d *Driver) transition(ctx context.Context, s State, step PlannedStep, field string) {
	d.state = s
	page := pageCode(step)
	logging.Debug("Driver %s: %s step=%d page=%s", d.target.Code, s, step.Index, page)
	d.notify(s, step, field)

	if d.sub == nil {
		return
	}
	png, err := d.session.Screenshot(ctx)
	if err != nil {
		logging.Warn("Screenshot at %s/%s failed: %v", page, s, err)
		return
	}
	if err := d.sub.AddScreenshot(string(step.Action), page, string(s), png); err != nil {
		logging.Warn("Failed to store screenshot at %s/%s: %v", page, s, err)
	}
}

func (d *Driver) notify(s State, step PlannedStep, field string) {
	if d.opts.Progress == nil {
		return
	}
	d.opts.Progress(Progress{
		State:  s,
		Step:   step.Index,
		Action: step.Action,
		Page:   pageCode(step),
		Field:  field,
		At:     time.Now(),
	})
}

func (d *Driver) logf(format string, args ...interface{}) {
	if d.opts.Logf != nil {
		d.opts.Logf(format, args...)
	}
}

func (d *Driver) warn(step PlannedStep, field string, kind faults.Kind, msg string) {
	logging.Warn("%s %s/%s: %s", d.target.Code, pageCode(step), field, msg)
	if d.sub != nil {
		_ = d.sub.AddWarning(string(step.Action), pageCode(step), field, kind, msg)
	}
}

func (d *Driver) navigate(ctx context.Context, p *Plan, step PlannedStep) error {
	u, err := d.pageURL(p, step.Page.URLPattern)
	if err != nil {
		return err
	}
	return d.load(ctx, u)
}

func (d *Driver) load(ctx context.Context, u string) error {
	d.logf("loading %s", u)
	if err := d.session.Navigate(ctx, u); err != nil {
		return d.classify(err, nil)
	}
	return nil
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_.]+)\}`)

// pageURL renders a page URL pattern and resolves it against the target's
// base URL. Placeholders name runtime values or bundle paths.
func (d *Driver) pageURL(p *Plan, pattern string) (string, error) {
	var unresolved []string
	rendered := placeholderRe.ReplaceAllStringFunc(pattern, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := d.vars[name]; ok && v != "" {
			return url.PathEscape(v)
		}
		if raw, ok := p.bundle.Lookup(name); ok {
			if s := fmt.Sprint(raw); s != "" {
				return url.PathEscape(s)
			}
		}
		unresolved = append(unresolved, name)
		return m
	})
	if len(unresolved) > 0 {
		return "", &faults.Error{Kind: faults.InvalidConfiguration,
			Message: fmt.Sprintf("url %q has unresolved placeholders: %s", pattern, strings.Join(unresolved, ", "))}
	}
	return resolveURL(d.target.BaseURL, rendered)
}

func resolveURL(base, ref string) (string, error) {
	if ref == "" {
		return base, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", faults.Wrap(faults.InvalidConfiguration, err, "base url")
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", faults.Wrap(faults.InvalidConfiguration, err, "page url")
	}
	return b.ResolveReference(r).String(), nil
}

func (d *Driver) newRecord(ctx context.Context, step PlannedStep) error {
	action := step.Page.SubmitAction
	if step.Page.NewRecordAction != nil {
		action = *step.Page.NewRecordAction
	}
	if err := d.click(ctx, step, action); err != nil {
		return err
	}
	d.captureRecordID(ctx, step)
	return nil
}

// captureRecordID applies the page's record-id pattern to the current URL
func (d *Driver) captureRecordID(ctx context.Context, step PlannedStep) {
	if step.Page.RecordIDPattern == "" {
		return
	}
	re, err := regexp.Compile(step.Page.RecordIDPattern)
	if err != nil {
		d.warn(step, "", faults.InvalidConfiguration, err.Error())
		return
	}
	current, err := d.session.CurrentURL(ctx)
	if err != nil {
		d.warn(step, "", faults.SessionError, err.Error())
		return
	}
	m := re.FindStringSubmatch(current)
	if m == nil {
		d.warn(step, "", faults.AmbiguousOutcome, fmt.Sprintf("record id pattern did not match %s", current))
		return
	}
	id := m[0]
	if len(m) > 1 {
		id = m[1]
	}
	d.vars["record_id"] = id
	d.logf("captured record id %s", id)
	if d.sub != nil {
		_ = d.sub.SetExternalRecordID(id)
	}
}

// click presses the first present selector of an action and waits for the
// page to settle.
func (d *Driver) click(ctx context.Context, step PlannedStep, action target.ActionDescriptor) error {
	loc := location{step: step}
	err := d.withRecovery(ctx, loc, newBudget(d.opts.RetryBudget), action.Selectors, func(ctx context.Context, candidates []string) error {
		sel, err := d.present(ctx, loc, candidates)
		if err != nil {
			return err
		}
		return d.session.Click(ctx, sel)
	})
	if err != nil {
		return err
	}
	settle := action.Settle
	if settle <= 0 {
		settle = d.opts.SettleDelay
	}
	return d.sleep(ctx, settle)
}

// present returns the first candidate existing in the live page
func (d *Driver) present(ctx context.Context, loc location, candidates []string) (string, error) {
	var queryErr error
	failed := 0
	for i, sel := range candidates {
		ok, err := d.session.Exists(ctx, sel)
		if err != nil {
			var de *browser.DialogError
			if errors.As(err, &de) || errors.Is(err, browser.ErrSessionClosed) || ctx.Err() != nil {
				return "", err
			}
			// one unusable candidate must not hide the others
			logging.Warn("%s %s: selector %q could not be queried: %v", d.target.Code, loc.describe(), sel, err)
			queryErr = err
			failed++
			continue
		}
		if !ok {
			continue
		}
		if i > 0 {
			logging.Info("%s %s: selector %q missing, using fallback %q", d.target.Code, loc.describe(), candidates[0], sel)
			d.opts.Metrics.SelectorFallback(d.target.Code, pageCode(loc.step))
		}
		return sel, nil
	}
	if failed > 0 && failed == len(candidates) {
		return "", queryErr
	}
	return "", &faults.Error{
		Kind:      faults.SelectorNotFound,
		Field:     loc.field,
		Selectors: append([]string(nil), candidates...),
		Message:   "no selector candidate is present",
		Err:       queryErr,
	}
}

func (d *Driver) fill(ctx context.Context, step PlannedStep) error {
	for _, f := range step.Fields {
		if err := ctx.Err(); err != nil {
			return &faults.Error{Kind: faults.Cancelled, Field: f.Name, Message: "submission cancelled", Err: err}
		}
		if err := d.fillField(ctx, step, f); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) fillField(ctx context.Context, step PlannedStep, f PlannedField) error {
	if f.Value.Truncated {
		d.warn(step, f.Name, faults.InvalidValue,
			fmt.Sprintf("value truncated to %d characters", f.Mapping.MaxLength))
	}
	if f.Skip {
		if f.Match != nil && f.Match.Unmapped() && !f.Value.Empty() {
			d.opts.Metrics.UnmappedValue(d.target.Code)
			d.warn(step, f.Name, faults.UnmappedDropdownValue, f.Match.Explain(f.Value.Text))
		}
		return nil
	}
	if f.Match != nil && f.Match.Reason != matcher.ReasonAlias {
		logging.Debug("%s %s: %s", d.target.Code, f.Name, f.Match.Explain(f.Value.Text))
	}

	d.notify(Filling, step, f.Name)
	loc := location{step: step, field: f.Name, required: f.Mapping.Required}
	return d.withRecovery(ctx, loc, newBudget(d.opts.RetryBudget), f.Selectors, func(ctx context.Context, candidates []string) error {
		sel, err := d.present(ctx, loc, candidates)
		if err != nil {
			return err
		}
		return d.write(ctx, f, sel)
	})
}

func (d *Driver) write(ctx context.Context, f PlannedField, sel string) error {
	switch f.Mapping.Kind {
	case target.KindSelect:
		return d.session.Select(ctx, sel, f.Text())
	case target.KindCheckbox:
		return d.session.SetChecked(ctx, sel, f.Value.Bool())
	case target.KindHidden:
		return d.session.SetHidden(ctx, sel, f.Text())
	default:
		return d.session.Fill(ctx, sel, f.Text())
	}
}

func (d *Driver) save(ctx context.Context, step PlannedStep) error {
	if err := d.submitAndClassify(ctx, step); err != nil {
		return err
	}
	d.captureRecordID(ctx, step)
	return nil
}

func (d *Driver) sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return faults.Wrap(faults.Cancelled, ctx.Err(), "submission cancelled")
	case <-t.C:
		return nil
	}
}
