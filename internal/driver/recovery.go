package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/lance13c/portalpilot/internal/advisor"
	"github.com/lance13c/portalpilot/internal/browser"
	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/logging"
)

// location identifies what the driver was doing when an action failed
type location struct {
	step     PlannedStep
	field    string
	required bool
}

func (l location) describe() string {
	s := fmt.Sprintf("%s on %s", l.step.Action, pageCode(l.step))
	if l.field != "" {
		s += " field " + l.field
	}
	return s
}

// budget counts recovery attempts. Steps share one budget across their
// actions; every field of a fill step gets its own.
type budget struct {
	limit int
	used  int
}

func newBudget(limit int) *budget {
	return &budget{limit: limit}
}

func (b *budget) spend() bool {
	if b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// errSkipped ends a recovery loop after the advisor skipped an optional field
var errSkipped = errors.New("field skipped")

// withRecovery runs op until it succeeds, the failure is not recoverable,
// the advisor gives up or the budget is spent. op receives the selector
// candidates to try, which grow when the advisor proposes a new selector.
// When recovery fails the original error is returned unchanged.
func (d *Driver) withRecovery(ctx context.Context, loc location, b *budget, selectors []string,
	op func(ctx context.Context, candidates []string) error) error {

	candidates := append([]string(nil), selectors...)
	var original error

	for {
		err := op(ctx, candidates)
		if err == nil {
			if original != nil && d.sub != nil {
				_ = d.sub.AddError(string(loc.step.Action), pageCode(loc.step), loc.field, original, true)
			}
			return nil
		}
		err = d.classify(err, candidates)
		if fe, ok := err.(*faults.Error); ok && fe.Field == "" {
			fe.Field = loc.field
		}
		if !faults.Recoverable(err) {
			return err
		}
		if original == nil {
			original = err
		}
		if err := ctx.Err(); err != nil {
			return faults.Wrap(faults.Cancelled, err, "submission cancelled")
		}
		if !b.spend() {
			logging.Warn("%s %s: retry budget of %d exhausted", d.target.Code, loc.describe(), b.limit)
			d.logf("retry budget exhausted: %v", original)
			return original
		}

		next, proceed, err := d.recover(ctx, loc, b, err, candidates)
		if errors.Is(err, errSkipped) {
			if d.sub != nil {
				_ = d.sub.AddError(string(loc.step.Action), pageCode(loc.step), loc.field, original, true)
			}
			return nil
		}
		if err != nil {
			return err
		}
		if !proceed {
			return original
		}
		candidates = next
	}
}

// recover consults the advisor about failure and applies its decision. It
// returns the candidates for the next attempt; proceed is false when the
// advisor aborted. An advisor that fails or gives unusable advice counts as
// an abort, so the caller keeps the original failure.
func (d *Driver) recover(ctx context.Context, loc location, b *budget, failure error, candidates []string) (next []string, proceed bool, err error) {
	sit := d.situation(ctx, loc, b, failure, candidates)
	dec, err := d.advisor.Advise(ctx, sit)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, false, faults.Wrap(faults.Cancelled, cerr, "submission cancelled")
		}
		d.record(dec, false, err.Error())
		d.abandon(loc, faults.KindOf(err), err.Error())
		return nil, false, nil
	}

	maxWait := d.opts.MaxWait
	if dec.Source == advisor.SourceDeterministic {
		maxWait = 0
	}
	if verr := advisor.Validate(sit, dec.Action, maxWait); verr != nil {
		d.record(dec, false, verr.Error())
		d.abandon(loc, faults.AdvisorInvalidAction, fmt.Sprintf("rejected %s: %v", dec.Action, verr))
		return nil, false, nil
	}
	d.record(dec, true, "")
	logging.Info("%s %s: applying %s (retry %d/%d)", d.target.Code, loc.describe(), dec.Action, b.used, b.limit)
	d.logf("recovery %d/%d: %s", b.used, b.limit, dec.Action)

	switch dec.Action.Kind {
	case advisor.RetrySelector:
		return append([]string{dec.Action.Selector}, candidates...), true, nil
	case advisor.DismissDialog:
		if err := d.dismiss(ctx, dec.Action.Selector); err != nil {
			return nil, false, d.classify(err, nil)
		}
		return candidates, true, nil
	case advisor.WaitAndRetry:
		if err := d.sleep(ctx, dec.Action.Wait()); err != nil {
			return nil, false, err
		}
		return candidates, true, nil
	case advisor.SkipField:
		d.warn(loc.step, loc.field, faults.KindOf(failure), "optional field skipped: "+dec.Action.Reason)
		return nil, false, errSkipped
	default:
		logging.Warn("%s %s: advisor aborted: %s", d.target.Code, loc.describe(), dec.Action.Reason)
		return nil, false, nil
	}
}

// abandon notes why recovery stopped without an explicit abort
func (d *Driver) abandon(loc location, kind faults.Kind, message string) {
	d.logf("recovery abandoned: %s", message)
	d.warn(loc.step, loc.field, kind, message)
}

// dismiss closes a native dialog, or clicks selector for an in-page one
func (d *Driver) dismiss(ctx context.Context, selector string) error {
	if selector == "" {
		if _, open := d.session.PendingDialog(); !open {
			return nil
		}
		return d.session.DismissDialog(ctx, false)
	}
	if _, open := d.session.PendingDialog(); open {
		if err := d.session.DismissDialog(ctx, false); err != nil {
			return err
		}
	}
	return d.session.Click(ctx, selector)
}

func (d *Driver) situation(ctx context.Context, loc location, b *budget, failure error, candidates []string) advisor.Situation {
	sit := advisor.Situation{
		Target:    d.target.Code,
		Step:      string(loc.step.Action),
		Page:      pageCode(loc.step),
		Field:     loc.field,
		Required:  loc.required,
		Kind:      faults.KindOf(failure),
		Error:     failure.Error(),
		Selectors: append([]string(nil), candidates...),
		Retries:   b.used - 1,
		Budget:    b.limit,
	}
	if dlg, open := d.session.PendingDialog(); open {
		sit.Dialog = fmt.Sprintf("%s: %s", dlg.Type, dlg.Message)
		return sit
	}
	if snap, err := d.snapshot(ctx); err == nil {
		sit.PageState = snap.Summary(d.opts.PageStateLimit)
	}
	return sit
}

func (d *Driver) record(dec advisor.Decision, accepted bool, rejection string) {
	dec.Accepted = accepted
	dec.Rejection = rejection
	d.opts.Metrics.Recovery(d.target.Code, string(dec.Kind), string(dec.Action.Kind), string(dec.Source), accepted, dec.Latency)
	if d.sub != nil {
		_ = d.sub.AddDecision(dec)
	}
}

// classify maps browser errors onto fault kinds
func (d *Driver) classify(err error, candidates []string) error {
	var fe *faults.Error
	if errors.As(err, &fe) {
		return err
	}
	var de *browser.DialogError
	switch {
	case errors.As(err, &de):
		return &faults.Error{Kind: faults.UnexpectedDialog, Message: de.Error(), Err: err}
	case errors.Is(err, browser.ErrElementNotFound):
		return &faults.Error{Kind: faults.SelectorNotFound, Selectors: append([]string(nil), candidates...), Err: err}
	case errors.Is(err, context.Canceled):
		return &faults.Error{Kind: faults.Cancelled, Message: "submission cancelled", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &faults.Error{Kind: faults.SessionError, Message: "browser action timed out", Err: err}
	default:
		return &faults.Error{Kind: faults.SessionError, Err: err}
	}
}
