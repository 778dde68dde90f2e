package driver

import (
	"context"
	"fmt"
	"regexp"

	"github.com/lance13c/portalpilot/internal/browser"
	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/logging"
	"github.com/lance13c/portalpilot/internal/target"
)

// Outcome is the classification of a page after a submit
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRejected  Outcome = "rejected"
	OutcomeAmbiguous Outcome = "ambiguous"
)

func (d *Driver) snapshot(ctx context.Context) (*browser.Snapshot, error) {
	html, err := d.session.PageHTML(ctx)
	if err != nil {
		return nil, err
	}
	current, err := d.session.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}
	return browser.NewSnapshot(current, html)
}

// matches reports whether every configured part of the indicator holds
func matches(snap *browser.Snapshot, ind target.Indicator) bool {
	if ind.IsZero() {
		return false
	}
	if ind.Text != "" && !snap.ContainsText(ind.Text) {
		return false
	}
	if ind.Selector != "" && !snap.Matches(ind.Selector) {
		return false
	}
	return true
}

// Classify decides the outcome of a page. The success indicator is checked
// before the error indicator.
func Classify(snap *browser.Snapshot, page *target.Page) Outcome {
	switch {
	case matches(snap, page.SuccessIndicator):
		return OutcomeSuccess
	case matches(snap, page.ErrorIndicator):
		return OutcomeRejected
	default:
		return OutcomeAmbiguous
	}
}

// rejectionText is the portal's own explanation of a rejection
func rejectionText(snap *browser.Snapshot, ind target.Indicator) string {
	if ind.Selector != "" {
		if t := snap.SelectorText(ind.Selector); t != "" {
			return t
		}
	}
	if ind.Text != "" {
		return ind.Text
	}
	return "error indicator matched"
}

// submitAndClassify clicks the page's submit action once and classifies the
// result. Ambiguous outcomes go to the advisor and are re-classified after
// its action; submit is never clicked again.
func (d *Driver) submitAndClassify(ctx context.Context, step PlannedStep) error {
	page := step.Page
	if err := d.click(ctx, step, page.SubmitAction); err != nil {
		return err
	}

	var refRe *regexp.Regexp
	if p := page.SuccessIndicator.ReferencePattern; p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return faults.Wrap(faults.InvalidConfiguration, err, "reference pattern")
		}
		refRe = re
	}

	loc := location{step: step}
	return d.withRecovery(ctx, loc, newBudget(d.opts.RetryBudget), nil, func(ctx context.Context, _ []string) error {
		if dlg, open := d.session.PendingDialog(); open {
			return &browser.DialogError{Dialog: dlg}
		}
		snap, err := d.snapshot(ctx)
		if err != nil {
			return err
		}

		switch Classify(snap, page) {
		case OutcomeSuccess:
			if refRe != nil {
				ref, ok := snap.Submatch(refRe)
				if !ok {
					d.warn(step, "", faults.AmbiguousOutcome, "success indicator matched but no reference number was found")
				}
				d.reference = ref
			}
			logging.Info("%s %s succeeded (reference %q)", d.target.Code, step.Action, d.reference)
			d.logf("%s on %s succeeded", step.Action, page.Code)
			return nil
		case OutcomeRejected:
			return &faults.Error{Kind: faults.PortalRejected, Message: rejectionText(snap, page.ErrorIndicator)}
		default:
			return &faults.Error{Kind: faults.AmbiguousOutcome,
				Message: fmt.Sprintf("neither success nor error indicator matched at %s", snap.URL)}
		}
	})
}
