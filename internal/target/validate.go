package target

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/lance13c/portalpilot/internal/transform"
)

// ValidationError lists every problem found in a target definition
type ValidationError struct {
	Target   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("target %q is invalid: %s", e.Target, strings.Join(e.Problems, "; "))
}

// Validate checks the structural invariants of a target definition
func Validate(t *Target) error {
	v := &validator{t: t}
	v.run()
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Target: t.Code, Problems: v.problems}
}

type validator struct {
	t        *Target
	problems []string
}

func (v *validator) addf(format string, args ...interface{}) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) run() {
	t := v.t
	if strings.TrimSpace(t.Code) == "" {
		v.addf("code is required")
	}
	if u, err := url.Parse(t.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		v.addf("base_url %q must be an absolute URL", t.BaseURL)
	}
	switch t.AuthMode {
	case AuthForm, AuthNone:
	case AuthAPIKey:
		if t.APIKeyHeader == "" {
			v.addf("api_key auth requires api_key_header")
		}
	case AuthDelegated:
	default:
		v.addf("unknown auth_mode %q", t.AuthMode)
	}

	seenPages := map[string]bool{}
	seenSeq := map[int]string{}
	for i := range t.Pages {
		p := &t.Pages[i]
		if p.Code == "" {
			v.addf("page #%d has no code", i+1)
			continue
		}
		if seenPages[p.Code] {
			v.addf("duplicate page code %q", p.Code)
		}
		seenPages[p.Code] = true
		if other, ok := seenSeq[p.Sequence]; ok {
			v.addf("pages %q and %q share sequence %d", other, p.Code, p.Sequence)
		}
		seenSeq[p.Sequence] = p.Code
		v.page(p)
	}

	if len(t.Workflow) == 0 {
		v.addf("workflow has no steps")
	}
	for i, step := range t.Workflow {
		p, ok := t.Page(step.Page)
		if !ok {
			v.addf("workflow step %d (%s) references unknown page %q", i+1, step.Action, step.Page)
			continue
		}
		if !p.Active {
			v.addf("workflow step %d (%s) references inactive page %q", i+1, step.Action, step.Page)
		}
		switch step.Action {
		case ActionLogin:
			if t.AuthMode == AuthForm {
				if len(p.SubmitAction.Selectors) == 0 {
					v.addf("login page %q needs a submit action", p.Code)
				}
				if p.SuccessIndicator.IsZero() {
					v.addf("login page %q needs a success indicator", p.Code)
				}
			}
		case ActionNavigate:
			if p.URLPattern == "" {
				v.addf("navigate step %d: page %q has no url", i+1, p.Code)
			}
		case ActionNew:
			if p.NewRecordAction == nil && len(p.SubmitAction.Selectors) == 0 {
				v.addf("new step %d: page %q has no new_record or submit action", i+1, p.Code)
			}
		case ActionFill:
		case ActionSave:
			if len(p.SubmitAction.Selectors) == 0 {
				v.addf("save step %d: page %q has no submit action", i+1, p.Code)
			}
			if p.SuccessIndicator.IsZero() {
				v.addf("save step %d: page %q has no success indicator", i+1, p.Code)
			}
		default:
			v.addf("workflow step %d has unknown action %q", i+1, step.Action)
		}
	}
}

func (v *validator) page(p *Page) {
	switch p.Type {
	case PageLogin, PageList, PageForm, PageConfirmation:
	default:
		v.addf("page %q has unknown type %q", p.Code, p.Type)
	}
	for _, pattern := range []string{p.RecordIDPattern, p.SuccessIndicator.ReferencePattern} {
		if pattern == "" {
			continue
		}
		if _, err := regexp.Compile(pattern); err != nil {
			v.addf("page %q: bad pattern %q: %v", p.Code, pattern, err)
		}
	}

	labels := map[string]bool{}
	for i := range p.Fields {
		f := &p.Fields[i]
		where := fmt.Sprintf("page %q field %q", p.Code, f.Label)
		if f.Label == "" {
			v.addf("page %q field #%d has no label", p.Code, i+1)
		} else if labels[f.Label] {
			v.addf("page %q has duplicate field label %q", p.Code, f.Label)
		}
		labels[f.Label] = true

		if len(f.Selectors) == 0 {
			v.addf("%s needs at least one selector", where)
		}
		switch f.Kind {
		case KindText, KindSelect, KindCheckbox, KindDate, KindNumber, KindTextarea, KindHidden:
		default:
			v.addf("%s has unknown kind %q", where, f.Kind)
		}
		if _, err := transform.Parse(f.Transform); err != nil {
			v.addf("%s: %v", where, err)
		}
		if f.MaxLength < 0 {
			v.addf("%s has negative max_length", where)
		}
		if f.Repeatable {
			found := false
			for _, s := range f.Selectors {
				if strings.Contains(s, LinePlaceholder) {
					found = true
					break
				}
			}
			if !found {
				v.addf("%s is repeatable but no selector contains %s", where, LinePlaceholder)
			}
		}
		v.options(where, f)
	}
}

func (v *validator) options(where string, f *FieldMapping) {
	if len(f.Options) > 0 && f.Kind != KindSelect {
		v.addf("%s has options but kind %q", where, f.Kind)
	}
	values := map[string]bool{}
	defaults := 0
	for _, o := range f.Options {
		if values[o.Value] {
			v.addf("%s has duplicate option value %q", where, o.Value)
		}
		values[o.Value] = true
		if o.Default {
			defaults++
		}
	}
	if defaults > 1 {
		v.addf("%s has %d default options, at most one allowed", where, defaults)
	}
}
