package driver

import (
	"fmt"

	"github.com/lance13c/portalpilot/internal/crypto"
	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/matcher"
	"github.com/lance13c/portalpilot/internal/resolver"
	"github.com/lance13c/portalpilot/internal/target"
)

// Input is everything a submission needs besides the target
type Input struct {
	DeclarationID string
	Bundle        resolver.Bundle
	Credentials   crypto.Credentials
}

// Plan is a fully resolved workflow. Building it touches no browser, so a
// declaration with missing required data fails before any page is loaded.
type Plan struct {
	Target        *target.Target
	DeclarationID string
	Steps         []PlannedStep

	bundle resolver.Bundle
	creds  crypto.Credentials
	probe  bool
}

// PlannedStep is one workflow step with its fields already resolved
type PlannedStep struct {
	Index  int
	Action target.Action
	Page   *target.Page
	Fields []PlannedField
}

// PlannedField is one value ready to be written into the portal
type PlannedField struct {
	Mapping   target.FieldMapping
	Name      string
	Line      int
	Selectors []string
	Value     resolver.Value
	Match     *matcher.Result
	// Skip is set for optional fields with nothing to write
	Skip bool
}

// Text returns what is typed or selected for the field
func (f PlannedField) Text() string {
	if f.Match != nil {
		return f.Match.Code
	}
	return f.Value.Text
}

// NewPlan resolves every field of every workflow step. All missing required
// values are reported together in a MissingFieldsError.
func NewPlan(t *target.Target, in Input) (*Plan, error) {
	p := &Plan{Target: t, DeclarationID: in.DeclarationID, bundle: in.Bundle, creds: in.Credentials}
	if p.bundle == nil {
		p.bundle = resolver.Bundle{}
	}
	if err := p.build(t.Workflow); err != nil {
		return nil, err
	}
	return p, nil
}

// NewLoginPlan plans only the login steps, used to probe a target's
// connection settings without touching any declaration.
func NewLoginPlan(t *target.Target, creds crypto.Credentials) (*Plan, error) {
	p := &Plan{Target: t, bundle: resolver.Bundle{}, creds: creds, probe: true}
	var steps []target.WorkflowStep
	for _, s := range t.Workflow {
		if s.Action == target.ActionLogin {
			steps = append(steps, s)
		}
	}
	if len(steps) == 0 {
		// Targets without a login step are probed by loading the base URL.
		steps = append(steps, target.WorkflowStep{Action: target.ActionLogin})
	}
	if err := p.build(steps); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plan) build(workflow []target.WorkflowStep) error {
	t := p.Target
	var missing []faults.MissingField

	for i, ws := range workflow {
		step := PlannedStep{Index: i + 1, Action: ws.Action}
		if ws.Page != "" {
			page, ok := t.Page(ws.Page)
			if !ok {
				return &faults.Error{Kind: faults.InvalidConfiguration, Step: string(ws.Action),
					Page: ws.Page, Message: "workflow references an unknown page"}
			}
			if !page.Active {
				return &faults.Error{Kind: faults.InvalidConfiguration, Step: string(ws.Action),
					Page: ws.Page, Message: "workflow references an inactive page"}
			}
			step.Page = page
		} else {
			step.Page = &target.Page{Code: string(ws.Action)}
		}

		switch ws.Action {
		case target.ActionLogin:
			fields, err := p.planLogin(step.Page, &missing)
			if err != nil {
				return err
			}
			step.Fields = fields
		case target.ActionFill:
			fields, err := planFields(step.Page, p.bundle, &missing)
			if err != nil {
				return err
			}
			step.Fields = fields
		}
		p.Steps = append(p.Steps, step)
	}

	if len(missing) > 0 {
		return &faults.MissingFieldsError{Fields: missing}
	}
	return nil
}

func (p *Plan) planLogin(page *target.Page, missing *[]faults.MissingField) ([]PlannedField, error) {
	c := p.creds
	need := func(field, value string) {
		if value == "" {
			*missing = append(*missing, faults.MissingField{Page: page.Code, Field: field})
		}
	}
	switch p.Target.AuthMode {
	case target.AuthForm:
		return planFields(page, p.bundle.With("credentials", c.Map()), missing)
	case target.AuthAPIKey:
		need("credentials.api_key", c.APIKey)
	case target.AuthDelegated:
		need("credentials.client_id", c.ClientID)
		need("credentials.client_secret", c.ClientSecret)
		need("credentials.token_url", c.TokenURL)
	}
	return nil, nil
}

func planFields(page *target.Page, bundle resolver.Bundle, missing *[]faults.MissingField) ([]PlannedField, error) {
	var out []PlannedField
	for _, m := range page.ActiveFields() {
		if !m.Repeatable {
			f, err := planField(page, m, bundle, 0, missing)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
			continue
		}

		items := bundle.Items()
		if len(items) == 0 && m.Required {
			*missing = append(*missing, faults.MissingField{Page: page.Code, Field: m.Label})
		}
		for i, item := range items {
			line := i + 1
			f, err := planField(page, m, bundle.ForLine(line, item), line, missing)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func planField(page *target.Page, m target.FieldMapping, bundle resolver.Bundle, line int, missing *[]faults.MissingField) (PlannedField, error) {
	f := PlannedField{Mapping: m, Name: m.Label, Line: line, Selectors: m.SelectorsForLine(line)}
	if line > 0 {
		f.Name = fmt.Sprintf("%s[%d]", m.Label, line)
	}

	v, err := resolver.Resolve(m, bundle)
	if err != nil {
		if faults.KindOf(err) == faults.MissingRequiredValue {
			*missing = append(*missing, faults.MissingField{Page: page.Code, Field: m.Label, Line: line})
			return f, nil
		}
		if fe, ok := err.(*faults.Error); ok {
			fe.Page, fe.Field = page.Code, f.Name
		}
		return f, err
	}
	f.Value = v

	if m.Kind == target.KindSelect {
		r, err := matcher.Check(m, v.Text)
		if err != nil && faults.KindOf(err) == faults.MissingRequiredValue {
			*missing = append(*missing, faults.MissingField{Page: page.Code, Field: m.Label, Line: line})
			return f, nil
		}
		f.Match = &r
		// Unmapped optional values are skipped with a warning at fill time.
		f.Skip = r.Unmapped()
		return f, nil
	}

	f.Skip = v.Empty()
	return f, nil
}
