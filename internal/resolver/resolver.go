// Package resolver turns a field mapping plus a declaration bundle into the
// exact value typed or selected on the portal.
package resolver

import (
	"strings"

	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/target"
	"github.com/lance13c/portalpilot/internal/transform"
)

// Source names the precedence rule that produced a value
type Source string

const (
	SourceStatic  Source = "static"
	SourceLocal   Source = "local"
	SourceDefault Source = "default"
	SourceNone    Source = "none"
)

// Value is a resolved field value
type Value struct {
	Text      string
	Source    Source
	Truncated bool
}

// Empty reports whether nothing was resolved
func (v Value) Empty() bool {
	return v.Text == ""
}

// Bool interprets the value for checkbox fields
func (v Value) Bool() bool {
	switch strings.ToLower(strings.TrimSpace(v.Text)) {
	case "1", "true", "yes", "y", "on", "x", "checked":
		return true
	}
	return false
}

// Resolve applies static > local > default precedence, then the declared
// transform, then max-length truncation. A required mapping that stays
// unresolved yields a MissingRequiredValue error.
func Resolve(m target.FieldMapping, bundle Bundle) (Value, error) {
	v := Value{Source: SourceNone}

	switch {
	case m.StaticValue != "":
		v.Text, v.Source = m.StaticValue, SourceStatic
	default:
		if m.LocalField != "" {
			if raw, ok := bundle.Lookup(m.LocalField); ok {
				if s, ok := scalarString(raw); ok && strings.TrimSpace(s) != "" {
					v.Text, v.Source = s, SourceLocal
				}
			}
		}
		if v.Source == SourceNone && m.Default != "" {
			v.Text, v.Source = m.Default, SourceDefault
		}
	}

	if v.Source != SourceNone && m.Transform != "" {
		chain, err := transform.Parse(m.Transform)
		if err != nil {
			return Value{}, &faults.Error{Kind: faults.InvalidConfiguration, Field: m.Label, Err: err}
		}
		out, err := chain.Apply(v.Text)
		if err != nil {
			return Value{}, &faults.Error{Kind: faults.InvalidValue, Field: m.Label, Err: err}
		}
		v.Text = out
	}

	if m.MaxLength > 0 {
		if r := []rune(v.Text); len(r) > m.MaxLength {
			v.Text = string(r[:m.MaxLength])
			v.Truncated = true
		}
	}

	if v.Empty() {
		v.Source = SourceNone
		if m.Required {
			return v, &faults.Error{
				Kind:    faults.MissingRequiredValue,
				Field:   m.Label,
				Message: "no static, local or default value",
			}
		}
	}
	return v, nil
}
