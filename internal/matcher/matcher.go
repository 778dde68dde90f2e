// Package matcher maps a resolved local value onto one of a select field's
// configured options. Matching is deterministic and explainable from the
// stored configuration alone; it never consults an external service.
package matcher

import (
	"fmt"
	"strings"

	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/target"
	"github.com/sahilm/fuzzy"
	"golang.org/x/text/cases"
)

// Reason records which rule selected an option
type Reason string

const (
	ReasonAlias    Reason = "alias"
	ReasonInternal Reason = "internal"
	ReasonFuzzy    Reason = "fuzzy"
	ReasonDefault  Reason = "default"
	ReasonUnmapped Reason = "unmapped"
)

// Result is the outcome of matching one value
type Result struct {
	Code    string
	Label   string
	Reason  Reason
	Matched string // the alias or internal value that matched
}

// Unmapped reports whether no option was chosen
func (r Result) Unmapped() bool {
	return r.Reason == ReasonUnmapped
}

// Explain returns a human readable account of the match for audit logs
func (r Result) Explain(input string) string {
	switch r.Reason {
	case ReasonAlias, ReasonInternal, ReasonFuzzy:
		return fmt.Sprintf("%q matched option %s via %s %q", input, r.Code, r.Reason, r.Matched)
	case ReasonDefault:
		return fmt.Sprintf("%q matched no alias, used default option %s", input, r.Code)
	default:
		return fmt.Sprintf("%q matched no alias and the field has no default", input)
	}
}

// Match selects the option for value. Options are scanned in stored sort
// order and the first whose alias list equals or contains the normalized
// value, or whose internal value equals it, wins. Mappings that opt in with
// Fuzzy get a fuzzy pass over aliases before the default option is used.
func Match(m target.FieldMapping, value string) Result {
	opts := m.SortedOptions()
	needle := Normalize(value)

	if needle != "" {
		for _, o := range opts {
			for _, alias := range o.Matches {
				a := Normalize(alias)
				if a != "" && strings.Contains(a, needle) {
					return Result{Code: o.Value, Label: o.Label, Reason: ReasonAlias, Matched: alias}
				}
			}
			if o.Internal != "" && Normalize(o.Internal) == needle {
				return Result{Code: o.Value, Label: o.Label, Reason: ReasonInternal, Matched: o.Internal}
			}
		}

		if m.Fuzzy {
			if r, ok := fuzzyMatch(opts, needle); ok {
				return r
			}
		}
	}

	for _, o := range opts {
		if o.Default {
			return Result{Code: o.Value, Label: o.Label, Reason: ReasonDefault}
		}
	}
	return Result{Reason: ReasonUnmapped}
}

// Check matches value and reports an unmapped result as an error. Optional
// fields yield an UnmappedDropdownValue warning the caller may record and
// continue past; required fields escalate to MissingRequiredValue.
func Check(m target.FieldMapping, value string) (Result, error) {
	r := Match(m, value)
	if !r.Unmapped() {
		return r, nil
	}
	kind := faults.UnmappedDropdownValue
	if m.Required {
		kind = faults.MissingRequiredValue
	}
	return r, &faults.Error{Kind: kind, Field: m.Label, Message: r.Explain(value)}
}

// Normalize case-folds and trims a value for comparison
func Normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

type aliasIndex struct {
	folded []string
	raw    []string
	owner  []int
}

func (a aliasIndex) String(i int) string { return a.folded[i] }
func (a aliasIndex) Len() int            { return len(a.folded) }

// fuzzyMatch picks the best scoring alias; equal scores resolve to the
// alias configured first.
func fuzzyMatch(opts []target.DropdownValue, needle string) (Result, bool) {
	var idx aliasIndex
	for i, o := range opts {
		for _, alias := range o.Matches {
			idx.folded = append(idx.folded, Normalize(alias))
			idx.raw = append(idx.raw, alias)
			idx.owner = append(idx.owner, i)
		}
	}
	matches := fuzzy.FindFrom(needle, idx)
	if len(matches) == 0 {
		return Result{}, false
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Score > best.Score || (m.Score == best.Score && m.Index < best.Index) {
			best = m
		}
	}
	o := opts[idx.owner[best.Index]]
	return Result{Code: o.Value, Label: o.Label, Reason: ReasonFuzzy, Matched: idx.raw[best.Index]}, true
}
