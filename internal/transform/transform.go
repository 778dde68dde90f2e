// Package transform implements the closed vocabulary of value transforms a
// field mapping may declare, e.g. "remove_dots" or "date_format:DD/MM/YYYY".
// Descriptors can be chained with "|" and are applied left to right.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Func transforms a resolved value
type Func func(string) (string, error)

// Chain is a parsed transform descriptor
type Chain struct {
	desc  string
	steps []Func
}

// String returns the descriptor the chain was parsed from
func (c Chain) String() string {
	return c.desc
}

// Apply runs every step in order. An empty value passes through untouched.
func (c Chain) Apply(value string) (string, error) {
	if value == "" {
		return value, nil
	}
	var err error
	for _, step := range c.steps {
		value, err = step(value)
		if err != nil {
			return "", fmt.Errorf("transform %q: %w", c.desc, err)
		}
	}
	return value, nil
}

var simple = map[string]Func{
	"remove_dots":       replacer("."),
	"remove_spaces":     func(s string) (string, error) { return strings.Join(strings.Fields(s), ""), nil },
	"strip_punctuation": stripPunctuation,
	"digits_only":       digitsOnly,
	"upper":             func(s string) (string, error) { return strings.ToUpper(s), nil },
	"lower":             func(s string) (string, error) { return strings.ToLower(s), nil },
	"trim":              func(s string) (string, error) { return strings.TrimSpace(s), nil },
}

// Parse validates a descriptor and returns its chain. The empty descriptor
// is the identity.
func Parse(desc string) (Chain, error) {
	chain := Chain{desc: desc}
	if strings.TrimSpace(desc) == "" {
		return chain, nil
	}
	for _, part := range strings.Split(desc, "|") {
		part = strings.TrimSpace(part)
		name, arg, hasArg := strings.Cut(part, ":")
		if fn, ok := simple[name]; ok && !hasArg {
			chain.steps = append(chain.steps, fn)
			continue
		}
		switch name {
		case "date_format":
			if arg == "" {
				return Chain{}, fmt.Errorf("date_format requires a pattern")
			}
			chain.steps = append(chain.steps, dateFormat(layoutFromPattern(arg)))
		case "decimal":
			places, err := strconv.Atoi(arg)
			if err != nil || places < 0 || places > 10 {
				return Chain{}, fmt.Errorf("decimal requires a place count between 0 and 10, got %q", arg)
			}
			chain.steps = append(chain.steps, decimal(places))
		default:
			return Chain{}, fmt.Errorf("unknown transform %q", part)
		}
	}
	return chain, nil
}

func replacer(old string) Func {
	return func(s string) (string, error) {
		return strings.ReplaceAll(s, old, ""), nil
	}
}

func stripPunctuation(s string) (string, error) {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, s), nil
}

func digitsOnly(s string) (string, error) {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s), nil
}

// Input layouts accepted for date values, tried in order
var inputLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"2006/01/02",
}

var patternTokens = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

func layoutFromPattern(pattern string) string {
	return patternTokens.Replace(pattern)
}

func dateFormat(layout string) Func {
	return func(s string) (string, error) {
		s = strings.TrimSpace(s)
		for _, in := range inputLayouts {
			if t, err := time.Parse(in, s); err == nil {
				return t.Format(layout), nil
			}
		}
		return "", fmt.Errorf("unrecognised date %q", s)
	}
}

func decimal(places int) Func {
	return func(s string) (string, error) {
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
		if err != nil {
			return "", fmt.Errorf("not a number: %q", s)
		}
		return strconv.FormatFloat(f, 'f', places, 64), nil
	}
}
