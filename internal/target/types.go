// Package target holds the portal configuration the engine drives: targets,
// their pages, field mappings and dropdown option tables.
package target

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthMode defines how a target authenticates a session
type AuthMode string

const (
	AuthForm      AuthMode = "form"
	AuthAPIKey    AuthMode = "api_key"
	AuthNone      AuthMode = "none"
	AuthDelegated AuthMode = "delegated"
)

// Action is one of the fixed workflow actions
type Action string

const (
	ActionLogin    Action = "login"
	ActionNavigate Action = "navigate"
	ActionNew      Action = "new"
	ActionFill     Action = "fill"
	ActionSave     Action = "save"
)

// PageType describes the role of a page in the workflow
type PageType string

const (
	PageLogin        PageType = "login"
	PageList         PageType = "list"
	PageForm         PageType = "form"
	PageConfirmation PageType = "confirmation"
)

// FieldKind is the declared kind of a form field
type FieldKind string

const (
	KindText     FieldKind = "text"
	KindSelect   FieldKind = "select"
	KindCheckbox FieldKind = "checkbox"
	KindDate     FieldKind = "date"
	KindNumber   FieldKind = "number"
	KindTextarea FieldKind = "textarea"
	KindHidden   FieldKind = "hidden"
)

// LinePlaceholder is replaced by the 1-based line index in repeatable selectors
const LinePlaceholder = "{N}"

// Target is one external portal
type Target struct {
	Code         string         `yaml:"code" json:"code"`
	Name         string         `yaml:"name" json:"name"`
	BaseURL      string         `yaml:"base_url" json:"base_url"`
	LoginURL     string         `yaml:"login_url,omitempty" json:"login_url,omitempty"`
	AuthMode     AuthMode       `yaml:"auth_mode" json:"auth_mode"`
	Credentials  string         `yaml:"credentials,omitempty" json:"-"` // sealed bundle
	APIKeyHeader string         `yaml:"api_key_header,omitempty" json:"api_key_header,omitempty"`
	AllowAI      bool           `yaml:"allow_ai" json:"allow_ai"`
	Workflow     []WorkflowStep `yaml:"workflow" json:"workflow"`
	Pages        []Page         `yaml:"pages" json:"pages"`
	Active       bool           `yaml:"active" json:"active"`
	LastTestedAt *time.Time     `yaml:"last_tested_at,omitempty" json:"last_tested_at,omitempty"`
	LastMappedAt *time.Time     `yaml:"last_mapped_at,omitempty" json:"last_mapped_at,omitempty"`

	// Populated by the loader
	SourceFile string `yaml:"-" json:"-"`
	Checksum   string `yaml:"-" json:"-"`
}

// WorkflowStep pairs an action with the page it runs on
type WorkflowStep struct {
	Action Action `yaml:"action" json:"action"`
	Page   string `yaml:"page" json:"page"`
}

// Page is one logical screen of a target workflow
type Page struct {
	Code             string            `yaml:"code" json:"code"`
	Name             string            `yaml:"name,omitempty" json:"name,omitempty"`
	URLPattern       string            `yaml:"url,omitempty" json:"url,omitempty"`
	Type             PageType          `yaml:"type" json:"type"`
	Sequence         int               `yaml:"sequence" json:"sequence"`
	SubmitAction     ActionDescriptor  `yaml:"submit,omitempty" json:"submit,omitempty"`
	NewRecordAction  *ActionDescriptor `yaml:"new_record,omitempty" json:"new_record,omitempty"`
	RecordIDPattern  string            `yaml:"record_id_pattern,omitempty" json:"record_id_pattern,omitempty"`
	SuccessIndicator Indicator         `yaml:"success,omitempty" json:"success,omitempty"`
	ErrorIndicator   Indicator         `yaml:"error,omitempty" json:"error,omitempty"`
	Active           bool              `yaml:"active" json:"active"`
	Fields           []FieldMapping    `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// ActionDescriptor locates the control that triggers a page action
type ActionDescriptor struct {
	Selectors []string      `yaml:"selectors" json:"selectors"`
	Settle    time.Duration `yaml:"settle,omitempty" json:"settle,omitempty"`
}

// Indicator is a text and/or structural pattern classifying a page outcome
type Indicator struct {
	Text             string `yaml:"text,omitempty" json:"text,omitempty"`
	Selector         string `yaml:"selector,omitempty" json:"selector,omitempty"`
	ReferencePattern string `yaml:"reference_pattern,omitempty" json:"reference_pattern,omitempty"`
}

// IsZero reports whether the indicator has nothing to match
func (i Indicator) IsZero() bool {
	return i.Text == "" && i.Selector == ""
}

// FieldMapping binds a local data attribute to one form field
type FieldMapping struct {
	Label       string          `yaml:"label" json:"label"`
	LocalField  string          `yaml:"local_field,omitempty" json:"local_field,omitempty"`
	Selectors   []string        `yaml:"selectors" json:"selectors"`
	Kind        FieldKind       `yaml:"kind" json:"kind"`
	StaticValue string          `yaml:"static_value,omitempty" json:"static_value,omitempty"`
	Default     string          `yaml:"default,omitempty" json:"default,omitempty"`
	Transform   string          `yaml:"transform,omitempty" json:"transform,omitempty"`
	Required    bool            `yaml:"required" json:"required"`
	MaxLength   int             `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Order       int             `yaml:"order" json:"order"`
	Section     string          `yaml:"section,omitempty" json:"section,omitempty"`
	Active      bool            `yaml:"active" json:"active"`
	Repeatable  bool            `yaml:"repeatable,omitempty" json:"repeatable,omitempty"`
	Fuzzy       bool            `yaml:"fuzzy,omitempty" json:"fuzzy,omitempty"`
	Options     []DropdownValue `yaml:"options,omitempty" json:"options,omitempty"`
}

// SelectorsForLine expands the line placeholder in every selector candidate
func (f FieldMapping) SelectorsForLine(line int) []string {
	if !f.Repeatable {
		return append([]string(nil), f.Selectors...)
	}
	n := strconv.Itoa(line)
	out := make([]string, len(f.Selectors))
	for i, s := range f.Selectors {
		out[i] = strings.ReplaceAll(s, LinePlaceholder, n)
	}
	return out
}

// SortedOptions returns the options in stored sort order, stable on
// configuration order
func (f FieldMapping) SortedOptions() []DropdownValue {
	opts := append([]DropdownValue(nil), f.Options...)
	sort.SliceStable(opts, func(i, j int) bool {
		return opts[i].SortOrder < opts[j].SortOrder
	})
	return opts
}

// DropdownValue is one allowed option of a select field
type DropdownValue struct {
	Value     string   `yaml:"value" json:"value"`
	Label     string   `yaml:"label,omitempty" json:"label,omitempty"`
	Internal  string   `yaml:"internal,omitempty" json:"internal,omitempty"`
	Matches   []string `yaml:"matches,omitempty" json:"matches,omitempty"`
	SortOrder int      `yaml:"sort_order,omitempty" json:"sort_order,omitempty"`
	Default   bool     `yaml:"default,omitempty" json:"default,omitempty"`
}

// Page looks up a page by code
func (t *Target) Page(code string) (*Page, bool) {
	for i := range t.Pages {
		if t.Pages[i].Code == code {
			return &t.Pages[i], true
		}
	}
	return nil, false
}

// LoginPage returns the page referenced by the first login step
func (t *Target) LoginPage() (*Page, bool) {
	for _, step := range t.Workflow {
		if step.Action == ActionLogin {
			return t.Page(step.Page)
		}
	}
	return nil, false
}

// ActiveFields returns the page's active mappings in tab/visit order
func (p *Page) ActiveFields() []FieldMapping {
	fields := make([]FieldMapping, 0, len(p.Fields))
	for _, f := range p.Fields {
		if f.Active {
			fields = append(fields, f)
		}
	}
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].Order < fields[j].Order
	})
	return fields
}

// Clone returns a deep copy so callers can hold a private snapshot
func (t *Target) Clone() *Target {
	c := *t
	c.Workflow = append([]WorkflowStep(nil), t.Workflow...)
	c.Pages = make([]Page, len(t.Pages))
	for i, p := range t.Pages {
		cp := p
		cp.SubmitAction.Selectors = append([]string(nil), p.SubmitAction.Selectors...)
		if p.NewRecordAction != nil {
			nr := *p.NewRecordAction
			nr.Selectors = append([]string(nil), p.NewRecordAction.Selectors...)
			cp.NewRecordAction = &nr
		}
		cp.Fields = make([]FieldMapping, len(p.Fields))
		for j, f := range p.Fields {
			cf := f
			cf.Selectors = append([]string(nil), f.Selectors...)
			cf.Options = make([]DropdownValue, len(f.Options))
			for k, o := range f.Options {
				co := o
				co.Matches = append([]string(nil), o.Matches...)
				cf.Options[k] = co
			}
			cp.Fields[j] = cf
		}
		c.Pages[i] = cp
	}
	if t.LastTestedAt != nil {
		ts := *t.LastTestedAt
		c.LastTestedAt = &ts
	}
	if t.LastMappedAt != nil {
		ts := *t.LastMappedAt
		c.LastMappedAt = &ts
	}
	return &c
}

// Active flags default to true when omitted from a definition file.

func (t *Target) UnmarshalYAML(n *yaml.Node) error {
	type raw Target
	r := raw{Active: true, AuthMode: AuthForm}
	if err := n.Decode(&r); err != nil {
		return err
	}
	*t = Target(r)
	return nil
}

func (p *Page) UnmarshalYAML(n *yaml.Node) error {
	type raw Page
	r := raw{Active: true}
	if err := n.Decode(&r); err != nil {
		return err
	}
	*p = Page(r)
	return nil
}

func (f *FieldMapping) UnmarshalYAML(n *yaml.Node) error {
	type raw FieldMapping
	r := raw{Active: true, Kind: KindText}
	if err := n.Decode(&r); err != nil {
		return err
	}
	*f = FieldMapping(r)
	return nil
}
