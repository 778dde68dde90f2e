// Package recorder keeps the audit trail of one submission attempt: the
// screenshots taken, the recovery decisions made, the errors handled and
// the final outcome. A record is immutable once it leaves pending.
package recorder

import (
	"context"
	"errors"
	"time"

	"github.com/lance13c/portalpilot/internal/advisor"
	"github.com/lance13c/portalpilot/internal/faults"
)

// Status is the lifecycle state of a submission record
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// ErrFinalized is returned when mutating a record that already has an outcome
var ErrFinalized = errors.New("submission record is finalized")

// ErrNotFound is returned by stores for unknown record ids
var ErrNotFound = errors.New("submission record not found")

// Screenshot is one captured image, stored on disk
type Screenshot struct {
	Seq     int       `json:"seq"`
	Step    string    `json:"step"`
	Page    string    `json:"page"`
	State   string    `json:"state"`
	Path    string    `json:"path"`
	TakenAt time.Time `json:"taken_at"`
}

// EventKind separates handled errors from warnings
type EventKind string

const (
	EventError   EventKind = "error"
	EventWarning EventKind = "warning"
)

// Event is a handled error or a warning raised during the attempt
type Event struct {
	Seq       int         `json:"seq"`
	Kind      EventKind   `json:"kind"`
	Step      string      `json:"step,omitempty"`
	Page      string      `json:"page,omitempty"`
	Field     string      `json:"field,omitempty"`
	Fault     faults.Kind `json:"fault"`
	Message   string      `json:"message"`
	Recovered bool        `json:"recovered"`
	At        time.Time   `json:"at"`
}

// Record is one attempt to push one declaration through one target. It
// references the target and declaration by id only.
type Record struct {
	ID               string             `json:"id"`
	TargetCode       string             `json:"target_code"`
	DeclarationID    string             `json:"declaration_id"`
	Status           Status             `json:"status"`
	Reference        string             `json:"reference,omitempty"`
	ExternalRecordID string             `json:"external_record_id,omitempty"`
	FailureKind      faults.Kind        `json:"failure_kind,omitempty"`
	FailureMessage   string             `json:"failure_message,omitempty"`
	Screenshots      []Screenshot       `json:"screenshots"`
	Decisions        []advisor.Decision `json:"decisions"`
	Events           []Event            `json:"events"`
	StartedAt        time.Time          `json:"started_at"`
	FinishedAt       *time.Time         `json:"finished_at,omitempty"`
}

// Errors returns the handled errors in order
func (r *Record) Errors() []Event {
	return r.filter(EventError)
}

// Warnings returns the warnings in order
func (r *Record) Warnings() []Event {
	return r.filter(EventWarning)
}

func (r *Record) filter(k EventKind) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	c := *r
	c.Screenshots = append([]Screenshot(nil), r.Screenshots...)
	c.Decisions = append([]advisor.Decision(nil), r.Decisions...)
	c.Events = append([]Event(nil), r.Events...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Filter narrows List results
type Filter struct {
	TargetCode    string
	DeclarationID string
	Status        Status
	Limit         int
}

// Store persists records
type Store interface {
	Create(ctx context.Context, r *Record) error
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, f Filter) ([]*Record, error)
}
