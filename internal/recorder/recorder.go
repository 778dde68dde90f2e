package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lance13c/portalpilot/internal/advisor"
	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/logging"
)

// Recorder creates submissions backed by a store
type Recorder struct {
	store         Store
	screenshotDir string
	now           func() time.Time
}

// New creates a recorder. Screenshots are written below screenshotDir, one
// directory per record; an empty dir keeps no screenshot files.
func New(store Store, screenshotDir string) *Recorder {
	return &Recorder{store: store, screenshotDir: screenshotDir, now: time.Now}
}

// Store returns the backing store
func (r *Recorder) Store() Store { return r.store }

// Start creates a pending record and persists it
func (r *Recorder) Start(ctx context.Context, targetCode, declarationID string) (*Submission, error) {
	rec := &Record{
		ID:            uuid.NewString(),
		TargetCode:    targetCode,
		DeclarationID: declarationID,
		Status:        StatusPending,
		StartedAt:     r.now().UTC(),
	}
	if err := r.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create submission record: %w", err)
	}
	return &Submission{recorder: r, rec: rec}, nil
}

// Submission is the mutable handle of one pending record. It is safe for
// concurrent use, though a driver reports to it from a single goroutine.
type Submission struct {
	recorder *Recorder

	mu  sync.Mutex
	rec *Record
}

// ID returns the record id
func (s *Submission) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.ID
}

func (s *Submission) mutate(fn func(r *Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Status != StatusPending {
		return ErrFinalized
	}
	fn(s.rec)
	return nil
}

// AddScreenshot writes png to disk and appends it to the record
func (s *Submission) AddScreenshot(step, page, state string, png []byte) error {
	s.mu.Lock()
	if s.rec.Status != StatusPending {
		s.mu.Unlock()
		return ErrFinalized
	}
	seq := len(s.rec.Screenshots) + 1
	id := s.rec.ID
	s.mu.Unlock()

	var path string
	if dir := s.recorder.screenshotDir; dir != "" {
		path = filepath.Join(dir, id, fmt.Sprintf("%03d-%s-%s.png", seq, sanitize(page), sanitize(state)))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create screenshot directory: %w", err)
		}
		if err := os.WriteFile(path, png, 0644); err != nil {
			return fmt.Errorf("failed to write screenshot: %w", err)
		}
	}

	now := s.recorder.now().UTC()
	return s.mutate(func(r *Record) {
		r.Screenshots = append(r.Screenshots, Screenshot{
			Seq: len(r.Screenshots) + 1, Step: step, Page: page, State: state, Path: path, TakenAt: now,
		})
	})
}

func sanitize(s string) string {
	if s == "" {
		return "none"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// AddDecision appends an advisor decision
func (s *Submission) AddDecision(d advisor.Decision) error {
	return s.mutate(func(r *Record) { r.Decisions = append(r.Decisions, d) })
}

// AddError appends an error the driver handled or is about to fail on
func (s *Submission) AddError(step, page, field string, err error, recovered bool) error {
	return s.addEvent(Event{Kind: EventError, Step: step, Page: page, Field: field,
		Fault: faults.KindOf(err), Message: err.Error(), Recovered: recovered})
}

// AddWarning appends a non-fatal problem such as an unmapped dropdown value
func (s *Submission) AddWarning(step, page, field string, kind faults.Kind, message string) error {
	return s.addEvent(Event{Kind: EventWarning, Step: step, Page: page, Field: field,
		Fault: kind, Message: message})
}

func (s *Submission) addEvent(e Event) error {
	e.At = s.recorder.now().UTC()
	return s.mutate(func(r *Record) {
		e.Seq = len(r.Events) + 1
		r.Events = append(r.Events, e)
	})
}

// SetExternalRecordID notes the portal's own id for the draft declaration
func (s *Submission) SetExternalRecordID(id string) error {
	return s.mutate(func(r *Record) { r.ExternalRecordID = id })
}

// Succeed finalizes the record as successful
func (s *Submission) Succeed(ctx context.Context, reference string) (*Record, error) {
	return s.finalize(ctx, func(r *Record) {
		r.Status = StatusSuccess
		r.Reference = reference
	})
}

// Fail finalizes the record as failed with the kind and message of cause
func (s *Submission) Fail(ctx context.Context, cause error) (*Record, error) {
	if cause == nil {
		cause = errors.New("submission failed")
	}
	return s.finalize(ctx, func(r *Record) {
		r.Status = StatusFailed
		r.FailureKind = faults.KindOf(cause)
		if r.FailureKind == "" {
			r.FailureKind = faults.Unknown
		}
		r.FailureMessage = cause.Error()
	})
}

func (s *Submission) finalize(ctx context.Context, fn func(r *Record)) (*Record, error) {
	s.mu.Lock()
	if s.rec.Status != StatusPending {
		s.mu.Unlock()
		return nil, ErrFinalized
	}
	fn(s.rec)
	now := s.recorder.now().UTC()
	s.rec.FinishedAt = &now
	out := s.rec.Clone()
	s.mu.Unlock()

	// A cancelled attempt still gets its failed record persisted.
	if err := s.recorder.store.Save(context.WithoutCancel(ctx), out); err != nil {
		logging.Error("Failed to persist submission %s: %v", out.ID, err)
		return out, fmt.Errorf("failed to persist submission record: %w", err)
	}
	logging.Info("Submission %s for %s finalized as %s", out.ID, out.TargetCode, out.Status)
	return out, nil
}

// Snapshot returns a copy of the record as it stands
func (s *Submission) Snapshot() *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Clone()
}
