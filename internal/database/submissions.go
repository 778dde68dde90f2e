package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lance13c/portalpilot/internal/advisor"
	"github.com/lance13c/portalpilot/internal/faults"
	"github.com/lance13c/portalpilot/internal/recorder"
)

// SubmissionStore persists submission records in sqlite
type SubmissionStore struct {
	db *DB
}

// Submissions returns the recorder store over db
func (db *DB) Submissions() *SubmissionStore {
	return &SubmissionStore{db: db}
}

// Create inserts a new record with its children
func (s *SubmissionStore) Create(ctx context.Context, r *recorder.Record) error {
	return s.write(ctx, r, false)
}

// Save replaces a record and all of its children
func (s *SubmissionStore) Save(ctx context.Context, r *recorder.Record) error {
	return s.write(ctx, r, true)
}

func (s *SubmissionStore) write(ctx context.Context, r *recorder.Record, replace bool) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var finished sql.NullTime
	if r.FinishedAt != nil {
		finished = sql.NullTime{Time: *r.FinishedAt, Valid: true}
	}

	if replace {
		res, err := tx.ExecContext(ctx, `
			UPDATE submissions SET target_code = ?, declaration_id = ?, status = ?, reference = ?,
				external_record_id = ?, failure_kind = ?, failure_message = ?, started_at = ?, finished_at = ?
			WHERE id = ?`,
			r.TargetCode, r.DeclarationID, string(r.Status), r.Reference, r.ExternalRecordID,
			string(r.FailureKind), r.FailureMessage, r.StartedAt, finished, r.ID)
		if err != nil {
			return fmt.Errorf("failed to update submission: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", recorder.ErrNotFound, r.ID)
		}
		for _, table := range []string{"submission_screenshots", "submission_decisions", "submission_events"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE submission_id = ?", r.ID); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
	} else {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO submissions (id, target_code, declaration_id, status, reference, external_record_id,
				failure_kind, failure_message, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.TargetCode, r.DeclarationID, string(r.Status), r.Reference, r.ExternalRecordID,
			string(r.FailureKind), r.FailureMessage, r.StartedAt, finished)
		if err != nil {
			return fmt.Errorf("failed to save submission: %w", err)
		}
	}

	if err := insertChildren(ctx, tx, r); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertChildren(ctx context.Context, tx *sql.Tx, r *recorder.Record) error {
	shot, err := tx.PrepareContext(ctx, `
		INSERT INTO submission_screenshots (submission_id, seq, step, page, state, path, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer shot.Close()
	for _, sc := range r.Screenshots {
		if _, err := shot.ExecContext(ctx, r.ID, sc.Seq, sc.Step, sc.Page, sc.State, sc.Path, sc.TakenAt); err != nil {
			return fmt.Errorf("failed to save screenshot: %w", err)
		}
	}

	dec, err := tx.PrepareContext(ctx, `
		INSERT INTO submission_decisions (submission_id, seq, source, step, page, field, error_kind, retry,
			action, selector, wait_ms, reason, reasoning, accepted, rejection, model, cost, latency_ms, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer dec.Close()
	for i, d := range r.Decisions {
		if _, err := dec.ExecContext(ctx, r.ID, i+1, string(d.Source), d.Step, d.Page, d.Field, string(d.Kind), d.Retry,
			string(d.Action.Kind), d.Action.Selector, d.Action.WaitMS, d.Action.Reason, d.Reasoning,
			d.Accepted, d.Rejection, d.Model, d.Cost, d.Latency.Milliseconds(), d.At); err != nil {
			return fmt.Errorf("failed to save decision: %w", err)
		}
	}

	ev, err := tx.PrepareContext(ctx, `
		INSERT INTO submission_events (submission_id, seq, kind, step, page, field, fault, message, recovered, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer ev.Close()
	for _, e := range r.Events {
		if _, err := ev.ExecContext(ctx, r.ID, e.Seq, string(e.Kind), e.Step, e.Page, e.Field,
			string(e.Fault), e.Message, e.Recovered, e.At); err != nil {
			return fmt.Errorf("failed to save event: %w", err)
		}
	}
	return nil
}

const submissionColumns = `id, target_code, declaration_id, status, reference, external_record_id,
	failure_kind, failure_message, started_at, finished_at`

func scanSubmission(row interface{ Scan(...interface{}) error }) (*recorder.Record, error) {
	var (
		r        recorder.Record
		status   string
		kind     string
		finished sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.TargetCode, &r.DeclarationID, &status, &r.Reference, &r.ExternalRecordID,
		&kind, &r.FailureMessage, &r.StartedAt, &finished); err != nil {
		return nil, err
	}
	r.Status = recorder.Status(status)
	r.FailureKind = faults.Kind(kind)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

// Get loads a record with screenshots, decisions and events
func (s *SubmissionStore) Get(ctx context.Context, id string) (*recorder.Record, error) {
	r, err := scanSubmission(s.db.conn.QueryRowContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", recorder.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	if err := s.loadChildren(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SubmissionStore) loadChildren(ctx context.Context, r *recorder.Record) error {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT seq, step, page, state, path, taken_at FROM submission_screenshots
		WHERE submission_id = ? ORDER BY seq`, r.ID)
	if err != nil {
		return fmt.Errorf("failed to query screenshots: %w", err)
	}
	for rows.Next() {
		var sc recorder.Screenshot
		if err := rows.Scan(&sc.Seq, &sc.Step, &sc.Page, &sc.State, &sc.Path, &sc.TakenAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan screenshot: %w", err)
		}
		r.Screenshots = append(r.Screenshots, sc)
	}
	rows.Close()

	rows, err = s.db.conn.QueryContext(ctx, `
		SELECT source, step, page, field, error_kind, retry, action, selector, wait_ms, reason, reasoning,
			accepted, rejection, model, cost, latency_ms, decided_at
		FROM submission_decisions WHERE submission_id = ? ORDER BY seq`, r.ID)
	if err != nil {
		return fmt.Errorf("failed to query decisions: %w", err)
	}
	for rows.Next() {
		var (
			d                    advisor.Decision
			source, kind, action string
			latency              int64
		)
		if err := rows.Scan(&source, &d.Step, &d.Page, &d.Field, &kind, &d.Retry, &action, &d.Action.Selector,
			&d.Action.WaitMS, &d.Action.Reason, &d.Reasoning, &d.Accepted, &d.Rejection, &d.Model, &d.Cost,
			&latency, &d.At); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan decision: %w", err)
		}
		d.Source = advisor.Source(source)
		d.Kind = faults.Kind(kind)
		d.Action.Kind = advisor.ActionKind(action)
		d.Latency = time.Duration(latency) * time.Millisecond
		r.Decisions = append(r.Decisions, d)
	}
	rows.Close()

	rows, err = s.db.conn.QueryContext(ctx, `
		SELECT seq, kind, step, page, field, fault, message, recovered, at FROM submission_events
		WHERE submission_id = ? ORDER BY seq`, r.ID)
	if err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e           recorder.Event
			kind, fault string
		)
		if err := rows.Scan(&e.Seq, &kind, &e.Step, &e.Page, &e.Field, &fault, &e.Message, &e.Recovered, &e.At); err != nil {
			return fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = recorder.EventKind(kind)
		e.Fault = faults.Kind(fault)
		r.Events = append(r.Events, e)
	}
	return rows.Err()
}

// List returns matching records, newest first. Children are not loaded.
func (s *SubmissionStore) List(ctx context.Context, f recorder.Filter) ([]*recorder.Record, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.TargetCode != "" {
		where = append(where, "target_code = ?")
		args = append(args, f.TargetCode)
	}
	if f.DeclarationID != "" {
		where = append(where, "declaration_id = ?")
		args = append(args, f.DeclarationID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := "SELECT " + submissionColumns + " FROM submissions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var out []*recorder.Record
	for rows.Next() {
		r, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a record; children cascade
func (s *SubmissionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx, "DELETE FROM submissions WHERE id = ?", id)
	return err
}
