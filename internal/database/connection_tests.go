package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ConnectionTest is one stored connectivity check of a target
type ConnectionTest struct {
	ID         int64
	TargetCode string
	Success    bool
	Logs       []string
	TestedAt   time.Time
}

// SaveConnectionTest stores the outcome of a connectivity check
func (db *DB) SaveConnectionTest(ctx context.Context, t *ConnectionTest) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO connection_tests (target_code, success, logs, tested_at)
		VALUES (?, ?, ?, ?)`,
		t.TargetCode, t.Success, strings.Join(t.Logs, "\n"), t.TestedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to save connection test: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// LastConnectionTest returns the most recent check of a target, or nil
func (db *DB) LastConnectionTest(ctx context.Context, code string) (*ConnectionTest, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, target_code, success, logs, tested_at FROM connection_tests
		WHERE target_code = ? ORDER BY tested_at DESC, id DESC LIMIT 1`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to query connection tests: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var (
		t    ConnectionTest
		logs string
	)
	if err := rows.Scan(&t.ID, &t.TargetCode, &t.Success, &logs, &t.TestedAt); err != nil {
		return nil, fmt.Errorf("failed to scan connection test: %w", err)
	}
	if logs != "" {
		t.Logs = strings.Split(logs, "\n")
	}
	return &t, nil
}

// Statistics counts submissions by status
func (db *DB) Statistics(ctx context.Context) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT status, COUNT(*) FROM submissions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer rows.Close()
	stats := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[status] = n
	}
	return stats, rows.Err()
}
