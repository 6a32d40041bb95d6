package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Run is one row of the rebuild ledger.
type Run struct {
	RunID      string    `json:"runId"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Pending    int       `json:"pending"`
	Warnings   int       `json:"warnings"`
	Status     string    `json:"status"`
}

// RunFailure is a conversation that failed during a run.
type RunFailure struct {
	ConversationID string `json:"conversationId"`
	Path           string `json:"path"`
	Error          string `json:"error"`
}

// StartRun inserts a run in the "running" state.
func (c *Cache) StartRun(runID, source string, total int, started time.Time) error {
	_, err := c.db.Exec(`INSERT INTO rebuild_runs (run_id, source, started_at, total, pending, status)
		VALUES (?, ?, ?, ?, ?, 'running')`,
		runID, source, started.UTC().Format(time.RFC3339Nano), total, total,
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", runID, err)
	}
	return nil
}

// FinishRun writes the final counters and failures of a run in one
// transaction.
func (c *Cache) FinishRun(r Run, failures []RunFailure) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`UPDATE rebuild_runs SET
		finished_at = ?, total = ?, succeeded = ?, failed = ?, pending = ?, warnings = ?, status = ?
		WHERE run_id = ?`,
		r.FinishedAt.UTC().Format(time.RFC3339Nano), r.Total, r.Succeeded, r.Failed,
		r.Pending, r.Warnings, r.Status, r.RunID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", r.RunID, err)
	}

	for _, f := range failures {
		_, err = tx.Exec(`INSERT OR REPLACE INTO run_failures (run_id, conversation_id, path, error)
			VALUES (?, ?, ?, ?)`, r.RunID, f.ConversationID, f.Path, f.Error)
		if err != nil {
			return fmt.Errorf("recording failure of %s: %w", f.ConversationID, err)
		}
	}
	return tx.Commit()
}

// Runs returns the most recent runs, newest first.
func (c *Cache) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.Query(`SELECT run_id, source, started_at, finished_at, total,
		succeeded, failed, pending, warnings, status
		FROM rebuild_runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.RunID, &r.Source, &started, &finished, &r.Total,
			&r.Succeeded, &r.Failed, &r.Pending, &r.Warnings, &r.Status); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid && finished.String != "" {
			r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunFailures lists the failures recorded for a run.
func (c *Cache) RunFailures(runID string) ([]RunFailure, error) {
	rows, err := c.db.Query(`SELECT conversation_id, path, error FROM run_failures
		WHERE run_id = ? ORDER BY conversation_id`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []RunFailure
	for rows.Next() {
		var f RunFailure
		var path sql.NullString
		if err := rows.Scan(&f.ConversationID, &path, &f.Error); err != nil {
			return nil, err
		}
		f.Path = path.String
		out = append(out, f)
	}
	return out, rows.Err()
}
