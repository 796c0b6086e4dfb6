package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "modernc.org/sqlite"

	"metateam/internal/metrics"
	"metateam/internal/orchestrator"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const (
	memoryPath = ":memory:"
	// Fixed width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path. ":memory:" keeps
// everything in a single in-memory connection.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if path == memoryPath {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if path != memoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			started_at        TEXT NOT NULL,
			ended_at          TEXT NOT NULL,
			total_calls       INTEGER NOT NULL,
			success_count     INTEGER NOT NULL,
			fallback_count    INTEGER NOT NULL,
			fatal_count       INTEGER NOT NULL,
			skipped_count     INTEGER NOT NULL,
			success_rate      INTEGER NOT NULL,
			total_duration_ms INTEGER NOT NULL,
			input_tokens      INTEGER NOT NULL,
			output_tokens     INTEGER NOT NULL,
			halted_at         TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS calls (
			session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq             INTEGER NOT NULL,
			id              TEXT NOT NULL,
			phase           TEXT NOT NULL DEFAULT '',
			prompt_summary  TEXT NOT NULL DEFAULT '',
			outcome         TEXT NOT NULL,
			fallback_reason TEXT NOT NULL DEFAULT '',
			attempted       INTEGER NOT NULL,
			model           TEXT NOT NULL DEFAULT '',
			input_tokens    INTEGER NOT NULL DEFAULT 0,
			output_tokens   INTEGER NOT NULL DEFAULT 0,
			duration_ms     INTEGER NOT NULL,
			created_at      TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);

		CREATE TABLE IF NOT EXISTS phases (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			name       TEXT NOT NULL,
			output     TEXT NOT NULL,
			degraded   INTEGER NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (session_id, name)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(ended_at);
		CREATE INDEX IF NOT EXISTS idx_calls_outcome ON calls(outcome);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveReport writes the session, its calls and its phase results in one
// transaction. Saving the same session again replaces it.
func (s *SQLiteStore) SaveReport(ctx context.Context, r *orchestrator.Report) error {
	if err := checkReport(r); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	sum := r.Summary
	for _, table := range []string{"calls", "phases"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, r.SessionID); err != nil {
			return fmt.Errorf("store: replace %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, r.SessionID); err != nil {
		return fmt.Errorf("store: replace session: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, name, description, started_at, ended_at, total_calls, success_count,
			fallback_count, fatal_count, skipped_count, success_rate, total_duration_ms, input_tokens,
			output_tokens, halted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Name, sum.Description, formatTime(sum.StartedAt), formatTime(sum.EndedAt),
		sum.TotalCalls, sum.SuccessCount, sum.FallbackCount, sum.FatalCount, sum.SkippedCount,
		sum.SuccessRatePercent, sum.TotalDurationMs, sum.InputTokens, sum.OutputTokens, r.HaltedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}

	for i, c := range r.Calls {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO calls (session_id, seq, id, phase, prompt_summary, outcome, fallback_reason,
				attempted, model, input_tokens, output_tokens, duration_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.SessionID, i, c.ID, c.Phase, c.PromptSummary, string(c.Outcome), c.FallbackReason,
			c.Attempted, c.Model, c.InputTokens, c.OutputTokens, c.DurationMs, formatTime(c.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("store: insert call %d: %w", i, err)
		}
	}

	for i, res := range r.Results.All() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO phases (session_id, seq, name, output, degraded, reason)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.SessionID, i, res.Name, res.Output, res.Degraded, res.Reason,
		)
		if err != nil {
			return fmt.Errorf("store: insert phase %q: %w", res.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GlobalStats(ctx context.Context) (metrics.GlobalStats, error) {
	var g metrics.GlobalStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(total_calls), 0),
			COALESCE(SUM(success_count), 0),
			COALESCE(SUM(fallback_count), 0),
			COALESCE(SUM(fatal_count), 0),
			COALESCE(SUM(total_duration_ms), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0)
		FROM sessions`,
	).Scan(&g.Sessions, &g.TotalCalls, &g.SuccessCount, &g.FallbackCount, &g.FatalCount,
		&g.TotalDurationMs, &g.InputTokens, &g.OutputTokens)
	if err != nil {
		return metrics.GlobalStats{}, fmt.Errorf("store: global stats: %w", err)
	}
	return g, nil
}

func (s *SQLiteStore) RecentSessions(ctx context.Context, limit int) ([]metrics.SessionSummary, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, started_at, ended_at, total_calls, success_count, fallback_count,
			fatal_count, skipped_count, success_rate, total_duration_ms, input_tokens, output_tokens
		FROM sessions
		ORDER BY ended_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent sessions: %w", err)
	}
	defer rows.Close()

	var out []metrics.SessionSummary
	for rows.Next() {
		var (
			sum            metrics.SessionSummary
			started, ended string
		)
		if err := rows.Scan(&sum.SessionID, &sum.Name, &sum.Description, &started, &ended,
			&sum.TotalCalls, &sum.SuccessCount, &sum.FallbackCount, &sum.FatalCount, &sum.SkippedCount,
			&sum.SuccessRatePercent, &sum.TotalDurationMs, &sum.InputTokens, &sum.OutputTokens); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sum.StartedAt = parseTime(started)
		sum.EndedAt = parseTime(ended)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent sessions: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// CallCount returns the number of stored calls for a session.
func (s *SQLiteStore) CallCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calls WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
