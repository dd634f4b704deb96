package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS decision_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			requested_model TEXT NOT NULL,
			final_model TEXT NOT NULL,
			intent TEXT NOT NULL DEFAULT '',
			complexity TEXT NOT NULL DEFAULT '',
			confidence INTEGER NOT NULL DEFAULT 0,
			confidential INTEGER NOT NULL DEFAULT 0,
			enhanced INTEGER NOT NULL DEFAULT 0,
			original_tokens INTEGER NOT NULL DEFAULT 0,
			truncated_tokens INTEGER NOT NULL DEFAULT 0,
			messages_removed INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 200,
			error_class TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_timestamp ON decision_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_mode ON decision_logs(mode)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LogDecision(ctx context.Context, entry DecisionRecord) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	confidentialInt := 0
	if entry.Confidential {
		confidentialInt = 1
	}
	enhancedInt := 0
	if entry.Enhanced {
		enhancedInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_logs (timestamp, request_id, mode, requested_model, final_model,
		 intent, complexity, confidence, confidential, enhanced,
		 original_tokens, truncated_tokens, messages_removed, latency_ms, status_code, error_class)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339), entry.RequestID, entry.Mode,
		entry.RequestedModel, entry.FinalModel, entry.Intent, entry.Complexity,
		entry.Confidence, confidentialInt, enhancedInt,
		entry.OriginalTokens, entry.TruncatedTokens, entry.MessagesRemoved,
		entry.LatencyMs, entry.StatusCode, entry.ErrorClass)
	return err
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, limit int, offset int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, request_id, mode, requested_model, final_model,
		 intent, complexity, confidence, confidential, enhanced,
		 original_tokens, truncated_tokens, messages_removed, latency_ms, status_code, error_class
		 FROM decision_logs ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []DecisionRecord
	for rows.Next() {
		var l DecisionRecord
		var ts string
		var confidentialInt, enhancedInt int
		if err := rows.Scan(&l.ID, &ts, &l.RequestID, &l.Mode, &l.RequestedModel, &l.FinalModel,
			&l.Intent, &l.Complexity, &l.Confidence, &confidentialInt, &enhancedInt,
			&l.OriginalTokens, &l.TruncatedTokens, &l.MessagesRemoved,
			&l.LatencyMs, &l.StatusCode, &l.ErrorClass); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		l.Confidential = confidentialInt != 0
		l.Enhanced = enhancedInt != 0
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
