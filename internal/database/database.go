// Package database keeps an append-only SQLite journal of dispatched commands.
// It is an audit trail for search and diagnostics; sessions themselves live
// only in memory.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// FileName is the journal file created inside the data directory
const FileName = "termcore.db"

// Command kinds recorded in the journal
const (
	KindBuiltin    = "builtin"
	KindForwarded  = "forwarded"
	KindParseError = "parse_error"
)

// DB represents the SQLite database connection and operations
type DB struct {
	conn *sql.DB
	path string
}

// CommandRecord is one journaled command line
type CommandRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Line       string    `json:"line"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	WorkingDir string    `json:"working_dir"`
	Timestamp  time.Time `json:"timestamp"`
}

// SearchQuery filters SearchCommands. Zero fields do not filter.
type SearchQuery struct {
	SessionID string
	Text      string // substring of the command line
	Kind      string
	Success   *bool
	Since     time.Time
	Limit     int
}

// SessionStats aggregates the journal for one session
type SessionStats struct {
	TotalCommands      int     `json:"total_commands"`
	SuccessfulCommands int     `json:"successful_commands"`
	FailedCommands     int     `json:"failed_commands"`
	AvgDurationMs      float64 `json:"avg_duration_ms"`
}

// NewDB opens (or creates) the journal inside dataDir
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, FileName)

	conn, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{
		conn: conn,
		path: dbPath,
	}

	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates the database schema
func (db *DB) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS commands (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		line TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL,
		working_dir TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_commands_session_id ON commands(session_id);
	CREATE INDEX IF NOT EXISTS idx_commands_timestamp ON commands(timestamp);
	CREATE INDEX IF NOT EXISTS idx_commands_name ON commands(name);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// HealthCheck performs a basic health check on the database
func (db *DB) HealthCheck() error {
	return db.conn.Ping()
}

// RecordCommand appends a record, filling in ID and Timestamp when empty
func (db *DB) RecordCommand(ctx context.Context, rec *CommandRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()

	query := `
	INSERT INTO commands (id, session_id, line, name, kind, success, error, duration_ms, working_dir, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.conn.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.Line, rec.Name, rec.Kind, rec.Success,
		rec.Error, rec.DurationMs, rec.WorkingDir, rec.Timestamp)
	return err
}

// SearchCommands returns matching records, newest first
func (db *DB) SearchCommands(ctx context.Context, q SearchQuery) ([]*CommandRecord, error) {
	query := `
	SELECT id, session_id, line, name, kind, success, error, duration_ms, working_dir, timestamp
	FROM commands WHERE 1=1
	`

	var args []interface{}

	if q.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, q.SessionID)
	}

	// Literal, case-sensitive substring match, the same as the in-memory history
	if q.Text != "" {
		query += " AND instr(line, ?) > 0"
		args = append(args, q.Text)
	}

	if q.Kind != "" {
		query += " AND kind = ?"
		args = append(args, q.Kind)
	}

	if q.Success != nil {
		query += " AND success = ?"
		args = append(args, *q.Success)
	}

	if !q.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, q.Since.UTC())
	}

	query += " ORDER BY timestamp DESC, rowid DESC"

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []*CommandRecord
	for rows.Next() {
		var rec CommandRecord
		err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Line, &rec.Name, &rec.Kind,
			&rec.Success, &rec.Error, &rec.DurationMs, &rec.WorkingDir, &rec.Timestamp)
		if err != nil {
			return nil, err
		}
		commands = append(commands, &rec)
	}

	return commands, rows.Err()
}

// GetSessionStats returns statistics for a session
func (db *DB) GetSessionStats(ctx context.Context, sessionID string) (SessionStats, error) {
	query := `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(duration_ms), 0)
	FROM commands WHERE session_id = ?
	`

	var stats SessionStats
	err := db.conn.QueryRowContext(ctx, query, sessionID).
		Scan(&stats.TotalCommands, &stats.SuccessfulCommands, &stats.AvgDurationMs)
	if err != nil {
		return SessionStats{}, err
	}
	stats.FailedCommands = stats.TotalCommands - stats.SuccessfulCommands
	return stats, nil
}

// CleanupOlderThan deletes records written before cutoff
func (db *DB) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM commands WHERE timestamp < ?", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Count returns the number of journaled commands
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM commands").Scan(&n)
	return n, err
}
