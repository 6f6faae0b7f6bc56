package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// AuditLog records RCON activity in SQLite. It is history only: nothing in
// it is used to restore a session.
type AuditLog struct {
	db *Database
}

// CommandRecord is one command round trip.
type CommandRecord struct {
	ID        int64         `json:"id"`
	SessionID string        `json:"session_id"`
	Server    string        `json:"server"`
	Command   string        `json:"command"`
	Response  string        `json:"response"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// SessionRecord is one RCON session from connect to end.
type SessionRecord struct {
	SessionID   string     `json:"session_id"`
	Server      string     `json:"server"`
	Game        string     `json:"game"`
	Address     string     `json:"address"`
	ConnectedAt time.Time  `json:"connected_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Cause       string     `json:"cause,omitempty"`
}

// Alert represents an alert record.
type Alert struct {
	ID        int64     `json:"id"`
	Server    string    `json:"server"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryFilter narrows History. Zero values match everything; Limit
// defaults to 50.
type HistoryFilter struct {
	Server string
	Since  time.Time
	Limit  int
}

// auditPragmas suit an append-mostly log written by one process while the
// gateway reads history: WAL keeps readers off the writer, NORMAL sync is
// enough for records that can be lost on power failure.
var auditPragmas = []Pragma{
	{"journal_mode", "WAL"},
	{"synchronous", "NORMAL"},
	{"busy_timeout", "5000"},
	{"foreign_keys", "ON"},
}

// NewAuditLog opens the audit database at dbPath and migrates its schema.
func NewAuditLog(dbPath string) (*AuditLog, error) {
	database, err := NewDatabase(dbPath, auditPragmas...)
	if err != nil {
		return nil, err
	}

	a := &AuditLog{db: database}
	if err := a.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}
	return a, nil
}

// migrate creates the database schema. Times are unix milliseconds.
func (a *AuditLog) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			server TEXT NOT NULL,
			command TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			duration_ns INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			server TEXT NOT NULL,
			game TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			connected_at INTEGER NOT NULL,
			ended_at INTEGER,
			cause TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			acknowledged INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_commands_server ON commands(server, created_at);
		CREATE INDEX IF NOT EXISTS idx_sessions_server ON sessions(server);
		CREATE INDEX IF NOT EXISTS idx_alerts_acknowledged ON alerts(acknowledged);
	`

	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("audit schema migrated")
	return nil
}

// RecordCommand stores one command round trip.
func (a *AuditLog) RecordCommand(rec CommandRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := a.db.Exec(
		`INSERT INTO commands (session_id, server, command, response, error, duration_ns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Server, rec.Command, rec.Response, rec.Error,
		int64(rec.Duration), rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// History returns commands newest first.
func (a *AuditLog) History(f HistoryFilter) ([]CommandRecord, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	var where []string
	var args []interface{}
	if f.Server != "" {
		where = append(where, "server = ?")
		args = append(args, f.Server)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}

	query := "SELECT id, session_id, server, command, response, error, duration_ns, created_at FROM commands"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	defer rows.Close()

	records := []CommandRecord{}
	for rows.Next() {
		var rec CommandRecord
		var duration, created int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Server, &rec.Command,
			&rec.Response, &rec.Error, &duration, &created); err != nil {
			return nil, fmt.Errorf("history scan failed: %w", err)
		}
		rec.Duration = time.Duration(duration)
		rec.CreatedAt = time.UnixMilli(created)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SessionStarted records a session reaching Ready.
func (a *AuditLog) SessionStarted(rec SessionRecord) error {
	if rec.ConnectedAt.IsZero() {
		rec.ConnectedAt = time.Now()
	}
	_, err := a.db.Exec(
		`INSERT OR REPLACE INTO sessions (session_id, server, game, address, connected_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Server, rec.Game, rec.Address, rec.ConnectedAt.UnixMilli())
	return err
}

// SessionEnded stamps the end of a session. Unknown ids are ignored.
func (a *AuditLog) SessionEnded(sessionID, cause string, at time.Time) error {
	_, err := a.db.Exec(
		"UPDATE sessions SET ended_at = ?, cause = ? WHERE session_id = ? AND ended_at IS NULL",
		at.UnixMilli(), cause, sessionID)
	return err
}

// Sessions returns the most recent sessions of server, newest first.
func (a *AuditLog) Sessions(server string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.Query(
		`SELECT session_id, server, game, address, connected_at, ended_at, cause
		 FROM sessions WHERE server = ? ORDER BY connected_at DESC LIMIT ?`,
		server, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var connected int64
		var ended sql.NullInt64
		if err := rows.Scan(&rec.SessionID, &rec.Server, &rec.Game, &rec.Address,
			&connected, &ended, &rec.Cause); err != nil {
			return nil, err
		}
		rec.ConnectedAt = time.UnixMilli(connected)
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CreateAlert creates a new alert record.
func (a *AuditLog) CreateAlert(server, level, message string) error {
	_, err := a.db.Exec(
		"INSERT INTO alerts (server, level, message, created_at) VALUES (?, ?, ?, ?)",
		server, level, message, time.Now().UnixMilli())
	return err
}

// GetUnacknowledgedAlerts returns all unacknowledged alerts.
func (a *AuditLog) GetUnacknowledgedAlerts() ([]Alert, error) {
	rows, err := a.db.Query(
		"SELECT id, server, level, message, created_at FROM alerts WHERE acknowledged = 0 ORDER BY id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var al Alert
		var created int64
		if err := rows.Scan(&al.ID, &al.Server, &al.Level, &al.Message, &created); err != nil {
			continue
		}
		al.CreatedAt = time.UnixMilli(created)
		alerts = append(alerts, al)
	}
	return alerts, nil
}

// AcknowledgeAlert marks an alert as acknowledged.
func (a *AuditLog) AcknowledgeAlert(alertID int64) error {
	_, err := a.db.Exec("UPDATE alerts SET acknowledged = 1 WHERE id = ?", alertID)
	return err
}

// Prune removes commands, finished sessions and acknowledged alerts older
// than days.
func (a *AuditLog) Prune(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()
	var removed int64

	err := a.db.Transaction(func(tx *sql.Tx) error {
		for _, q := range []string{
			"DELETE FROM commands WHERE created_at < ?",
			"DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?",
			"DELETE FROM alerts WHERE acknowledged = 1 AND created_at < ?",
		} {
			res, err := tx.Exec(q, cutoff)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune failed: %w", err)
	}

	if removed > 0 {
		log.Info().Int64("rows", removed).Int("days", days).Msg("audit log pruned")
	}
	return removed, nil
}

// Close closes the database.
func (a *AuditLog) Close() error {
	return a.db.Close()
}
