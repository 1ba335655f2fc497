// Package store provides storage backends for IntakeFlow.
//
// This file implements the SQLite-backed store for sessions and leads.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lexbr/intakeflow/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetSession retrieves a session by id, returning (nil, nil) when absent.
func (s *SQLiteStore) GetSession(sessionID string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT session_id, platform, current_step, flow_completed, collecting_phone,
		phone_collected, ai_mode, lead_data, message_count, phone_number, phone_formatted,
		lead_id, source, authorized_at, created_at, last_updated
		FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSession not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore GetSession found", "sessionID", sessionID, "step", sess.CurrentStep)
	return sess, nil
}

// SaveSession inserts or replaces the session record.
func (s *SQLiteStore) SaveSession(session *models.Session) error {
	leadData, err := marshalLeadData(session.LeadData)
	if err != nil {
		slog.Error("SQLiteStore SaveSession lead data marshal failed", "error", err, "sessionID", session.SessionID)
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO sessions
		(session_id, platform, current_step, flow_completed, collecting_phone, phone_collected,
		 ai_mode, lead_data, message_count, phone_number, phone_formatted, lead_id, source,
		 authorized_at, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.Platform, session.CurrentStep, session.FlowCompleted,
		session.CollectingPhone, session.PhoneCollected, session.AIMode, leadData,
		session.MessageCount, nilIfEmpty(session.PhoneNumber), nilIfEmpty(session.PhoneFormatted),
		nilIfEmpty(session.LeadID), nilIfEmpty(session.Source), session.AuthorizedAt,
		session.CreatedAt, session.LastUpdated)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "sessionID", session.SessionID)
		return fmt.Errorf("failed to save session %s: %w", session.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "sessionID", session.SessionID, "step", session.CurrentStep)
	return nil
}

// DeleteSession removes the session record.
func (s *SQLiteStore) DeleteSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore DeleteSession succeeded", "sessionID", sessionID)
	return nil
}

// DeleteSessionsBefore removes sessions whose last update predates cutoff,
// returning the number removed.
func (s *SQLiteStore) DeleteSessionsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE last_updated < ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore DeleteSessionsBefore failed", "error", err, "cutoff", cutoff)
		return 0, fmt.Errorf("failed to delete stale sessions: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	slog.Debug("SQLiteStore DeleteSessionsBefore succeeded", "removed", removed, "cutoff", cutoff)
	return int(removed), nil
}

// SaveLead inserts the lead and returns its generated id.
func (s *SQLiteStore) SaveLead(lead models.Lead) (string, error) {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`INSERT INTO leads
		(id, name, area_of_law, situation, wants_meeting, session_id, platform, completed_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.Name, lead.AreaOfLaw, lead.Situation, lead.WantsMeeting,
		lead.SessionID, lead.Platform, lead.CompletedAt, lead.Status)
	if err != nil {
		slog.Error("SQLiteStore SaveLead failed", "error", err, "sessionID", lead.SessionID)
		return "", fmt.Errorf("failed to insert lead for session %s: %w", lead.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveLead succeeded", "leadID", lead.ID, "sessionID", lead.SessionID)
	return lead.ID, nil
}

// GetLead retrieves a lead by id, returning (nil, nil) when absent.
func (s *SQLiteStore) GetLead(leadID string) (*models.Lead, error) {
	row := s.db.QueryRow(`SELECT id, name, area_of_law, situation, wants_meeting, session_id,
		platform, completed_at, status FROM leads WHERE id = ?`, leadID)
	var lead models.Lead
	err := row.Scan(&lead.ID, &lead.Name, &lead.AreaOfLaw, &lead.Situation, &lead.WantsMeeting,
		&lead.SessionID, &lead.Platform, &lead.CompletedAt, &lead.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetLead failed", "error", err, "leadID", leadID)
		return nil, fmt.Errorf("failed to query lead %s: %w", leadID, err)
	}
	return &lead, nil
}

// Status reports backend health by pinging the database.
func (s *SQLiteStore) Status() (string, error) {
	if err := s.db.Ping(); err != nil {
		return "error", err
	}
	return "active", nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
