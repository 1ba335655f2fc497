// Package store provides storage backends for IntakeFlow.
//
// This file implements the PostgreSQL-backed store for sessions and leads.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/lexbr/intakeflow/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// GetSession retrieves a session by id, returning (nil, nil) when absent.
func (s *PostgresStore) GetSession(sessionID string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT session_id, platform, current_step, flow_completed, collecting_phone,
		phone_collected, ai_mode, lead_data, message_count, phone_number, phone_formatted,
		lead_id, source, authorized_at, created_at, last_updated
		FROM sessions WHERE session_id = $1`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetSession not found", "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore GetSession found", "sessionID", sessionID, "step", sess.CurrentStep)
	return sess, nil
}

// SaveSession inserts or updates the session record.
func (s *PostgresStore) SaveSession(session *models.Session) error {
	leadData, err := marshalLeadData(session.LeadData)
	if err != nil {
		slog.Error("PostgresStore SaveSession lead data marshal failed", "error", err, "sessionID", session.SessionID)
		return err
	}
	_, err = s.db.Exec(`INSERT INTO sessions
		(session_id, platform, current_step, flow_completed, collecting_phone, phone_collected,
		 ai_mode, lead_data, message_count, phone_number, phone_formatted, lead_id, source,
		 authorized_at, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (session_id) DO UPDATE SET
		 platform = EXCLUDED.platform, current_step = EXCLUDED.current_step,
		 flow_completed = EXCLUDED.flow_completed, collecting_phone = EXCLUDED.collecting_phone,
		 phone_collected = EXCLUDED.phone_collected, ai_mode = EXCLUDED.ai_mode,
		 lead_data = EXCLUDED.lead_data, message_count = EXCLUDED.message_count,
		 phone_number = EXCLUDED.phone_number, phone_formatted = EXCLUDED.phone_formatted,
		 lead_id = EXCLUDED.lead_id, source = EXCLUDED.source,
		 authorized_at = EXCLUDED.authorized_at, last_updated = EXCLUDED.last_updated`,
		session.SessionID, session.Platform, session.CurrentStep, session.FlowCompleted,
		session.CollectingPhone, session.PhoneCollected, session.AIMode, leadData,
		session.MessageCount, nilIfEmpty(session.PhoneNumber), nilIfEmpty(session.PhoneFormatted),
		nilIfEmpty(session.LeadID), nilIfEmpty(session.Source), session.AuthorizedAt,
		session.CreatedAt, session.LastUpdated)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "sessionID", session.SessionID)
		return fmt.Errorf("failed to save session %s: %w", session.SessionID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "sessionID", session.SessionID, "step", session.CurrentStep)
	return nil
}

// DeleteSession removes the session record.
func (s *PostgresStore) DeleteSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore DeleteSession succeeded", "sessionID", sessionID)
	return nil
}

// DeleteSessionsBefore removes sessions whose last update predates cutoff,
// returning the number removed.
func (s *PostgresStore) DeleteSessionsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE last_updated < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore DeleteSessionsBefore failed", "error", err, "cutoff", cutoff)
		return 0, fmt.Errorf("failed to delete stale sessions: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	slog.Debug("PostgresStore DeleteSessionsBefore succeeded", "removed", removed, "cutoff", cutoff)
	return int(removed), nil
}

// SaveLead inserts the lead and returns its generated id.
func (s *PostgresStore) SaveLead(lead models.Lead) (string, error) {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`INSERT INTO leads
		(id, name, area_of_law, situation, wants_meeting, session_id, platform, completed_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		lead.ID, lead.Name, lead.AreaOfLaw, lead.Situation, lead.WantsMeeting,
		lead.SessionID, lead.Platform, lead.CompletedAt, lead.Status)
	if err != nil {
		slog.Error("PostgresStore SaveLead failed", "error", err, "sessionID", lead.SessionID)
		return "", fmt.Errorf("failed to insert lead for session %s: %w", lead.SessionID, err)
	}
	slog.Debug("PostgresStore SaveLead succeeded", "leadID", lead.ID, "sessionID", lead.SessionID)
	return lead.ID, nil
}

// GetLead retrieves a lead by id, returning (nil, nil) when absent.
func (s *PostgresStore) GetLead(leadID string) (*models.Lead, error) {
	row := s.db.QueryRow(`SELECT id, name, area_of_law, situation, wants_meeting, session_id,
		platform, completed_at, status FROM leads WHERE id = $1`, leadID)
	var lead models.Lead
	err := row.Scan(&lead.ID, &lead.Name, &lead.AreaOfLaw, &lead.Situation, &lead.WantsMeeting,
		&lead.SessionID, &lead.Platform, &lead.CompletedAt, &lead.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetLead failed", "error", err, "leadID", leadID)
		return nil, fmt.Errorf("failed to query lead %s: %w", leadID, err)
	}
	return &lead, nil
}

// Status reports backend health by pinging the database.
func (s *PostgresStore) Status() (string, error) {
	if err := s.db.Ping(); err != nil {
		return "error", err
	}
	return "active", nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
