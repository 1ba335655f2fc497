// Package store provides storage backends for IntakeFlow.
//
// It persists conversation sessions and completed leads, with an in-memory
// store for tests and development plus SQLite and PostgreSQL backends.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexbr/intakeflow/internal/models"
)

// Store defines the persistence contract the conversation controller depends on.
// GetSession returns (nil, nil) when no session exists for the id.
type Store interface {
	GetSession(sessionID string) (*models.Session, error)
	SaveSession(session *models.Session) error
	DeleteSession(sessionID string) error
	DeleteSessionsBefore(cutoff time.Time) (int, error)
	SaveLead(lead models.Lead) (string, error)
	GetLead(leadID string) (*models.Lead, error)
	Status() (string, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the store DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite" by its shape.
// Anything that is not recognizably a PostgreSQL connection string is
// treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a mutex-guarded map-backed store used by tests and
// as the fallback when no DSN is configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	leads    map[string]models.Lead
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.Session),
		leads:    make(map[string]models.Lead),
	}
}

// GetSession returns a copy of the stored session, or (nil, nil) if absent.
func (s *InMemoryStore) GetSession(sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	// Copy the map so callers cannot mutate stored state in place.
	cp := sess
	cp.LeadData = make(map[string]string, len(sess.LeadData))
	for k, v := range sess.LeadData {
		cp.LeadData[k] = v
	}
	return &cp, nil
}

// SaveSession stores a snapshot of the session under its id.
func (s *InMemoryStore) SaveSession(session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	cp.LeadData = make(map[string]string, len(session.LeadData))
	for k, v := range session.LeadData {
		cp.LeadData[k] = v
	}
	s.sessions[session.SessionID] = cp
	return nil
}

// DeleteSession removes the session record entirely.
func (s *InMemoryStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// DeleteSessionsBefore removes sessions whose last update predates cutoff,
// returning the number removed.
func (s *InMemoryStore) DeleteSessionsBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastUpdated.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// SaveLead stores the lead and returns its generated id.
func (s *InMemoryStore) SaveLead(lead models.Lead) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.CompletedAt.IsZero() {
		lead.CompletedAt = time.Now()
	}
	s.leads[lead.ID] = lead
	return lead.ID, nil
}

// GetLead returns a stored lead, or (nil, nil) if absent.
func (s *InMemoryStore) GetLead(leadID string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[leadID]
	if !ok {
		return nil, nil
	}
	return &lead, nil
}

// Status reports the backend health for the service status endpoint.
func (s *InMemoryStore) Status() (string, error) {
	return "active", nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
