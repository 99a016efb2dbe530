// Package store provides storage backends for medirelay.
//
// It persists three shared collections: the user roster driving the
// dispatcher scan, per-user medication schedules, and the identity registry
// (unregistered LINE users plus the patient-name → user-id mapping). An
// in-memory store backs tests, with SQLite and PostgreSQL backends for
// production. Every mutating call persists immediately; the event rate is
// low enough that durability wins over batching.
package store

import (
	"strings"
	"sync"

	"github.com/anontaiwan/medirelay/internal/models"
)

// Store is the persistence contract shared by all backends.
//
// LoadSchedule returns (nil, nil) when the user has no stored schedule, and
// LookupPatient returns ("", nil) when the name is unknown; absence is not an
// error on either path.
type Store interface {
	// AddRosterUser appends a user to the roster if absent. Idempotent.
	AddRosterUser(userID string) error
	// ListRosterUsers returns all roster users in insertion order.
	ListRosterUsers() ([]string, error)
	// SaveSchedule replaces the user's schedule wholesale.
	SaveSchedule(userID string, entries []models.DoseEntry) error
	// LoadSchedule returns the user's dose entries, or nil if none stored.
	LoadSchedule(userID string) ([]models.DoseEntry, error)
	// MarkUnregistered adds the user to the unregistered set. Idempotent.
	MarkUnregistered(userID string) error
	// RegisterByMessage promotes an unregistered user to registered under
	// patientName, overwriting any previous mapping for that name
	// (last write wins). Returns true if a promotion happened; a user not
	// currently unregistered is a no-op.
	RegisterByMessage(userID, patientName string) (bool, error)
	// LookupPatient resolves a patient name to a user id, or "" if unknown.
	LookupPatient(patientName string) (string, error)
	// Close releases backend resources.
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	// DSN is the database connection string: a file path for SQLite or a
	// postgres:// URL / key=value string for PostgreSQL.
	DSN string
}

// Option configures store construction.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". File paths and
// anything unrecognized fall back to SQLite.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore keeps all collections in process memory behind a mutex.
// It is the test double and the fallback when no DSN is configured.
type InMemoryStore struct {
	mu           sync.Mutex
	roster       []string
	rosterSet    map[string]bool
	schedules    map[string][]models.DoseEntry
	unregistered map[string]bool
	registered   map[string]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rosterSet:    make(map[string]bool),
		schedules:    make(map[string][]models.DoseEntry),
		unregistered: make(map[string]bool),
		registered:   make(map[string]string),
	}
}

func (s *InMemoryStore) AddRosterUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rosterSet[userID] {
		return nil
	}
	s.rosterSet[userID] = true
	s.roster = append(s.roster, userID)
	return nil
}

func (s *InMemoryStore) ListRosterUsers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.roster))
	copy(out, s.roster)
	return out, nil
}

func (s *InMemoryStore) SaveSchedule(userID string, entries []models.DoseEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]models.DoseEntry, len(entries))
	copy(copied, entries)
	s.schedules[userID] = copied
	return nil
}

func (s *InMemoryStore) LoadSchedule(userID string) ([]models.DoseEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.schedules[userID]
	if !ok {
		return nil, nil
	}
	out := make([]models.DoseEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *InMemoryStore) MarkUnregistered(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregistered[userID] = true
	return nil
}

func (s *InMemoryStore) RegisterByMessage(userID, patientName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unregistered[userID] {
		return false, nil
	}
	s.registered[patientName] = userID
	delete(s.unregistered, userID)
	return true, nil
}

func (s *InMemoryStore) LookupPatient(patientName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered[patientName], nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
