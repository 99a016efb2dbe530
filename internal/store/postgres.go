// Package store provides storage backends for medirelay.
//
// This file implements the PostgreSQL-backed store, selected when the DSN
// looks like a Postgres connection string.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/anontaiwan/medirelay/internal/models"
	_ "github.com/lib/pq"
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

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddRosterUser(userID string) error {
	_, err := s.db.Exec(`INSERT INTO roster (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		slog.Error("PostgresStore AddRosterUser failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to add roster user %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) ListRosterUsers() ([]string, error) {
	rows, err := s.db.Query(`SELECT user_id FROM roster ORDER BY position`)
	if err != nil {
		slog.Error("PostgresStore ListRosterUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			slog.Error("PostgresStore ListRosterUsers scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan roster row: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListRosterUsers rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate roster rows: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) SaveSchedule(userID string, entries []models.DoseEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		slog.Error("PostgresStore SaveSchedule marshal failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to encode schedule for %s: %w", userID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO schedules (user_id, entries, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET entries = EXCLUDED.entries, updated_at = NOW()`,
		userID, data)
	if err != nil {
		slog.Error("PostgresStore SaveSchedule failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to save schedule for %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) LoadSchedule(userID string) ([]models.DoseEntry, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT entries FROM schedules WHERE user_id = $1`, userID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LoadSchedule failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load schedule for %s: %w", userID, err)
	}

	var entries []models.DoseEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Error("PostgresStore LoadSchedule decode failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode schedule for %s: %w", userID, err)
	}
	return entries, nil
}

func (s *PostgresStore) MarkUnregistered(userID string) error {
	_, err := s.db.Exec(`INSERT INTO unregistered_users (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		slog.Error("PostgresStore MarkUnregistered failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to mark %s unregistered: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) RegisterByMessage(userID, patientName string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore RegisterByMessage begin failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to begin registration transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRow(`SELECT 1 FROM unregistered_users WHERE user_id = $1 FOR UPDATE`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore RegisterByMessage lookup failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to check unregistered state for %s: %w", userID, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO registered_patients (patient_name, user_id, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (patient_name) DO UPDATE SET user_id = EXCLUDED.user_id, updated_at = NOW()`,
		patientName, userID); err != nil {
		slog.Error("PostgresStore RegisterByMessage insert failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to register patient %q: %w", patientName, err)
	}
	if _, err := tx.Exec(`DELETE FROM unregistered_users WHERE user_id = $1`, userID); err != nil {
		slog.Error("PostgresStore RegisterByMessage delete failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to remove %s from unregistered set: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore RegisterByMessage commit failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to commit registration: %w", err)
	}
	slog.Info("PostgresStore RegisterByMessage promoted user", "userID", userID, "patient", patientName)
	return true, nil
}

func (s *PostgresStore) LookupPatient(patientName string) (string, error) {
	var userID string
	err := s.db.QueryRow(`SELECT user_id FROM registered_patients WHERE patient_name = $1`, patientName).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore LookupPatient failed", "error", err, "patient", patientName)
		return "", fmt.Errorf("failed to look up patient %q: %w", patientName, err)
	}
	return userID, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
