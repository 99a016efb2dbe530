// Package store provides storage backends for medirelay.
//
// This file implements the SQLite-backed store, the default persistence
// backend when the DSN is a file path.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/anontaiwan/medirelay/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

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

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "db_path", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddRosterUser(userID string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO roster (user_id) VALUES (?)`, userID)
	if err != nil {
		slog.Error("SQLiteStore AddRosterUser failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to add roster user %s: %w", userID, err)
	}
	return nil
}

func (s *SQLiteStore) ListRosterUsers() ([]string, error) {
	rows, err := s.db.Query(`SELECT user_id FROM roster ORDER BY rowid`)
	if err != nil {
		slog.Error("SQLiteStore ListRosterUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			slog.Error("SQLiteStore ListRosterUsers scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan roster row: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListRosterUsers rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate roster rows: %w", err)
	}
	slog.Debug("SQLiteStore ListRosterUsers succeeded", "count", len(users))
	return users, nil
}

func (s *SQLiteStore) SaveSchedule(userID string, entries []models.DoseEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		slog.Error("SQLiteStore SaveSchedule marshal failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to encode schedule for %s: %w", userID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO schedules (user_id, entries, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET entries = excluded.entries, updated_at = CURRENT_TIMESTAMP`,
		userID, string(data))
	if err != nil {
		slog.Error("SQLiteStore SaveSchedule failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to save schedule for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore SaveSchedule succeeded", "userID", userID, "entries", len(entries))
	return nil
}

func (s *SQLiteStore) LoadSchedule(userID string) ([]models.DoseEntry, error) {
	var data string
	err := s.db.QueryRow(`SELECT entries FROM schedules WHERE user_id = ?`, userID).Scan(&data)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore LoadSchedule not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LoadSchedule failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load schedule for %s: %w", userID, err)
	}

	var entries []models.DoseEntry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		slog.Error("SQLiteStore LoadSchedule decode failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode schedule for %s: %w", userID, err)
	}
	return entries, nil
}

func (s *SQLiteStore) MarkUnregistered(userID string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO unregistered_users (user_id) VALUES (?)`, userID)
	if err != nil {
		slog.Error("SQLiteStore MarkUnregistered failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to mark %s unregistered: %w", userID, err)
	}
	return nil
}

func (s *SQLiteStore) RegisterByMessage(userID, patientName string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore RegisterByMessage begin failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to begin registration transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRow(`SELECT 1 FROM unregistered_users WHERE user_id = ?`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore RegisterByMessage lookup failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to check unregistered state for %s: %w", userID, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO registered_patients (patient_name, user_id, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(patient_name) DO UPDATE SET user_id = excluded.user_id, updated_at = CURRENT_TIMESTAMP`,
		patientName, userID); err != nil {
		slog.Error("SQLiteStore RegisterByMessage insert failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to register patient %q: %w", patientName, err)
	}
	if _, err := tx.Exec(`DELETE FROM unregistered_users WHERE user_id = ?`, userID); err != nil {
		slog.Error("SQLiteStore RegisterByMessage delete failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to remove %s from unregistered set: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore RegisterByMessage commit failed", "error", err, "userID", userID)
		return false, fmt.Errorf("failed to commit registration: %w", err)
	}
	slog.Info("SQLiteStore RegisterByMessage promoted user", "userID", userID, "patient", patientName)
	return true, nil
}

func (s *SQLiteStore) LookupPatient(patientName string) (string, error) {
	var userID string
	err := s.db.QueryRow(`SELECT user_id FROM registered_patients WHERE patient_name = ?`, patientName).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore LookupPatient failed", "error", err, "patient", patientName)
		return "", fmt.Errorf("failed to look up patient %q: %w", patientName, err)
	}
	return userID, nil
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
