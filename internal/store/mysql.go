// Package store is the MySQL persistence layer behind the ride-stop
// coordinator and the notification bridge.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/go-sql-driver/mysql"

	"github.com/blacknout/nomada-backend-sub000/internal/notify"
	"github.com/blacknout/nomada-backend-sub000/internal/ridestop"
	"github.com/blacknout/nomada-backend-sub000/pkg/config"
)

type MySQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// New wraps an existing handle; tests inject a sqlmock one.
func New(db *sql.DB, logger *slog.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: logger.With(slog.String("component", "mysql_store")),
	}
}

// Open connects using the configured DSN and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db, logger), nil
}

func (s *MySQLStore) Close() error { return s.db.Close() }

var _ ridestop.Store = (*MySQLStore)(nil)
var _ notify.TokenStore = (*MySQLStore)(nil)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ride_stops (
		id CHAR(36) PRIMARY KEY,
		ride_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		reason VARCHAR(16) NOT NULL DEFAULT 'unknown',
		latitude DOUBLE NOT NULL DEFAULT 0,
		longitude DOUBLE NOT NULL DEFAULT 0,
		address VARCHAR(255) NULL,
		is_resolved TINYINT(1) NOT NULL DEFAULT 0,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		INDEX idx_ride_stops_ride (ride_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sos_contacts (
		user_id VARCHAR(64) PRIMARY KEY,
		contact_user_id VARCHAR(64) NULL,
		contact_email VARCHAR(255) NULL
	)`,
	`CREATE TABLE IF NOT EXISTS push_tokens (
		user_id VARCHAR(64) PRIMARY KEY,
		token VARCHAR(255) NOT NULL
	)`,
}

// EnsureSchema creates the tables the realtime core needs if they are absent.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- Ride stops ---

func (s *MySQLStore) CreateStop(ctx context.Context, stop *ridestop.RideStop) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ride_stops (id, ride_id, user_id, reason, latitude, longitude, address, is_resolved, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stop.ID, stop.RideID, stop.UserID, string(stop.Reason),
		stop.Location.Latitude, stop.Location.Longitude, nullableString(stop.Location.Address),
		stop.IsResolved, stop.CreatedAt, stop.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ride stop: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetStop(ctx context.Context, id string) (*ridestop.RideStop, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ride_id, user_id, reason, latitude, longitude, address, is_resolved, created_at, updated_at
		 FROM ride_stops WHERE id = ?`, id)

	var stop ridestop.RideStop
	var reason string
	var address sql.NullString
	err := row.Scan(&stop.ID, &stop.RideID, &stop.UserID, &reason,
		&stop.Location.Latitude, &stop.Location.Longitude, &address,
		&stop.IsResolved, &stop.CreatedAt, &stop.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ridestop.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select ride stop: %w", err)
	}
	stop.Reason = ridestop.Reason(reason)
	if address.Valid {
		stop.Location.Address = &address.String
	}
	return &stop, nil
}

func (s *MySQLStore) UpdateStop(ctx context.Context, stop *ridestop.RideStop) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ride_stops SET reason = ?, latitude = ?, longitude = ?, address = ?, is_resolved = ?, updated_at = ?
		 WHERE id = ?`,
		string(stop.Reason), stop.Location.Latitude, stop.Location.Longitude,
		nullableString(stop.Location.Address), stop.IsResolved, stop.UpdatedAt, stop.ID,
	)
	if err != nil {
		return fmt.Errorf("update ride stop: %w", err)
	}
	return nil
}

func (s *MySQLStore) DeleteStop(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ride_stops WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete ride stop: %w", err)
	}
	return nil
}

// --- SOS contacts ---

func (s *MySQLStore) GetSOSContact(ctx context.Context, userID string) (*ridestop.SOSContact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT contact_user_id, contact_email FROM sos_contacts WHERE user_id = ?`, userID)

	var contactUser, contactEmail sql.NullString
	err := row.Scan(&contactUser, &contactEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ridestop.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select sos contact: %w", err)
	}
	return &ridestop.SOSContact{
		UserID: contactUser.String,
		Email:  contactEmail.String,
	}, nil
}

// SaveSOSContact upserts a user's emergency contact configuration.
func (s *MySQLStore) SaveSOSContact(ctx context.Context, userID string, contact *ridestop.SOSContact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sos_contacts (user_id, contact_user_id, contact_email) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE contact_user_id = VALUES(contact_user_id), contact_email = VALUES(contact_email)`,
		userID, emptyToNull(contact.UserID), emptyToNull(contact.Email),
	)
	if err != nil {
		return fmt.Errorf("save sos contact: %w", err)
	}
	return nil
}

// --- Push tokens ---

func (s *MySQLStore) GetPushToken(ctx context.Context, userID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token FROM push_tokens WHERE user_id = ?`, userID)

	var token string
	err := row.Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notify.ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("select push token: %w", err)
	}
	return token, nil
}

// SavePushToken upserts a user's device push token.
func (s *MySQLStore) SavePushToken(ctx context.Context, userID, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_tokens (user_id, token) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE token = VALUES(token)`,
		userID, token,
	)
	if err != nil {
		return fmt.Errorf("save push token: %w", err)
	}
	return nil
}

func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func emptyToNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}
