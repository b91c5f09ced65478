// Package database archives received donations in PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(driver, dsn string) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Migrate creates all required tables
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS donations (
		id UUID PRIMARY KEY,
		herotag VARCHAR(255) NOT NULL,
		payload JSONB NOT NULL,
		received_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_donations_herotag_received ON donations(herotag, received_at DESC);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Reset drops all tables (for testing)
func (db *DB) Reset() error {
	_, err := db.Exec(`DROP TABLE IF EXISTS donations CASCADE;`)
	return err
}

// CleanData truncates all tables without dropping them (for testing)
func (db *DB) CleanData() error {
	_, err := db.Exec(`TRUNCATE TABLE donations;`)
	return err
}

// Donation is an archived donation row.
type Donation struct {
	ID         string
	Herotag    string
	Payload    []byte
	ReceivedAt time.Time
}

// InsertDonation archives payload, which must be a JSON document, and
// returns the new row id
func (db *DB) InsertDonation(ctx context.Context, herotag string, payload []byte, receivedAt time.Time) (string, error) {
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	id := uuid.New().String()
	_, err := db.ExecContext(ctx, `
		INSERT INTO donations (id, herotag, payload, received_at)
		VALUES ($1, $2, $3, $4)
	`, id, herotag, string(payload), receivedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("failed to insert donation: %w", err)
	}
	return id, nil
}

// RecentDonations returns the latest donations of herotag, newest first
func (db *DB) RecentDonations(ctx context.Context, herotag string, limit int) ([]Donation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, herotag, payload, received_at
		FROM donations
		WHERE herotag = $1
		ORDER BY received_at DESC
		LIMIT $2
	`, herotag, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query donations: %w", err)
	}
	defer rows.Close()

	var donations []Donation
	for rows.Next() {
		var d Donation
		if err := rows.Scan(&d.ID, &d.Herotag, &d.Payload, &d.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}
		donations = append(donations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read donations: %w", err)
	}
	return donations, nil
}
