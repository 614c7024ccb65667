// Package cache keeps peer profiles in a local sqlite database so the
// conversation list and thread headers still have names when the server is
// unreachable.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/saravenpi/wavechat/internal/models"
)

var ErrNotFound = errors.New("profile not cached")

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id INTEGER PRIMARY KEY,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_name ON profiles(first_name, last_name)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

const upsertProfile = `INSERT INTO profiles (id, first_name, last_name, image_url, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		first_name = excluded.first_name,
		last_name = excluded.last_name,
		image_url = excluded.image_url,
		updated_at = excluded.updated_at`

func (db *DB) SaveProfile(p models.Profile) error {
	_, err := db.conn.Exec(upsertProfile, int64(p.ID), p.FirstName, p.LastName, p.ImageURL, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save profile %d: %w", p.ID, err)
	}
	return nil
}

// SaveProfiles stores the whole directory in one transaction.
func (db *DB) SaveProfiles(profiles []models.Profile) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsertProfile)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, p := range profiles {
		if _, err := stmt.Exec(int64(p.ID), p.FirstName, p.LastName, p.ImageURL, now); err != nil {
			return fmt.Errorf("failed to save profile %d: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profiles: %w", err)
	}
	return nil
}

func (db *DB) Profile(id models.UserID) (models.Profile, error) {
	var p models.Profile
	var rawID int64
	err := db.conn.QueryRow(
		`SELECT id, first_name, last_name, image_url FROM profiles WHERE id = ?`, int64(id),
	).Scan(&rawID, &p.FirstName, &p.LastName, &p.ImageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("failed to read profile %d: %w", id, err)
	}
	p.ID = models.UserID(rawID)
	return p, nil
}

// Profiles returns every cached profile sorted by name.
func (db *DB) Profiles() ([]models.Profile, error) {
	rows, err := db.conn.Query(`SELECT id, first_name, last_name, image_url FROM profiles
		ORDER BY first_name COLLATE NOCASE, last_name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		var p models.Profile
		var rawID int64
		if err := rows.Scan(&rawID, &p.FirstName, &p.LastName, &p.ImageURL); err != nil {
			return nil, err
		}
		p.ID = models.UserID(rawID)
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
