// Package catalog keeps a ledger of completed conversions in SQLite so a
// processing run can be traced back to its source files.
package catalog

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the catalog database handle.
type DB struct {
	*sql.DB
}

// Conversion is one ledger row.
type Conversion struct {
	ID           string
	SourcePath   string
	SourceFormat string
	DestPath     string
	DestFormat   string
	DigPath      string
	ChannelCount int
	SampleRate   float64
	DurationSecs float64
	CreatedAt    time.Time
}

// Open opens (and if needed initializes) the catalog at path. Use
// "file::memory:" for an ephemeral catalog.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize catalog schema: %w", err)
	}
	return &DB{db}, nil
}

// RecordConversion inserts a ledger row and returns its id.
func (db *DB) RecordConversion(c *Conversion) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := db.Exec(`INSERT INTO conversions
		(conversion_id, source_path, source_format, dest_path, dest_format, dig_path, channel_count, sample_rate, duration_secs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SourcePath, c.SourceFormat, c.DestPath, c.DestFormat, c.DigPath,
		c.ChannelCount, c.SampleRate, c.DurationSecs)
	if err != nil {
		return "", fmt.Errorf("record conversion: %w", err)
	}
	return c.ID, nil
}

// ListConversions returns ledger rows, newest first.
func (db *DB) ListConversions(limit int) ([]Conversion, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT conversion_id, source_path, source_format, dest_path, dest_format,
		COALESCE(dig_path, ''), channel_count, sample_rate, duration_secs, created_at
		FROM conversions ORDER BY created_at DESC, conversion_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	var out []Conversion
	for rows.Next() {
		var c Conversion
		if err := rows.Scan(&c.ID, &c.SourcePath, &c.SourceFormat, &c.DestPath, &c.DestFormat,
			&c.DigPath, &c.ChannelCount, &c.SampleRate, &c.DurationSecs, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
