package alerts

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/airguardian/airguardian/internal/models"
)

// Store persists the alert set between restarts.
type Store interface {
	LoadAlerts(ctx context.Context) ([]*models.Alert, error)
	SaveAlerts(ctx context.Context, alerts []*models.Alert) error
	Close() error
}

// SQLiteStore mirrors the alert set into a single SQLite table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the alert database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create alerts directory: %w", err)
	}

	// WAL lets the API read while the debounced save writes
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open alerts database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Alert store initialized")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			aircraft_icao24 TEXT NOT NULL,
			aircraft_callsign TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			priority TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			pilot_message TEXT NOT NULL DEFAULT '',
			audio_file TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			last_seen INTEGER NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			resolved_at INTEGER,
			times_seen INTEGER NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_fingerprint
		ON alerts(fingerprint, resolved);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// LoadAlerts returns every stored alert ordered by id.
func (s *SQLiteStore) LoadAlerts(ctx context.Context) ([]*models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fingerprint, aircraft_icao24, aircraft_callsign, category, priority,
		       summary, description, pilot_message, audio_file,
		       created_at, last_seen, resolved, resolved_at, times_seen
		FROM alerts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		var (
			a                   models.Alert
			category, priority  string
			createdAt, lastSeen int64
			resolved            int
			resolvedAt          sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.Fingerprint, &a.EntityID, &a.Callsign, &category, &priority,
			&a.Summary, &a.Rationale, &a.Phraseology, &a.AudioRef,
			&createdAt, &lastSeen, &resolved, &resolvedAt, &a.TimesSeen); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Category = models.Category(category)
		a.Severity = models.Severity(priority)
		a.CreatedAt = time.Unix(0, createdAt).UTC()
		a.LastSeenAt = time.Unix(0, lastSeen).UTC()
		a.Resolved = resolved != 0
		if resolvedAt.Valid {
			t := time.Unix(0, resolvedAt.Int64).UTC()
			a.ResolvedAt = &t
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// SaveAlerts replaces the stored set with alerts in one transaction.
func (s *SQLiteStore) SaveAlerts(ctx context.Context, alerts []*models.Alert) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts`); err != nil {
		return fmt.Errorf("failed to clear alerts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alerts (id, fingerprint, aircraft_icao24, aircraft_callsign, category, priority,
		                    summary, description, pilot_message, audio_file,
		                    created_at, last_seen, resolved, resolved_at, times_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range alerts {
		var resolvedAt any
		if a.ResolvedAt != nil {
			resolvedAt = a.ResolvedAt.UnixNano()
		}
		resolved := 0
		if a.Resolved {
			resolved = 1
		}
		if _, err := stmt.ExecContext(ctx, a.ID, a.Fingerprint, a.EntityID, a.Callsign,
			string(a.Category), string(a.Severity), a.Summary, a.Rationale, a.Phraseology, a.AudioRef,
			a.CreatedAt.UnixNano(), a.LastSeenAt.UnixNano(), resolved, resolvedAt, a.TimesSeen); err != nil {
			return fmt.Errorf("failed to insert alert %d: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alerts: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
