// Package db implements the cache index: a SQLite table mapping APOD records
// to deduplicated image files by content hash.
package db

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/apod-desktop/apod/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for cached APOD images
type Repository struct {
	db *sql.DB
}

// NewRepository opens the index at dbPath, creating the schema if it does
// not exist yet. Opening an existing index reuses it.
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}
	// One connection keeps transactional check-and-insert serialised.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(migrationsTable); err != nil {
		return errors.Wrap(err, "failed to create schema_migrations table")
	}

	current := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return errors.Wrap(err, "failed to get current schema version")
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		slog.Info("database_migration_apply", "version", m.version, "name", m.name)

		tx, err := db.Begin()
		if err != nil {
			return errors.Wrap(err, "failed to begin migration")
		}
		if _, err := tx.Exec(m.up); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "failed to execute migration "+m.name)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "failed to record migration "+m.name)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrap(err, "failed to commit migration "+m.name)
		}
	}
	return nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// SchemaVersion returns the highest applied migration.
func (r *Repository) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := r.exec(ctx).QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, errors.Wrap(err, "failed to query schema version")
	}
	return version, nil
}

// Insert appends a record and returns its new id. It fails with
// DuplicateHash when the content hash is already indexed.
func (r *Repository) Insert(ctx context.Context, rec *Record) (int64, error) {
	slog.Info("database_insert_image", "title", rec.Title, "content_hash", shortHash(rec.ContentHash))

	if rec.MediaType == "" {
		rec.MediaType = MediaImage
	}

	query := `
		INSERT INTO apod_images (title, explanation, file_path, content_hash, apod_date, media_type, source_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.exec(ctx).ExecContext(ctx, query,
		rec.Title, rec.Explanation, rec.FilePath, rec.ContentHash,
		rec.APODDate, rec.MediaType, rec.SourceURL)
	if err != nil {
		if isUniqueViolation(err) {
			slog.Error("database_duplicate_hash", "content_hash", rec.ContentHash)
			return 0, errors.E(errors.KindDuplicateHash, errors.StageIndex, err)
		}
		slog.Error("database_insert_failed", "title", rec.Title, "error", err)
		return 0, errors.E(errors.KindIndexFailure, errors.StageIndex, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "title", rec.Title, "error", err)
		return 0, errors.E(errors.KindIndexFailure, errors.StageIndex, err)
	}
	rec.ID = id

	slog.Info("database_image_created", "image_id", id, "title", rec.Title)
	return id, nil
}

const selectRecord = `
	SELECT id, title, explanation, file_path, content_hash, apod_date, media_type, source_url, created_at
	FROM apod_images
`

// FindByHash returns the record holding contentHash, or NotFound.
func (r *Repository) FindByHash(ctx context.Context, contentHash string) (*Record, error) {
	slog.Info("database_query_hash", "content_hash", shortHash(contentHash))

	rec, err := scanRecord(r.exec(ctx).QueryRowContext(ctx, selectRecord+" WHERE content_hash = ?", contentHash))
	if err == sql.ErrNoRows {
		slog.Info("database_hash_not_found", "content_hash", shortHash(contentHash))
		return nil, errors.E(errors.KindNotFound, "", errors.New("no record with hash "+contentHash))
	}
	if err != nil {
		slog.Error("database_query_failed", "content_hash", contentHash, "error", err)
		return nil, errors.E(errors.KindIndexFailure, errors.StageIndex, err)
	}

	slog.Info("database_hash_found", "content_hash", shortHash(contentHash), "image_id", rec.ID)
	return rec, nil
}

// FindByID returns the record with id, or NotFound.
func (r *Repository) FindByID(ctx context.Context, id int64) (*Record, error) {
	slog.Info("database_query_image", "image_id", id)

	rec, err := scanRecord(r.exec(ctx).QueryRowContext(ctx, selectRecord+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		slog.Info("database_image_not_found", "image_id", id)
		return nil, errors.Ef(errors.KindNotFound, "", "no record with id %d", id)
	}
	if err != nil {
		slog.Error("database_query_failed", "image_id", id, "error", err)
		return nil, errors.E(errors.KindIndexFailure, errors.StageIndex, err)
	}
	return rec, nil
}

// ListTitles returns every title in insertion order.
func (r *Repository) ListTitles(ctx context.Context) ([]string, error) {
	rows, err := r.exec(ctx).QueryContext(ctx, "SELECT title FROM apod_images ORDER BY id ASC")
	if err != nil {
		slog.Error("database_list_titles_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list titles")
	}
	defer rows.Close()

	titles := []string{}
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, errors.Wrap(err, "failed to scan title")
		}
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return titles, nil
}

// List retrieves all records in insertion order.
func (r *Repository) List(ctx context.Context) ([]*Record, error) {
	slog.Info("database_list_images")

	rows, err := r.exec(ctx).QueryContext(ctx, selectRecord+" ORDER BY id ASC")
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list images")
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "image_count", len(records))
	return records, nil
}

// Count returns the number of records.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.exec(ctx).QueryRowContext(ctx, "SELECT COUNT(*) FROM apod_images").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count images")
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var createdAt sql.NullString
	err := s.Scan(&rec.ID, &rec.Title, &rec.Explanation, &rec.FilePath, &rec.ContentHash,
		&rec.APODDate, &rec.MediaType, &rec.SourceURL, &createdAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = createdAt.String
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
