package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	// Open database connection
	db, err := sqlx.Open("sqlite3", dsn+"?_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	// Run migrations
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Release Operations
// =============================================================================

// releaseRow represents a release row in the database.
type releaseRow struct {
	ID           string  `db:"id"`
	Operation    string  `db:"operation"`
	Environment  string  `db:"environment"`
	Version      string  `db:"version"`
	Revision     string  `db:"revision"`
	Status       string  `db:"status"`
	ErrorMessage string  `db:"error_message"`
	Operator     string  `db:"operator"`
	StartedAt    string  `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

func releaseToRow(r *domain.ReleaseRecord) releaseRow {
	var finishedAt *string
	if r.FinishedAt != nil {
		s := r.FinishedAt.UTC().Format(timeLayout)
		finishedAt = &s
	}
	return releaseRow{
		ID:           r.ID,
		Operation:    string(r.Operation),
		Environment:  r.Environment,
		Version:      r.Version,
		Revision:     r.Revision,
		Status:       string(r.Status),
		ErrorMessage: r.ErrorMessage,
		Operator:     r.Operator,
		StartedAt:    r.StartedAt.UTC().Format(timeLayout),
		FinishedAt:   finishedAt,
	}
}

func rowToRelease(row *releaseRow) *domain.ReleaseRecord {
	startedAt, _ := time.Parse(timeLayout, row.StartedAt)

	var finishedAt *time.Time
	if row.FinishedAt != nil && *row.FinishedAt != "" {
		t, _ := time.Parse(timeLayout, *row.FinishedAt)
		finishedAt = &t
	}

	return &domain.ReleaseRecord{
		ID:           row.ID,
		Operation:    domain.Operation(row.Operation),
		Environment:  row.Environment,
		Version:      row.Version,
		Revision:     row.Revision,
		Status:       domain.RecordStatus(row.Status),
		ErrorMessage: row.ErrorMessage,
		Operator:     row.Operator,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
	}
}

func (s *SQLiteStore) CreateRelease(ctx context.Context, record *domain.ReleaseRecord) error {
	if record.ID == "" || !record.Status.IsValid() {
		return NewStoreError("CreateRelease", "release", record.ID, "id and a valid status are required", ErrInvalidData)
	}

	query := `
		INSERT INTO releases (
			id, operation, environment, version, revision,
			status, error_message, operator, started_at, finished_at
		) VALUES (
			:id, :operation, :environment, :version, :revision,
			:status, :error_message, :operator, :started_at, :finished_at
		)`

	_, err := s.db.NamedExecContext(ctx, query, releaseToRow(record))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: releases.id") {
			return NewStoreError("CreateRelease", "release", record.ID, "release already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRelease", "release", record.ID, err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) GetRelease(ctx context.Context, id string) (*domain.ReleaseRecord, error) {
	var row releaseRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM releases WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRelease", "release", id, "release not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRelease", "release", id, err.Error(), err)
	}
	return rowToRelease(&row), nil
}

func (s *SQLiteStore) UpdateRelease(ctx context.Context, record *domain.ReleaseRecord) error {
	if !record.Status.IsValid() {
		return NewStoreError("UpdateRelease", "release", record.ID, "invalid status", ErrInvalidData)
	}

	query := `
		UPDATE releases SET
			revision = :revision,
			status = :status,
			error_message = :error_message,
			finished_at = :finished_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, query, releaseToRow(record))
	if err != nil {
		return NewStoreError("UpdateRelease", "release", record.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateRelease", "release", record.ID, "release not found", ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListReleases(ctx context.Context, opts ListOptions) ([]domain.ReleaseRecord, error) {
	opts = opts.Normalize()

	var where []string
	var args []any
	if opts.Environment != "" {
		where = append(where, "environment = ?")
		args = append(args, opts.Environment)
	}
	if opts.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, string(opts.Operation))
	}

	query := `SELECT * FROM releases`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	var rows []releaseRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListReleases", "release", "", err.Error(), err)
	}

	records := make([]domain.ReleaseRecord, 0, len(rows))
	for i := range rows {
		records = append(records, *rowToRelease(&rows[i]))
	}
	return records, nil
}

func (s *SQLiteStore) LatestSuccessful(ctx context.Context, op domain.Operation, environment string) (*domain.ReleaseRecord, error) {
	query := `
		SELECT * FROM releases
		WHERE operation = ? AND environment = ? AND status = ?
		ORDER BY started_at DESC, rowid DESC LIMIT 1`

	var row releaseRow
	err := s.db.GetContext(ctx, &row, query, string(op), environment, string(domain.RecordSucceeded))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("LatestSuccessful", "release", environment, "no successful release", ErrNotFound)
		}
		return nil, NewStoreError("LatestSuccessful", "release", environment, err.Error(), err)
	}
	return rowToRelease(&row), nil
}
