package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/whitf/swarm/internal/models"
)

// Failure classifies a storage gate error. Each class maps to its own
// process exit status.
type Failure int

const (
	FailStorageDir Failure = iota + 1
	FailStorageOpen
	FailSchemaCorrupt
	FailVersionMismatch
)

func (f Failure) String() string {
	switch f {
	case FailStorageDir:
		return "storage directory"
	case FailStorageOpen:
		return "storage open"
	case FailSchemaCorrupt:
		return "schema corrupt"
	case FailVersionMismatch:
		return "version mismatch"
	default:
		return "unknown"
	}
}

// GateError is returned by Open when the database cannot be used. The
// drone must not start serving after one.
type GateError struct {
	Failure Failure
	Err     error
}

func (e *GateError) Error() string {
	return fmt.Sprintf("storage gate: %s: %v", e.Failure, e.Err)
}

func (e *GateError) Unwrap() error { return e.Err }

// Sentinel causes wrapped by GateError.
var (
	ErrTableCount      = errors.New("unexpected table count")
	ErrVersionMismatch = errors.New("database version mismatch")
)

// Options configures Open.
type Options struct {
	Dir  string
	File string

	// Version is the schema version this binary expects.
	Version string

	// Logger receives gate progress and failures. Nil discards.
	Logger *slog.Logger
}

// Open validates or bootstraps the database at Dir/File and returns a
// handle for later reads and writes. It runs once, before anything else
// touches storage:
//
//   - an empty database gets every table, the job status lookup values
//     and the version marker;
//   - a fully initialized database must carry Version;
//   - any other table count is corruption and nothing is written.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		logger.Error("Failed to create database directory", slog.String("dir", opts.Dir), slog.Any("error", err))
		return nil, &GateError{Failure: FailStorageDir, Err: err}
	}

	path := filepath.Join(opts.Dir, opts.File)
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, &GateError{Failure: FailStorageOpen, Err: fmt.Errorf("open db: %w", err)}
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: path}
	if err := s.gate(opts.Version, logger); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) gate(version string, logger *slog.Logger) error {
	count, err := s.TableCount()
	if err != nil {
		logger.Error("Database could not be read", slog.String("path", s.path), slog.Any("error", err))
		return &GateError{Failure: FailStorageOpen, Err: err}
	}

	switch count {
	case 0:
		logger.Info("Initializing database from empty state...")
		if err := s.bootstrap(version); err != nil {
			logger.Error("Database initialization failed", slog.Any("error", err))
			return &GateError{Failure: FailStorageOpen, Err: err}
		}
		logger.Info(fmt.Sprintf("Database initialization complete: %d tables.", TableCount))

	case TableCount:
		stored, err := s.Version()
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			logger.Error("Database version could not be read", slog.Any("error", err))
			return &GateError{Failure: FailStorageOpen, Err: err}
		}
		if stored != version {
			logger.Error(fmt.Sprintf("Database validation error: DATABASE_VERSION (%s) expected to be %s.", stored, version))
			logger.Info("Database validation failed. See error log.")
			return &GateError{
				Failure: FailVersionMismatch,
				Err:     fmt.Errorf("%w: found %q, want %q", ErrVersionMismatch, stored, version),
			}
		}

	default:
		logger.Error(fmt.Sprintf(
			"Database validation error: TABLE_COUNT should be 0 (empty database) or %d (fully initialized database). Found %d",
			TableCount, count))
		logger.Info("Database validation failed. See error log.")
		return &GateError{
			Failure: FailSchemaCorrupt,
			Err:     fmt.Errorf("%w: found %d, want 0 or %d", ErrTableCount, count, TableCount),
		}
	}

	logger.Info(fmt.Sprintf("Database v.%s validated: %d tables.", version, TableCount))
	return nil
}

// bootstrap creates the schema in a single transaction so a crash midway
// leaves an empty database rather than a partial one.
func (s *Store) bootstrap(version string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range createTables {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	for _, status := range models.JobStatuses() {
		if _, err := tx.Exec(insertJobStatus, string(status)); err != nil {
			return fmt.Errorf("seed job status %s: %w", status, err)
		}
	}

	if _, err := tx.Exec(insertDatabaseVersion, version); err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
