package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/credentials"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrMissingPath is returned when no database file is configured.
var ErrMissingPath = errors.New("database: path is required")

// Another process (a second CLI invocation) may hold the write lock briefly.
const busyTimeoutPragma = "_pragma=busy_timeout(5000)"

// OpenSQLite opens the client's credential database, creating its directory
// when needed, and brings the schema up to date. The pool is closed again if
// any step fails.
func OpenSQLite(path string, log *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, ErrMissingPath
	}
	if log == nil {
		log = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("database: create directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?"+busyTimeoutPragma), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := prepare(db, log); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	log.Debug("credential database ready", zap.String("path", path))
	return db, nil
}

func prepare(db *gorm.DB, log *zap.Logger) error {
	if err := db.AutoMigrate(&credentials.Entry{}, &migrationRecord{}); err != nil {
		return fmt.Errorf("database: migrate schema: %w", err)
	}
	if err := applyMigrations(db, log); err != nil {
		return fmt.Errorf("database: apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool. A nil db is a no-op so
// in-memory credential setups can share the same teardown.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
