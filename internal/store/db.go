// Package store persists the occupancy domain through gorm. Production runs
// on PostgreSQL; development and tests run on SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	appLog "staysync/internal/log"
	"staysync/internal/model"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// Store wraps the gorm handle shared by every repository method.
type Store struct {
	db *gorm.DB
}

// Open connects using the named driver and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		if dir := filepath.Dir(dsn); !isMemoryDSN(dsn) && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("store: create data dir: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY
		// and keeps in-memory databases on one handle.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	appLog.Info("store ready", "driver", driver)
	return s, nil
}

// OpenMemory opens a private in-memory SQLite database named name.
func OpenMemory(name string) (*Store, error) {
	safe := strings.NewReplacer("/", "_", " ", "_", "?", "_", "&", "_").Replace(name)
	return Open("sqlite", "file:"+safe+"?mode=memory&cache=shared")
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// Migrate creates or updates every table the service owns.
func (s *Store) Migrate() error {
	err := s.db.AutoMigrate(
		&model.Unit{},
		&model.Guest{},
		&model.Booking{},
		&model.Mapping{},
		&model.AvailabilityBlock{},
		&model.DailyOccupancySnapshot{},
		&model.IntegrationLogEntry{},
	)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for ad-hoc admin queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) with(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
