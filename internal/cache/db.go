package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the cache database and runs its migrations. dsn is either
// a local file path (or ":memory:") or a libsql/Turso URL (handled by
// remote.go), mirroring the build farm's ability to share one warm cache
// across machines (§4.2).
func Connect(dsn string, debug bool) (*gorm.DB, error) {
	if isURL(dsn) {
		return connectRemote(dsn, debug)
	}

	if dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(debug))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cache db: %w", err)
	}
	return finishConnect(db)
}

func gormConfig(debug bool) *gorm.Config {
	config := &gorm.Config{}
	if debug {
		config.Logger = logger.Default.LogMode(logger.Info)
	}
	return config
}

func finishConnect(db *gorm.DB) (*gorm.DB, error) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Exec("PRAGMA foreign_keys = ON")
	}
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("cache migration failed: %w", err)
	}
	return db, nil
}

func isURL(dsn string) bool {
	return len(dsn) > 7 && (strings.HasPrefix(dsn, "http://") || strings.HasPrefix(dsn, "https://") || strings.HasPrefix(dsn, "libsql"))
}

// Migrate runs the cache's gorm auto-migrations.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&SourceFile{}, &IncludeEdge{}, &OutputCacheEntry{})
}
