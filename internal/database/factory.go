package database

import (
	"fmt"
	"os"
	"path/filepath"

	"offsync-go/internal/config"
	"offsync-go/internal/offsync"
)

// DatabaseFileName is the history database file inside data_dir.
const DatabaseFileName = "offsync.db"

// NewDatabaseFromConfig creates a History implementation based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (offsync.History, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return open(filepath.Join(cfg.DataDir, DatabaseFileName))
	case "memory":
		return open(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// open keeps a failed open from surfacing as a non-nil interface holding a nil pointer.
func open(path string) (offsync.History, error) {
	db, err := NewSQLiteDatabase(path)
	if err != nil {
		return nil, err
	}
	return db, nil
}
