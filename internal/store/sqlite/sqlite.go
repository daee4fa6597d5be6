// Package sqlite provides the embedded SQLite key-value backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/sitememo/internal/store/sqlkv"
)

// openDB is swapped in tests.
var openDB = sql.Open

// Open opens (or creates) a SQLite database at dbPath and returns a
// key-value store on table.
func Open(ctx context.Context, dbPath, table string) (*sqlkv.Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	db, err := openDB("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s, err := sqlkv.New(ctx, db, "sqlite", table)
	if err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("sqlite store opened", "path", dbPath)
	return s, nil
}
