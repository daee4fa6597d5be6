// Package pg provides the Postgres key-value backend.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/sitememo/internal/store/sqlkv"
)

// OpenDB creates a database/sql connection to Postgres using pgx driver.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	slog.Info("postgres connected", "dsn_len", len(dsn))
	return db, nil
}

// Open connects to Postgres and returns a key-value store on table.
func Open(ctx context.Context, dsn, table string) (*sqlkv.Store, error) {
	db, err := OpenDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s, err := sqlkv.New(ctx, db, "pgx", table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
