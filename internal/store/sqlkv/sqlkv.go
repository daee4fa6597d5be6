// Package sqlkv implements store.Store on a single SQL table through sqlx.
// The same statements serve SQLite and Postgres; sqlx rebinds placeholders
// for the driver in use.
package sqlkv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/sitememo/internal/store"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "kv_items"

var validTableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Store is a key-value table.
type Store struct {
	db    *sqlx.DB
	table string
}

type kvRow struct {
	Key   string `db:"item_key"`
	Value string `db:"item_value"`
}

// New wraps db (opened with driverName) and creates the table if needed.
func New(ctx context.Context, db *sql.DB, driverName, table string) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	s := &Store{db: sqlx.NewDb(db, driverName), table: table}
	if err := s.migrate(ctx); err != nil {
		return nil, store.Wrap("open", "", fmt.Errorf("migrate: %w", err))
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			item_key TEXT PRIMARY KEY,
			item_value TEXT NOT NULL,
			updated_at BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value string
	q := s.db.Rebind(`SELECT item_value FROM ` + s.table + ` WHERE item_key = ?`)
	err := s.db.GetContext(ctx, &value, q, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.Wrap("get", key, err)
	}
	return json.RawMessage(value), true, nil
}

func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return store.Wrap("set", key, errors.New("value is not valid JSON"))
	}
	q := s.db.Rebind(`INSERT INTO ` + s.table + ` (item_key, item_value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (item_key) DO UPDATE SET item_value = excluded.item_value, updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, q, key, string(value), time.Now().UnixMilli())
	return store.Wrap("set", key, err)
}

func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`DELETE FROM `+s.table+` WHERE item_key IN (?)`, keys)
	if err != nil {
		return store.Wrap("remove", keys[0], err)
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	return store.Wrap("remove", keys[0], err)
}

func (s *Store) Snapshot(ctx context.Context) (map[string]json.RawMessage, error) {
	var rows []kvRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT item_key, item_value FROM `+s.table); err != nil {
		return nil, store.Wrap("snapshot", "", err)
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, r := range rows {
		out[r.Key] = json.RawMessage(r.Value)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
