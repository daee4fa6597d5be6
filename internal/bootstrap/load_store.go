// Package bootstrap wires configured backends into a ready store.Store.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/sitememo/internal/store"
	"github.com/nextlevelbuilder/sitememo/internal/store/file"
	"github.com/nextlevelbuilder/sitememo/internal/store/pg"
	"github.com/nextlevelbuilder/sitememo/internal/store/redis"
	"github.com/nextlevelbuilder/sitememo/internal/store/sqlite"
)

// StoreFactory opens a backend for a DSN whose scheme it was registered for.
type StoreFactory func(ctx context.Context, dsn string, cfg store.StoreConfig) (store.Store, error)

var factoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]StoreFactory
}{
	factories: map[string]StoreFactory{},
}

// RegisterStoreFactory adds or replaces the factory for scheme.
func RegisterStoreFactory(scheme string, factory StoreFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.factories[scheme] = factory
}

func lookupStoreFactory(scheme string) (StoreFactory, bool) {
	scheme = normalizeScheme(scheme)
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	f, ok := factoryRegistry.factories[scheme]
	return f, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// OpenStore builds the backend selected by cfg.DSN and scopes it to cfg.Area.
// A DSN without scheme is treated as a JSON file path.
func OpenStore(ctx context.Context, cfg store.StoreConfig) (store.Store, error) {
	s, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store.WithArea(s, cfg.Area), nil
}

func openBackend(ctx context.Context, cfg store.StoreConfig) (store.Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("storage dsn is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse storage dsn: %w", err)
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupStoreFactory(scheme); ok {
		return factory(ctx, dsn, cfg)
	}

	switch scheme {
	case "memory", "mem", "inmem":
		slog.Info("using in-memory store; data is lost on exit")
		return store.NewMemoryStore(), nil
	case "", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return file.New(path)
	case "sqlite", "sqlite3":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(ctx, path, cfg.Table)
	case "postgres", "postgresql":
		return pg.Open(ctx, dsn, cfg.Table)
	case "redis", "rediss":
		return redis.Open(ctx, dsn, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unsupported storage scheme: %s", scheme)
	}
}

// dsnPath extracts a filesystem path from file:// and sqlite:// DSNs.
// "file:///abs/x.json", "file://rel/x.json", "file://~/x.json" and a bare
// path are all accepted.
func dsnPath(parsed *url.URL, raw string) (string, error) {
	var path string
	if parsed.Scheme == "" {
		path = strings.TrimSpace(raw)
	} else {
		path = parsed.Host + parsed.Path
		if path == "" {
			path = parsed.Opaque
		}
	}
	if path == "" {
		return "", fmt.Errorf("storage dsn %q has no path", raw)
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path, nil
}
