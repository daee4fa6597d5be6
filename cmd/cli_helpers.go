package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/sitememo/internal/backup"
	"github.com/nextlevelbuilder/sitememo/internal/bootstrap"
	"github.com/nextlevelbuilder/sitememo/internal/config"
	"github.com/nextlevelbuilder/sitememo/internal/dispatch"
	"github.com/nextlevelbuilder/sitememo/internal/memo"
	"github.com/nextlevelbuilder/sitememo/internal/settings"
	"github.com/nextlevelbuilder/sitememo/internal/store"
	"github.com/nextlevelbuilder/sitememo/internal/templates"
	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

// resolveConfigPath returns --config, then $SITEMEMO_CONFIG, then the
// default under the home directory.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("SITEMEMO_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(config.ExpandHome("~/.sitememo"), "config.json5")
}

// loadConfig loads the config and installs the logger it describes.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

// app is the storage stack shared by serve and the data commands. One
// backend is opened and split into the local and sync areas.
type app struct {
	cfg     *config.Config
	backend store.Store
	local   store.Store
	synced  store.Store

	memos      *memo.Repository
	templates  *templates.Repository
	backup     *backup.Service
	dispatcher *dispatch.Dispatcher
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	backend, err := bootstrap.OpenStore(ctx, store.StoreConfig{
		DSN:         config.ExpandDSN(cfg.Storage.DSN),
		Table:       cfg.Storage.Table,
		RedisPrefix: cfg.Storage.RedisPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		backend: backend,
		local:   store.WithArea(backend, cfg.Storage.Area(store.AreaLocal)),
		synced:  store.WithArea(backend, cfg.Storage.Area(store.AreaSync)),
	}
	a.memos = memo.NewRepository(a.local)
	a.templates = templates.NewRepository(a.synced)
	a.backup = backup.NewService(a.local, a.memos, a.templates)
	a.dispatcher = dispatch.New(dispatch.Deps{
		Memos:     a.memos,
		Templates: a.templates,
		Settings:  settings.New(a.local),
		Backup:    a.backup,
	})
	return a, nil
}

// Close closes the backend. The area views share it.
func (a *app) Close() error { return a.backend.Close() }

// mustOpenApp loads the config and opens the store, exiting on failure.
func mustOpenApp(ctx context.Context) *app {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	a, err := openApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return a
}

// errReplyFailed wraps every failed CLI request.
var errReplyFailed = errors.New("request failed")

// call runs req through the dispatcher as a CLI caller. A reply carrying an
// error code becomes an error; success=false without a code (nothing to
// delete) does not.
func (a *app) call(ctx context.Context, req dispatch.Request) (protocol.Reply, error) {
	ctx = store.WithCallerKind(ctx, protocol.ContextCLI)
	ctx = store.WithClientID(ctx, "cli")
	reply := a.dispatcher.Dispatch(ctx, uuid.NewString(), req)
	if h := reply.Header(); h.Code != "" {
		return reply, fmt.Errorf("%w: %s", errReplyFailed, formatError(h))
	}
	return reply, nil
}

// formatError turns a failure envelope into a one-line message with a hint.
func formatError(s *protocol.Status) string {
	msg := s.Error
	switch s.Code {
	case protocol.ErrStorage:
		return msg + " (run 'sitememo doctor' to check storage.dsn)"
	case protocol.ErrDisabled:
		return msg + " (enable it with 'sitememo selection on')"
	case protocol.ErrUnauthorized:
		return msg + " (check gateway.token)"
	case protocol.ErrResourceExhausted:
		return msg + " (raise gateway.rate_limit_rpm or retry later)"
	case "":
		return msg
	default:
		return fmt.Sprintf("%s [%s]", msg, s.Code)
	}
}

// exitOnError prints err and exits.
func exitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", strings.TrimPrefix(err.Error(), errReplyFailed.Error()+": "))
	os.Exit(1)
}

// truncateDisplay cuts s to width terminal columns on a single line.
func truncateDisplay(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "…")
}
