package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/sitememo/internal/backup"
	"github.com/nextlevelbuilder/sitememo/internal/config"
	"github.com/nextlevelbuilder/sitememo/internal/dispatch"
	"github.com/nextlevelbuilder/sitememo/internal/gateway"
	"github.com/nextlevelbuilder/sitememo/internal/store"
	"github.com/nextlevelbuilder/sitememo/internal/tracing"
)

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway for browser extension contexts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if host != "" {
				cfg.Gateway.Host = host
			}
			if port > 0 {
				cfg.Gateway.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides gateway.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides gateway.port)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rc, err := a.memos.Reconcile(ctx)
	if err != nil {
		slog.Warn("memo reconcile on startup", "error", err)
	} else if len(rc.Synthesized) > 0 {
		slog.Info("legacy memos found; run 'sitememo migrate' to persist them", "count", len(rc.Synthesized))
	}

	srv := gateway.NewServer(cfg.Gateway, a.dispatcher, dispatch.ServerInfo{Name: "sitememo", Version: Version})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return srv.RunLimiter(gctx) })
	g.Go(func() error { return srv.WatchStore(gctx, store.AreaLocal, a.local) })
	g.Go(func() error { return srv.WatchStore(gctx, store.AreaSync, a.synced) })

	cfgPath := resolveConfigPath()
	if _, err := os.Stat(filepath.Dir(cfgPath)); err == nil {
		w, err := config.NewWatcher(cfgPath)
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		w.OnChange(func(next *config.Config) {
			applyLogLevel(next.Log.Level)
			srv.UpdateConfig(next.Gateway)
		})
		g.Go(func() error { return w.Run(gctx) })
	} else {
		slog.Info("config directory missing; hot reload disabled", "path", cfgPath)
	}

	if cfg.Backup.Schedule != "" {
		sched, err := backup.NewScheduler(a.backup, backup.SchedulerConfig{
			Expr: cfg.Backup.Schedule,
			Dir:  config.ExpandHome(cfg.Backup.Dir),
			Keep: cfg.Backup.Keep,
			Key:  cfg.Backup.Key,
		})
		if err != nil {
			return fmt.Errorf("backup schedule: %w", err)
		}
		g.Go(func() error { return sched.Run(gctx) })
	}

	slog.Info("sitememo starting",
		"version", Version,
		"addr", cfg.Gateway.Addr(),
		"store", redactDSN(cfg.Storage.DSN),
		"profile", config.NormalizeProfile(cfg.Storage.Profile))
	return g.Wait()
}
