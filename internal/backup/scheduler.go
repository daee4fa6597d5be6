package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// SchedulerConfig configures periodic backups.
type SchedulerConfig struct {
	Expr string // 5-field cron expression
	Dir  string // destination directory
	Keep int    // backups to keep; 0 keeps all
	Key  string // optional AES key
}

// Status is the scheduler's last known state.
type Status struct {
	Expr       string    `json:"expr"`
	Dir        string    `json:"dir"`
	NextRun    time.Time `json:"nextRun,omitzero"`
	LastRun    time.Time `json:"lastRun,omitzero"`
	LastFile   string    `json:"lastFile,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

// Scheduler writes an export to Dir whenever Expr fires.
type Scheduler struct {
	cfg      SchedulerConfig
	export   func(ctx context.Context) (*Document, error)
	retryCfg RetryConfig
	now      func() time.Time
	tick     time.Duration

	mu     sync.Mutex
	status Status
}

// NewScheduler validates cfg and returns a scheduler exporting via svc.
func NewScheduler(svc *Service, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Expr == "" {
		return nil, fmt.Errorf("backup schedule requires a cron expression")
	}
	if !gronx.New().IsValid(cfg.Expr) {
		return nil, fmt.Errorf("invalid cron expression: %s", cfg.Expr)
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup schedule requires a directory")
	}
	if cfg.Key != "" {
		if _, err := DeriveKey(cfg.Key); err != nil {
			return nil, err
		}
	}
	return &Scheduler{
		cfg:      cfg,
		export:   svc.Export,
		retryCfg: DefaultRetryConfig(),
		now:      time.Now,
		tick:     time.Second,
		status:   Status{Expr: cfg.Expr, Dir: cfg.Dir},
	}, nil
}

// SetRetryConfig overrides the default retry configuration.
func (s *Scheduler) SetRetryConfig(cfg RetryConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCfg = cfg
}

// Next returns the first fire time strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cfg.Expr, t, false)
}

// Status returns a copy of the current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run blocks until ctx is cancelled, writing a backup at every tick of the
// schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	next, err := s.Next(s.now())
	if err != nil {
		return fmt.Errorf("compute next backup: %w", err)
	}
	s.setNext(next)
	slog.Info("backup scheduler started", "expr", s.cfg.Expr, "dir", s.cfg.Dir, "next", next)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("backup scheduler stopped")
			return nil
		case <-ticker.C:
			now := s.now()
			if now.Before(next) {
				continue
			}
			s.execute(ctx)
			if next, err = s.Next(now); err != nil {
				slog.Error("backup: failed to compute next run", "expr", s.cfg.Expr, "error", err)
				return err
			}
			s.setNext(next)
		}
	}
}

func (s *Scheduler) setNext(t time.Time) {
	s.mu.Lock()
	s.status.NextRun = t
	s.mu.Unlock()
}

func (s *Scheduler) execute(ctx context.Context) {
	s.mu.Lock()
	retryCfg := s.retryCfg
	s.mu.Unlock()

	path, attempts, err := ExecuteWithRetry(ctx, func() (string, error) {
		return s.RunOnce(ctx)
	}, retryCfg)
	if attempts > 1 {
		slog.Info("backup retried", "attempts", attempts, "success", err == nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastRun = s.now()
	if err != nil {
		s.status.LastStatus = "error"
		s.status.LastError = err.Error()
		slog.Error("backup failed", "error", err)
		return
	}
	s.status.LastStatus = "ok"
	s.status.LastError = ""
	s.status.LastFile = path
	slog.Info("backup written", "path", path)
}

// RunOnce writes one backup now and prunes old ones. It returns the file path.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	doc, err := s.export(ctx)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.Dir, FileName(s.now()))
	if err := WriteFile(path, doc, s.cfg.Key); err != nil {
		return "", err
	}
	if err := Prune(s.cfg.Dir, s.cfg.Keep); err != nil {
		slog.Warn("backup: prune failed", "dir", s.cfg.Dir, "error", err)
	}
	return path, nil
}

// Prune keeps the newest keep backups in dir. Names sort by date.
func Prune(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasPrefix(n, "sitememo_backup_") && strings.HasSuffix(n, ".json") {
			names = append(names, n)
		}
	}
	if len(names) <= keep {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, n := range names[keep:] {
		if err := os.Remove(filepath.Join(dir, n)); err != nil {
			return err
		}
	}
	return nil
}
