package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func TestExecuteWithRetry_SuccessFirstAttempt(t *testing.T) {
	result, attempts, err := ExecuteWithRetry(context.Background(), func() (string, error) {
		return "ok", nil
	}, RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" || attempts != 1 {
		t.Errorf("got %q after %d attempts", result, attempts)
	}
}

func TestExecuteWithRetry_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	result, attempts, err := ExecuteWithRetry(context.Background(), func() (string, error) {
		callCount++
		if callCount < 3 {
			return "", fmt.Errorf("fail-%d", callCount)
		}
		return "recovered", nil
	}, RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "recovered" {
		t.Errorf("expected 'recovered', got %q", result)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetry_AllFail(t *testing.T) {
	callCount := 0
	_, attempts, err := ExecuteWithRetry(context.Background(), func() (string, error) {
		callCount++
		return "", fmt.Errorf("always-fail")
	}, RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	if err == nil || err.Error() != "always-fail" {
		t.Fatalf("expected always-fail, got %v", err)
	}
	if callCount != 3 || attempts != 3 {
		t.Errorf("expected 3 calls, got %d (attempts %d)", callCount, attempts)
	}
}

func TestExecuteWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	callCount := 0
	_, attempts, err := ExecuteWithRetry(ctx, func() (string, error) {
		callCount++
		return "", errors.New("boom")
	}, RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour})

	if err == nil {
		t.Fatal("expected error")
	}
	if callCount != 1 || attempts != 1 {
		t.Errorf("expected to stop after the first attempt, got %d", callCount)
	}
}

func TestBackoffWithJitter_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffWithJitter(base, max, attempt)
		if d <= 0 || d > max+max/4 {
			t.Errorf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}

func TestNewSchedulerValidation(t *testing.T) {
	svc := newFixture(t).svc
	tests := []struct {
		name    string
		cfg     SchedulerConfig
		wantErr bool
	}{
		{"valid", SchedulerConfig{Expr: "0 3 * * *", Dir: t.TempDir()}, false},
		{"empty_expr", SchedulerConfig{Dir: t.TempDir()}, true},
		{"bad_expr", SchedulerConfig{Expr: "every day", Dir: t.TempDir()}, true},
		{"no_dir", SchedulerConfig{Expr: "0 3 * * *"}, true},
		{"bad_key", SchedulerConfig{Expr: "0 3 * * *", Dir: t.TempDir(), Key: "short"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(svc, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchedulerNext(t *testing.T) {
	s, err := NewScheduler(newFixture(t).svc, SchedulerConfig{Expr: "30 2 * * *", Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	next, err := s.Next(from)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 5, 2, 2, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestSchedulerRunOnceAndPrune(t *testing.T) {
	dir := t.TempDir()
	s, err := NewScheduler(newFixture(t).svc, SchedulerConfig{Expr: "0 0 * * *", Dir: dir, Keep: 2})
	if err != nil {
		t.Fatal(err)
	}

	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		current := day.AddDate(0, 0, i)
		s.now = func() time.Time { return current }
		if _, err := s.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	want := []string{"sitememo_backup_2026-01-03.json", "sitememo_backup_2026-01-04.json"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("files = %v, want %v", names, want)
	}
	if _, err := ReadFile(filepath.Join(dir, want[1]), ""); err != nil {
		t.Errorf("backup unreadable: %v", err)
	}
}

func TestSchedulerRunFires(t *testing.T) {
	dir := t.TempDir()
	s, err := NewScheduler(newFixture(t).svc, SchedulerConfig{Expr: "* * * * *", Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	calls := 0
	s.now = func() time.Time {
		calls++
		// Jump past the next minute after the first call.
		if calls == 1 {
			return start
		}
		return start.Add(time.Minute)
	}
	s.tick = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for s.Status().LastStatus == "" {
		select {
		case <-deadline:
			t.Fatal("scheduler never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if st := s.Status(); st.LastStatus != "ok" || st.LastFile == "" {
		t.Errorf("status = %+v", st)
	}
}
