package gateway

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	for i := 0; i < 3; i++ {
		if !rl.Allow("k") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("k") {
		t.Error("4th request should be limited")
	}
	if !rl.Allow("other") {
		t.Error("keys must not share a bucket")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	if rl.Enabled() {
		t.Fatal("rpm 0 should disable")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow("k") {
			t.Fatal("disabled limiter must allow")
		}
	}
}

func TestRateLimiterSetLimitAndCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow("k")
	if rl.Allow("k") {
		t.Fatal("expected limit")
	}
	rl.SetLimit(0, 1)
	if !rl.Allow("k") {
		t.Error("disabling should take effect immediately")
	}

	rl.SetLimit(60, 1)
	rl.Allow("stale")
	rl.cleanup(time.Now().Add(time.Minute))
	if _, ok := rl.limiters.Load("stale"); ok {
		t.Error("stale entry survived cleanup")
	}
}

func TestReplayCache(t *testing.T) {
	frame := func(action, id, body string) *protocol.RequestFrame {
		return &protocol.RequestFrame{ID: id, Action: action, Raw: []byte(body)}
	}
	save := frame("saveMemo", "1", `{"origin":"a.com"}`)

	var nilCache *ReplayCache
	nilCache.Put("c1", save, protocol.NewOK("1"))
	if _, ok := nilCache.Get("c1", save); ok {
		t.Error("nil cache must miss")
	}

	c := NewReplayCache(8, time.Minute)
	c.Put("c1", frame("saveMemo", "", `{}`), protocol.NewOK(""))
	c.Put("c1", frame("getMemo", "1", `{"origin":"a.com"}`), protocol.NewOK("1"))
	if c.Len() != 0 {
		t.Errorf("Len = %d; requests without id and reads must not be cached", c.Len())
	}

	c.Put("c1", save, protocol.NewOK("1"))
	if r, ok := c.Get("c1", save); !ok || r.Header().ID != "1" {
		t.Errorf("Get = %v, %v", r, ok)
	}
	if _, ok := c.Get("c2", save); ok {
		t.Error("caller is part of the key")
	}
	if _, ok := c.Get("c1", frame("deleteMemo", "1", `{"origin":"a.com"}`)); ok {
		t.Error("action is part of the key")
	}
	if _, ok := c.Get("c1", frame("saveMemo", "1", `{"origin":"b.com"}`)); ok {
		t.Error("payload is part of the key")
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{nil, "https://evil.test", true},
		{[]string{"chrome-extension://abc"}, "", true},
		{[]string{"chrome-extension://abc"}, "chrome-extension://ABC", true},
		{[]string{"chrome-extension://abc"}, "https://evil.test", false},
		{[]string{"*"}, "https://any.test", true},
	}
	for _, tt := range tests {
		if got := originAllowed(tt.allowed, tt.origin); got != tt.want {
			t.Errorf("originAllowed(%v, %q) = %v, want %v", tt.allowed, tt.origin, got, tt.want)
		}
	}
}
