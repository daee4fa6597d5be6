package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

// ReplayCache remembers recent responses to mutating requests, so a caller
// that retries after its own timeout gets the first result instead of
// running the request twice. Entries are scoped to the caller and bound to
// the exact frame bytes: another caller reusing an ID, or the same caller
// reusing it for a different payload, runs normally.
type ReplayCache struct {
	lru *expirable.LRU[string, protocol.Reply]
}

// NewReplayCache returns nil when size <= 0; a nil cache never hits.
func NewReplayCache(size int, ttl time.Duration) *ReplayCache {
	if size <= 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ReplayCache{lru: expirable.NewLRU[string, protocol.Reply](size, nil, ttl)}
}

// readOnlyActions are answered fresh every time; replaying them would
// serve stale data.
var readOnlyActions = map[string]bool{
	protocol.ActionPing:               true,
	protocol.ActionGetMemo:            true,
	protocol.ActionListMemos:          true,
	protocol.ActionGetAllTemplates:    true,
	protocol.ActionGetTemplate:        true,
	protocol.ActionExportData:         true,
	protocol.ActionValidateImport:     true,
	protocol.ActionGetSelectionStatus: true,
}

func replayKey(caller string, frame *protocol.RequestFrame) (string, bool) {
	if frame.ID == "" || readOnlyActions[frame.Action] {
		return "", false
	}
	sum := sha256.Sum256(frame.Raw)
	return caller + "\x00" + frame.Action + "\x00" + frame.ID + "\x00" + hex.EncodeToString(sum[:]), true
}

// Get returns the response cached for caller's frame.
func (c *ReplayCache) Get(caller string, frame *protocol.RequestFrame) (protocol.Reply, bool) {
	if c == nil {
		return nil, false
	}
	key, ok := replayKey(caller, frame)
	if !ok {
		return nil, false
	}
	return c.lru.Get(key)
}

// Put stores reply. Requests without an ID and read-only actions are not
// cached.
func (c *ReplayCache) Put(caller string, frame *protocol.RequestFrame, reply protocol.Reply) {
	if c == nil {
		return
	}
	if key, ok := replayKey(caller, frame); ok {
		c.lru.Add(key, reply)
	}
}

// Len returns the number of live entries.
func (c *ReplayCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
