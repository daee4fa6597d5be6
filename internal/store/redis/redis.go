// Package redis provides a key-value backend on a Redis hash, with a
// pub/sub channel announcing writes to other processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/sitememo/internal/store"
)

// DefaultPrefix is the hash key used when none is configured.
const DefaultPrefix = "sitememo"

// Store keeps every key as a field of one hash.
type Store struct {
	client   *goredis.Client
	hashKey  string
	channel  string
	sourceID string
}

type changeMessage struct {
	Source string   `json:"source"`
	Keys   []string `json:"keys"`
}

// Open connects to the Redis server described by url (redis://...).
func Open(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, store.Wrap("open", "", fmt.Errorf("ping redis: %w", err))
	}
	slog.Info("redis store connected", "addr", opts.Addr, "db", opts.DB)
	return New(client, prefix), nil
}

// New wraps an existing client.
func New(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		client:   client,
		hashKey:  prefix + ":kv",
		channel:  prefix + ":changes",
		sourceID: uuid.NewString(),
	}
}

func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	v, err := s.client.HGet(ctx, s.hashKey, key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.Wrap("get", key, err)
	}
	return json.RawMessage(v), true, nil
}

func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return store.Wrap("set", key, errors.New("value is not valid JSON"))
	}
	note := s.changeNote([]string{key})
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.hashKey, key, string(value))
		pipe.Publish(ctx, s.channel, note)
		return nil
	})
	return store.Wrap("set", key, err)
}

func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	note := s.changeNote(keys)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HDel(ctx, s.hashKey, keys...)
		pipe.Publish(ctx, s.channel, note)
		return nil
	})
	return store.Wrap("remove", keys[0], err)
}

func (s *Store) Snapshot(ctx context.Context) (map[string]json.RawMessage, error) {
	all, err := s.client.HGetAll(ctx, s.hashKey).Result()
	if err != nil {
		return nil, store.Wrap("snapshot", "", err)
	}
	out := make(map[string]json.RawMessage, len(all))
	for k, v := range all {
		out[k] = json.RawMessage(v)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Watch subscribes to the change channel and reports writes made by other
// Store instances.
func (s *Store) Watch(ctx context.Context) (<-chan store.Change, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, store.Wrap("watch", "", err)
	}

	out := make(chan store.Change, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var note changeMessage
				if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
					slog.Warn("redis store: bad change message", "error", err)
					continue
				}
				if note.Source == s.sourceID || len(note.Keys) == 0 {
					continue
				}
				select {
				case out <- store.Change{Keys: note.Keys, At: time.Now()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) changeNote(keys []string) string {
	data, _ := json.Marshal(changeMessage{Source: s.sourceID, Keys: keys})
	return string(data)
}

var _ store.Watchable = (*Store)(nil)
