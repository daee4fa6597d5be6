package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetJSON reads key and decodes it into v. ok is false when the key is absent.
// A value that does not decode is reported as a StorageError: the store holds
// something this version cannot read.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, Wrap("get", key, fmt.Errorf("decode value: %w", err))
	}
	return true, nil
}

// SetJSON encodes v and writes it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
