package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Encode renders doc as indented JSON, sealed when key is set.
func Encode(doc *Document, key string) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	return Seal(data, key)
}

// WriteFile writes doc to path through a temp file and rename.
func WriteFile(path string, doc *Document, key string) error {
	data, err := Encode(doc, key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".sitememo-backup-*")
	if err != nil {
		return fmt.Errorf("create temp backup: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close backup: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename backup: %w", err)
	}
	return nil
}

// ReadFile reads a backup file, decrypting it when sealed, and validates it.
func ReadFile(path, key string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	plain, err := Open(data, key)
	if err != nil {
		return nil, err
	}
	return Validate(plain)
}
