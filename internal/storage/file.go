package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ikkim/cartsync/pkg/logger"
)

// FileKV persists keys as a single JSON document on disk. Writes go through
// a temp file and rename so a crash never leaves a half-written document.
type FileKV struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// NewFileKV opens (or creates) the store at the given path.
func NewFileKV(path string) (*FileKV, error) {
	kv := &FileKV{
		path:   path,
		values: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return kv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}
	if err := json.Unmarshal(data, &kv.values); err != nil {
		// Corrupt document: start fresh rather than refusing to boot.
		logger.Warn("Storage file is corrupt, starting empty", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		kv.values = make(map[string]string)
	}
	return kv, nil
}

func (f *FileKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (f *FileKV) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.values[key] = value
	return f.flush()
}

func (f *FileKV) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.values, key)
	return f.flush()
}

func (f *FileKV) Close() error {
	return nil
}

func (f *FileKV) flush() error {
	data, err := json.Marshal(f.values)
	if err != nil {
		return fmt.Errorf("failed to marshal storage document: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}
