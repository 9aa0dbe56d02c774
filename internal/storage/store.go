// Package storage is the key-value boundary the extension host provides for settings
// and saved prompts. The adapter core never reads or writes it; only first-run
// bootstrap touches it.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kernel/chatbridge/pkg/util"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("key not found")

const (
	KeySettings = "settings"
	KeyPrompts  = "prompts"
)

// Store is a JSON key-value store.
type Store interface {
	Get(key string) (json.RawMessage, error)
	Set(key string, value any) error
}

// Settings are the user preferences written on first install.
type Settings struct {
	Theme        string `json:"theme"`
	AutoSync     bool   `json:"autoSync"`
	ShowSidebar  bool   `json:"showSidebar"`
	DefaultSite  string `json:"defaultSite"`
	ExportFormat string `json:"exportFormat"`
}

// DefaultSettings returns the first-install settings.
func DefaultSettings() Settings {
	return Settings{
		Theme:        "system",
		AutoSync:     true,
		ShowSidebar:  true,
		DefaultSite:  "chatgpt",
		ExportFormat: "json",
	}
}

// Prompt is a saved prompt template.
type Prompt struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Bootstrap writes the defaults for keys that are not present yet. It reports whether
// anything was written.
func Bootstrap(s Store) (bool, error) {
	wrote := false
	defaults := []struct {
		key   string
		value any
	}{
		{KeySettings, DefaultSettings()},
		{KeyPrompts, []Prompt{}},
	}
	for _, d := range defaults {
		_, err := s.Get(d.key)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return wrote, fmt.Errorf("failed to read %s: %w", d.key, err)
		}
		if err := s.Set(d.key, d.value); err != nil {
			return wrote, fmt.Errorf("failed to write %s: %w", d.key, err)
		}
		wrote = true
	}
	return wrote, nil
}

// FileStore keeps all keys in one JSON object on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath is the store location under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "chatbridge", "storage.json"), nil
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(key string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.load()
	if err != nil {
		return nil, err
	}
	v, ok := all[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

func (f *FileStore) Set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.load()
	if err != nil {
		return err
	}
	all[key] = data

	out, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(f.path, out, 0o600)
}

// Keys returns the stored keys.
func (f *FileStore) Keys() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *FileStore) load() (map[string]json.RawMessage, error) {
	data, err := util.ReadFileIfExists(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	all := map[string]json.RawMessage{}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to parse store %s: %w", f.path, err)
	}
	return all, nil
}
