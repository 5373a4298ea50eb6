package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FilePerms restricts store files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the storage directory.
const DirPerms = 0o700

// fileFormat is the on-disk shape of a FileBackend.
type fileFormat struct {
	Origin string            `json:"origin"`
	Items  map[string]string `json:"items"`
}

// FileBackend keeps one JSON document per origin. Every write rewrites the
// whole document atomically (write-to-temp + rename), so a multi-key update
// is never observed half-applied.
type FileBackend struct {
	mu     sync.Mutex
	path   string
	origin string
	logger *slog.Logger
}

// OpenFile returns the file backend for origin under dir. The file itself is
// created lazily on first write.
func OpenFile(dir, origin string, logger *slog.Logger) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("tokenstore: storage directory is empty")
	}

	if logger == nil {
		logger = slog.Default()
	}

	path := filepath.Join(dir, fileSafe(origin)+".json")
	logger.Debug("using file token store", slog.String("path", path), slog.String("origin", origin))

	return &FileBackend{path: path, origin: origin, logger: logger}, nil
}

// Path returns the JSON file backing this origin.
func (b *FileBackend) Path() string {
	return b.path
}

// Get returns the value for key.
func (b *FileBackend) Get(key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items, err := b.load()
	if err != nil {
		return "", false, err
	}

	v, ok := items[key]

	return v, ok, nil
}

// Keys returns every stored key, sorted.
func (b *FileBackend) Keys() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items, err := b.load()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys, nil
}

// SetMany writes all values in one atomic file replacement.
func (b *FileBackend) SetMany(values map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	items, err := b.load()
	if err != nil {
		return err
	}

	maps.Copy(items, values)

	return b.save(items)
}

// ClearMany removes all keys in one atomic file replacement. Removing keys
// that do not exist is not an error.
func (b *FileBackend) ClearMany(keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	items, err := b.load()
	if err != nil {
		return err
	}

	changed := false

	for _, k := range keys {
		if _, ok := items[k]; ok {
			delete(items, k)
			changed = true
		}
	}

	if !changed {
		return nil
	}

	return b.save(items)
}

// Close is a no-op; the backend holds no open handles between calls.
func (b *FileBackend) Close() error {
	return nil
}

// load reads the document. A missing file is an empty store.
func (b *FileBackend) load() (map[string]string, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}

	var doc fileFormat
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", b.path, err)
	}

	if doc.Origin != "" && doc.Origin != b.origin {
		return nil, fmt.Errorf("%s belongs to origin %s, not %s", b.path, doc.Origin, b.origin)
	}

	if doc.Items == nil {
		doc.Items = make(map[string]string)
	}

	return doc.Items, nil
}

// save writes the document atomically with 0600 permissions. Never logs
// values.
func (b *FileBackend) save(items map[string]string) error {
	data, err := json.MarshalIndent(fileFormat{Origin: b.origin, Items: items}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}

	dir := filepath.Dir(b.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	success = true

	b.logger.Debug("token store written", slog.String("path", b.path), slog.Int("keys", len(items)))

	return nil
}
