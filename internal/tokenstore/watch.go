package tokenstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events a single write produces
// (temp file create, rename, WAL append) into one callback.
const watchDebounce = 100 * time.Millisecond

// Watch calls fn whenever the file behind backend changes on disk, whether
// the change came from this process or another one. It blocks until ctx is
// canceled. This is how one process learns that another signed in or out.
//
// Changes are detected per file, not per origin. The file backend keeps one
// file per origin, but every SQLite origin shares one database, so there fn
// also fires when another origin writes. Callers re-read their own keys and
// compare.
func Watch(ctx context.Context, backend Backend, fn func(), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	path := backend.Path()
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenstore: creating directory %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tokenstore: creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: atomic renames replace the inode.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("tokenstore: watching %s: %w", dir, err)
	}

	logger.Debug("watching token store", slog.String("path", path))

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !relevant(ev, base) {
				continue
			}

			logger.Debug("token store changed on disk",
				slog.String("name", filepath.Base(ev.Name)),
				slog.String("op", ev.Op.String()),
			)

			timer.Reset(watchDebounce)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("token store watcher error", slog.String("error", werr.Error()))

		case <-timer.C:
			fn()
		}
	}
}

// relevant reports whether ev touches the store file or one of its SQLite
// companions (-wal, -shm). It sees file names only, never which origin
// wrote. Chmod-only events are ignored.
func relevant(ev fsnotify.Event, base string) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}

	name := filepath.Base(ev.Name)

	return name == base || strings.HasPrefix(name, base+"-")
}
