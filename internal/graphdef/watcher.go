package graphdef

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/cmmgraph/internal/storage"
)

// Event kinds passed to an EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
	// EventResync asks the receiver to reconcile against the whole store.
	// It carries no name.
	EventResync = "resync"
)

// EventCallback is called for every graph file change. name is the graph
// name relative to the watched root.
type EventCallback func(kind, name string)

// ResyncDelay is how long a rename waits for its follow-up events before
// a resync is requested.
var ResyncDelay = 200 * time.Millisecond

// Watch reports graph file changes under root until ctx is cancelled.
// New directories are added to the watch list and the graphs already in
// them are reported as created. Renames report the old name as deleted
// and schedule a resync.
func Watch(ctx context.Context, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var resyncTimer *time.Timer
	var resyncCh <-chan time.Time

	scheduleResync := func() {
		if resyncTimer == nil {
			resyncTimer = time.NewTimer(ResyncDelay)
			resyncCh = resyncTimer.C
		} else {
			resyncTimer.Reset(ResyncDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if resyncTimer != nil {
				resyncTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-resyncCh:
			cb(EventResync, "")

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			abs := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, abs); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", abs),
							slog.String("error", addErr.Error()))
					}
					reportDir(root, abs, cb)
					continue
				}
			}

			if !isGraphFile(abs) {
				continue
			}
			rel, relErr := filepath.Rel(root, abs)
			if relErr != nil {
				continue
			}
			name := storage.NameOf(rel)

			switch {
			case ev.Op&fsnotify.Create != 0:
				logger.Debug("watcher: graph created", slog.String("name", name))
				cb(EventCreated, name)
			case ev.Op&fsnotify.Write != 0:
				logger.Debug("watcher: graph updated", slog.String("name", name))
				cb(EventUpdated, name)
			case ev.Op&fsnotify.Remove != 0:
				logger.Debug("watcher: graph deleted", slog.String("name", name))
				cb(EventDeleted, name)
			case ev.Op&fsnotify.Rename != 0:
				// The new path arrives as a separate Create when it stays
				// under a watched directory.
				cb(EventDeleted, name)
				scheduleResync()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func isGraphFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, storage.Ext) && !strings.HasPrefix(base, ".")
}

func reportDir(root, dir string, cb EventCallback) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isGraphFile(path) {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil {
			cb(EventCreated, storage.NameOf(rel))
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
