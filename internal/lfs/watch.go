package lfs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultSettle is how long a file must stay unwritten before the watcher
// cleans it.
const DefaultSettle = 500 * time.Millisecond

// Watcher cleans tracked files shortly after they are written.
type Watcher struct {
	store      *Store
	watcher    *fsnotify.Watcher
	ignoreDirs map[string]bool
	settle     time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// Watch starts watching every directory of the working tree. A settle of
// zero uses DefaultSettle.
func (s *Store) Watch(settle time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	w := &Watcher{
		store:   s,
		watcher: fw,
		ignoreDirs: map[string]bool{
			".git": true,
			".tig": true,
		},
		settle:  settle,
		logger:  s.logger,
		pending: make(map[string]time.Time),
	}

	err = filepath.WalkDir(s.workdir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("adding directory to watcher: %w", err)
		}
		return nil
	})
	if err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.store.workdir, path)
	if err != nil || rel == "." {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) ignored(path string) bool {
	rel, ok := w.rel(path)
	if !ok {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if w.ignoreDirs[part] {
			return true
		}
	}
	return false
}

// Run processes events until ctx is done. cleaned is called for every file
// turned into a pointer.
func (w *Watcher) Run(ctx context.Context, cleaned func(rel string, ptr *Pointer)) error {
	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
		case now := <-ticker.C:
			w.flush(ctx, now, cleaned)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}
	rel, ok := w.rel(event.Name)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Error("adding new directory to watcher", zap.Error(err))
			}
			return
		}
		w.pending[rel] = time.Now()
	case event.Has(fsnotify.Write):
		w.pending[rel] = time.Now()
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		delete(w.pending, rel)
	}
}

// flush cleans the pending files that have settled.
func (w *Watcher) flush(ctx context.Context, now time.Time, cleaned func(string, *Pointer)) {
	w.mu.Lock()
	var ready []string
	for rel, at := range w.pending {
		if now.Sub(at) >= w.settle {
			ready = append(ready, rel)
			delete(w.pending, rel)
		}
	}
	w.mu.Unlock()

	for _, rel := range ready {
		ptr, status, err := w.store.Clean(ctx, rel)
		if err != nil {
			w.logger.Warn("auto clean failed", zap.String("path", rel), zap.Error(err))
			continue
		}
		if status == StatusCleaned && cleaned != nil {
			cleaned(rel, ptr)
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
