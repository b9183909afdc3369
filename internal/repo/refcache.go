package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tigsync/internal/metrics"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

type refEntry struct {
	hash    string
	modTime time.Time
	size    int64
}

// RefCache caches branch ref files. Every hit is validated against the
// file's modification time and size; a filesystem watcher additionally
// evicts entries as soon as a ref file changes.
type RefCache struct {
	cache   *lru.Cache[string, refEntry]
	watcher *fsnotify.Watcher
	watched map[string]bool
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewRefCache creates a cache holding up to size refs. If a watcher cannot
// be created the cache still works, relying on mtime validation alone.
func NewRefCache(size int, logger *zap.Logger) (*RefCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, refEntry](size)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	c := &RefCache{
		cache:   cache,
		watched: make(map[string]bool),
		logger:  logger,
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("ref watcher unavailable", zap.Error(err))
		return c, nil
	}
	c.watcher = watcher
	go c.watchLoop()

	return c, nil
}

// Read returns the trimmed content of the ref file at path.
func (c *RefCache) Read(path string) (string, error) {
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		c.cache.Remove(path)
		return "", err
	}

	if entry, ok := c.cache.Get(path); ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		metrics.RecordRefCache(true)
		return entry.hash, nil
	}
	metrics.RecordRefCache(false)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	hash := strings.TrimSpace(string(data))
	c.cache.Add(path, refEntry{hash: hash, modTime: info.ModTime(), size: info.Size()})
	c.watch(filepath.Dir(path))

	return hash, nil
}

// Invalidate drops path from the cache.
func (c *RefCache) Invalidate(path string) {
	c.cache.Remove(filepath.Clean(path))
}

// Len returns the number of cached refs.
func (c *RefCache) Len() int {
	return c.cache.Len()
}

// Close stops the watcher.
func (c *RefCache) Close() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}

func (c *RefCache) watch(dir string) {
	if c.watcher == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watched[dir] {
		return
	}
	if err := c.watcher.Add(dir); err != nil {
		c.logger.Debug("adding ref directory to watcher", zap.String("dir", dir), zap.Error(err))
		return
	}
	c.watched[dir] = true
}

// watchLoop processes filesystem events
func (c *RefCache) watchLoop() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.cache.Remove(filepath.Clean(event.Name))
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error("ref watcher error", zap.Error(err))
		}
	}
}
