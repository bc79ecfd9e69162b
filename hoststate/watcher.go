package hoststate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/st-keller/chroma-scheduler/types"
)

// CompileWatcher reports Compiling while watched source files keep changing.
// The signal clears once nothing has changed for the settle window.
type CompileWatcher struct {
	watcher    *fsnotify.Watcher
	settle     time.Duration
	extensions map[string]struct{}
	logger     types.Logger
	now        func() time.Time

	lastChange atomic.Int64 // unix nanos, 0 = never
}

// NewCompileWatcher watches dirs (not recursively). Empty extensions match every file.
func NewCompileWatcher(dirs []string, extensions []string, settle time.Duration, logger types.Logger) (*CompileWatcher, error) {
	if len(dirs) == 0 {
		return nil, errors.New("at least one directory required")
	}
	if settle <= 0 {
		return nil, fmt.Errorf("settle must be > 0, got %s", settle)
	}
	if logger == nil {
		logger = types.NopLogger{}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}

	return &CompileWatcher{
		watcher:    w,
		settle:     settle,
		extensions: exts,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Run consumes filesystem events until ctx is cancelled or the watcher is closed.
func (c *CompileWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-c.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if !c.matches(event.Name) {
				continue
			}
			c.markChanged()
			c.logger.Debug("Source change detected", "path", event.Name, "op", event.Op.String())
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("Watcher error", "error", err)
		}
	}
}

// Compiling reports whether a watched file changed within the settle window.
func (c *CompileWatcher) Compiling() bool {
	last := c.lastChange.Load()
	if last == 0 {
		return false
	}
	return c.now().Sub(time.Unix(0, last)) < c.settle
}

// Close stops watching.
func (c *CompileWatcher) Close() error {
	return c.watcher.Close()
}

func (c *CompileWatcher) markChanged() {
	c.lastChange.Store(c.now().UnixNano())
}

func (c *CompileWatcher) matches(path string) bool {
	if len(c.extensions) == 0 {
		return true
	}
	_, ok := c.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}
