package source

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultSettle = 500 * time.Millisecond

// Watcher reports database files created or rewritten in a directory. Events
// for the same file are coalesced until the file has been quiet for the
// settle period.
type Watcher struct {
	dir    string
	settle time.Duration
	logger *zap.Logger
}

// NewWatcher creates a watcher on dir. A non-positive settle uses the default.
func NewWatcher(dir string, settle time.Duration, logger *zap.Logger) *Watcher {
	if settle <= 0 {
		settle = defaultSettle
	}
	return &Watcher{dir: dir, settle: settle, logger: logger}
}

// Run watches until ctx is cancelled, calling emit with the base name of
// every settled database file. emit runs on the watcher goroutine.
func (w *Watcher) Run(ctx context.Context, emit func(ctx context.Context, name string)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWatchFailed, err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWatchFailed, w.dir, err)
	}

	sugar := w.logger.Sugar()
	sugar.Infow("Watching directory for database files", "directory", w.dir)
	defer sugar.Info("Directory watcher stopped.")

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.settle)
	if !timer.Stop() {
		<-timer.C
	}
	var settled <-chan time.Time

	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !w.interesting(ev, name) {
				continue
			}
			sugar.Debugw("Database file event", "name", name, "op", ev.Op.String())
			pending[name] = struct{}{}
			if settled != nil && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.settle)
			settled = timer.C

		case <-settled:
			settled = nil
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			sort.Strings(names)
			clear(pending)
			for _, name := range names {
				emit(ctx, name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			sugar.Warnw("Directory watcher error", zap.Error(err))

		case <-ctx.Done():
			if settled != nil && !timer.Stop() {
				<-timer.C
			}
			return ctx.Err()
		}
	}
}

func (w *Watcher) interesting(ev fsnotify.Event, name string) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	if strings.HasPrefix(name, tempPrefix) || strings.HasPrefix(name, ".") {
		return false
	}
	return IsDatabaseName(name)
}
