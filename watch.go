package gateway

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Purger drops cached state. *CachingResolver implements it.
type Purger interface {
	Purge()
}

// DefaultWatchDebounce is the quiet period WatchHandlers waits for after the
// last change before purging.
const DefaultWatchDebounce = 250 * time.Millisecond

// WatchHandlers watches the handler tree under dir and purges p once changes
// settle for debounce. Directories created later are watched too. Closing the
// returned io.Closer stops the watch.
//
// Use it in long-running processes that resolve from a local tree and enable
// the resolution cache, so that added, removed or renamed handlers are picked
// up without a restart.
func WatchHandlers(dir string, p Purger, debounce time.Duration, logger *zap.Logger) (io.Closer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addWatchRecursive(watcher, dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		resetTimer := func() {
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
			timerC = timer.C
		}

		for {
			select {
			case <-stopCh:
				if timer != nil {
					timer.Stop()
				}
				return
			case <-timerC:
				timerC = nil
				p.Purge()
				logger.Info("handler tree changed, resolution cache purged", zap.String("dir", dir))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("handler watcher error", zap.Error(err))
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Op&fsnotify.Create != 0 {
					if fi, statErr := os.Stat(evt.Name); statErr == nil && fi.IsDir() {
						if addErr := addWatchRecursive(watcher, evt.Name); addErr != nil {
							logger.Warn("handler watcher add failed", zap.String("path", evt.Name), zap.Error(addErr))
						}
					}
				}
				if affectsHandlers(evt) {
					resetTimer()
				}
			}
		}
	}()

	logger.Info("watching handler tree", zap.String("dir", dir), zap.Duration("debounce", debounce))
	return closerFunc(func() error {
		close(stopCh)
		err := watcher.Close()
		<-doneCh
		return err
	}), nil
}

// WatchHandlers watches Config.HandlerPath, or the root of
// Config.HandlerPattern, and purges the Router's resolution cache on change.
// Without a resolution cache there is nothing to purge and the returned
// Closer does nothing.
func (r *Router) WatchHandlers(debounce time.Duration) (io.Closer, error) {
	if r.cache == nil {
		return nopCloser{}, nil
	}
	dir := r.config.HandlerPath
	if r.config.RoutingMode == RoutingPattern {
		dir, _, _ = strings.Cut(r.config.HandlerPattern, "**")
	}
	dir = strings.TrimSuffix(strings.TrimSpace(dir), "/")
	if dir == "" {
		dir = "."
	}
	return WatchHandlers(dir, r.cache, debounce, r.logger)
}

func affectsHandlers(evt fsnotify.Event) bool {
	if strings.TrimSpace(evt.Name) == "" {
		return false
	}
	if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return !strings.HasPrefix(filepath.Base(evt.Name), ".")
}

func addWatchRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
