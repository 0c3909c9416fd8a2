package configfile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadCallback is invoked with the freshly reloaded and validated File
// whenever the watched config file changes. A returned error is logged
// but does not stop the watcher.
type ReloadCallback func(*File) error

// ErrWatcherClosed is returned by operations on an already-closed Watcher.
var ErrWatcherClosed = errors.New("configfile: watcher already closed")

// Watcher monitors a config file for changes and drives reload
// callbacks, debouncing rapid successive writes from editors and atomic
// rename-based saves. It watches the parent directory rather than the
// file itself so it survives the file being replaced outright.
type Watcher struct {
	path          string
	fsWatcher     *fsnotify.Watcher
	log           zerolog.Logger
	debounceDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	callbacks []ReloadCallback
	closed    bool
}

// WatcherOption configures a Watcher at construction time.
type WatcherOption func(*Watcher)

// WithDebounceDelay overrides the default 100ms debounce window.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounceDelay = d }
}

// WithLogger attaches a logger the watcher uses for reload and error events.
func WithLogger(log zerolog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = log }
}

// NewWatcher creates a Watcher for path. The returned Watcher is not
// watching yet; call Watch to start.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:          absPath,
		fsWatcher:     fsWatcher,
		log:           zerolog.Nop(),
		debounceDelay: 100 * time.Millisecond,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		if cerr := fsWatcher.Close(); cerr != nil {
			w.log.Error().Err(cerr).Msg("failed to close watcher after add failure")
		}
		return nil, err
	}
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// OnReload registers cb to run on every successful reload. Callbacks run
// in registration order.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Watch blocks, reloading the config and invoking callbacks on every
// debounced write or create event for the watched file, until ctx is
// done or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context) error {
	var (
		timer      *time.Timer
		timerMu    sync.Mutex
		targetFile = filepath.Base(w.path)
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if w.shouldReload(event, targetFile) {
				w.debounce(&timerMu, &timer)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("configfile: watcher error")
		}
	}
}

func (w *Watcher) shouldReload(event fsnotify.Event, targetFile string) bool {
	if filepath.Base(event.Name) != targetFile {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

func (w *Watcher) debounce(timerMu *sync.Mutex, timer **time.Timer) {
	timerMu.Lock()
	defer timerMu.Unlock()

	if *timer != nil {
		(*timer).Stop()
	}
	*timer = time.AfterFunc(w.debounceDelay, func() {
		select {
		case <-w.ctx.Done():
			return
		default:
		}
		w.reload()
	})
}

func (w *Watcher) reload() {
	f, err := Load(w.path)
	if err != nil {
		w.log.Error().Err(err).Str("path", w.path).Msg("configfile: failed to reload")
		return
	}
	if err := f.Validate(); err != nil {
		w.log.Error().Err(err).Str("path", w.path).Msg("configfile: reloaded config failed validation")
		return
	}

	w.log.Info().Str("path", w.path).Msg("configfile: reloaded")
	w.mu.RLock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb(f); err != nil {
			w.log.Error().Err(err).Msg("configfile: reload callback error")
		}
	}
}

// Close stops watching and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	w.closed = true
	w.cancel()
	return w.fsWatcher.Close()
}
