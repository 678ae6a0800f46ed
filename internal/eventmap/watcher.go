package eventmap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces editor save bursts into one reload.
const DefaultDebounce = 200 * time.Millisecond

// ReloadFunc receives each successfully loaded snapshot.
type ReloadFunc func(*Snapshot)

// Watcher reloads the event map whenever any document touched by the last
// load pass changes. The watched set is rebuilt after every reload, so
// adding or dropping imports moves the trigger with them.
type Watcher struct {
	configPath  string
	globalsPath string
	debounce    time.Duration
	onReload    ReloadFunc
	onFailure   func(error)
	logger      zerolog.Logger

	fsw *fsnotify.Watcher

	mu    sync.Mutex
	files map[string]struct{}
	dirs  map[string]struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the reload debounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger zerolog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithFailureHandler is called with the error of each failed reload pass.
func WithFailureHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onFailure = fn
	}
}

// NewWatcher creates a watcher tracking the files of the initial snapshot.
func NewWatcher(configPath, globalsPath string, initial *Snapshot, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	if initial == nil {
		return nil, errors.New("initial snapshot is required")
	}
	if onReload == nil {
		return nil, errors.New("reload callback is required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	w := &Watcher{
		configPath:  configPath,
		globalsPath: globalsPath,
		debounce:    DefaultDebounce,
		onReload:    onReload,
		logger:      zerolog.Nop(),
		fsw:         fsw,
		files:       make(map[string]struct{}),
		dirs:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.track(initial.Files); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Files returns the currently tracked documents.
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	files := make([]string, 0, len(w.files))
	for file := range w.files {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}

// Run processes file events until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod || !w.tracks(ev.Name) {
				continue
			}
			w.logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("event map document changed")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			_, _ = w.Reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

// Reload performs a load pass now. On failure the previous snapshot stays in
// effect; the error is logged and returned.
func (w *Watcher) Reload() (*Snapshot, error) {
	snapshot, err := Load(w.configPath, w.globalsPath)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.configPath).Msg("event map reload failed, keeping previous configuration")
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			files := append(w.Files(), loadErr.Files...)
			if trackErr := w.track(files); trackErr != nil {
				w.logger.Warn().Err(trackErr).Msg("failed to update watched documents")
			}
		}
		if w.onFailure != nil {
			w.onFailure(err)
		}
		return nil, err
	}

	if err := w.track(snapshot.Files); err != nil {
		w.logger.Warn().Err(err).Msg("failed to update watched documents")
	}

	w.logger.Info().
		Int("events", len(snapshot.Events)).
		Int("documents", len(snapshot.Files)).
		Msg("event map reloaded")
	w.onReload(snapshot)
	return snapshot, nil
}

func (w *Watcher) tracks(name string) bool {
	name = filepath.Clean(name)
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[name]
	return ok
}

// track replaces the watched file set. Directories are watched rather than
// files so editors that save by rename keep triggering reloads.
func (w *Watcher) track(files []string) error {
	nextFiles := make(map[string]struct{}, len(files))
	nextDirs := make(map[string]struct{})
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return fmt.Errorf("resolve watched file %s: %w", file, err)
		}
		nextFiles[abs] = struct{}{}
		nextDirs[filepath.Dir(abs)] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for dir := range w.dirs {
		if _, keep := nextDirs[dir]; !keep {
			if err := w.fsw.Remove(dir); err != nil {
				errs = append(errs, fmt.Errorf("unwatch %s: %w", dir, err))
			}
		}
	}
	for dir := range nextDirs {
		if _, had := w.dirs[dir]; had {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			errs = append(errs, fmt.Errorf("watch %s: %w", dir, err))
			delete(nextDirs, dir)
		}
	}

	w.files = nextFiles
	w.dirs = nextDirs
	return errors.Join(errs...)
}
