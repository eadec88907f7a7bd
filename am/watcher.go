package am

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/etlpulse/errors"
)

// DefaultDebouncePeriod collapses the burst of events an editor save produces
const DefaultDebouncePeriod = 500 * time.Millisecond

// ReloadCallback is called with the new config after a successful reload
type ReloadCallback func(*Config) error

// ConfigWatcher watches config files and reloads the configuration when one
// of them changes. Parent directories are watched so files replaced by
// rename (as most editors save) keep being tracked.
type ConfigWatcher struct {
	files   map[string]struct{}
	load    func() (*Config, error)
	watcher *fsnotify.Watcher
	logger  *zap.SugaredLogger

	mu             sync.Mutex
	callbacks      []ReloadCallback
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	started        bool
	stopped        bool

	done chan struct{}
}

// NewConfigWatcher watches files and calls load on every change. load is
// usually Reload.
func NewConfigWatcher(files []string, load func() (*Config, error), log *zap.SugaredLogger) (*ConfigWatcher, error) {
	if len(files) == 0 {
		return nil, errors.New("no config files to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	cw := &ConfigWatcher{
		files:          make(map[string]struct{}, len(files)),
		load:           load,
		watcher:        watcher,
		logger:         log.Named("config-watcher"),
		debouncePeriod: DefaultDebouncePeriod,
		done:           make(chan struct{}),
	}

	dirs := make(map[string]struct{})
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			watcher.Close()
			return nil, errors.Wrapf(err, "failed to resolve config path %s", f)
		}
		cw.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, errors.Wrapf(err, "failed to watch config directory %s", dir)
		}
	}
	return cw, nil
}

// SetDebouncePeriod changes the debounce period; call before Start
func (cw *ConfigWatcher) SetDebouncePeriod(d time.Duration) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.debouncePeriod = d
}

// OnReload registers a callback to be called when config is reloaded
func (cw *ConfigWatcher) OnReload(callback ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// Start begins watching for config file changes
func (cw *ConfigWatcher) Start() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.started || cw.stopped {
		return
	}
	cw.started = true
	go cw.watchLoop()
}

func (cw *ConfigWatcher) watchLoop() {
	defer close(cw.done)
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, watched := cw.files[filepath.Clean(event.Name)]; !watched {
				continue
			}
			cw.logger.Infow("Config change detected", "file", event.Name, "op", event.Op.String())
			cw.scheduleReload()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warnw("Config watcher error", "error", err)
		}
	}
}

func (cw *ConfigWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.stopped {
		return
	}
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.debounceTimer = time.AfterFunc(cw.debouncePeriod, cw.reload)
}

// reload keeps the running config when the new one fails to load
func (cw *ConfigWatcher) reload() {
	cfg, err := cw.load()
	if err != nil {
		cw.logger.Errorw("Config reload failed, keeping current config", "error", err)
		return
	}

	cw.mu.Lock()
	if cw.stopped {
		cw.mu.Unlock()
		return
	}
	callbacks := append([]ReloadCallback(nil), cw.callbacks...)
	cw.mu.Unlock()

	cw.logger.Infow("Config reloaded")
	for _, callback := range callbacks {
		if err := callback(cfg); err != nil {
			cw.logger.Warnw("Config reload callback error", "error", err)
		}
	}
}

// Stop stops watching for config changes
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	if cw.stopped {
		cw.mu.Unlock()
		return nil
	}
	cw.stopped = true
	started := cw.started
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.mu.Unlock()

	err := cw.watcher.Close()
	if started {
		<-cw.done
	}
	return err
}
