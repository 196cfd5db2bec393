package daemon

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ConfigWatcher calls onChange after the config file has been written. The
// parent directory is watched so editors that replace the file by rename are
// seen too.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	logger   zerolog.Logger
	onChange func()
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewConfigWatcher starts watching path.
func NewConfigWatcher(path string, logger zerolog.Logger, onChange func()) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	cw := &ConfigWatcher{
		watcher:  watcher,
		path:     abs,
		logger:   logger.With().Str("component", "config_watcher").Logger(),
		onChange: onChange,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	go cw.run()

	return cw, nil
}

// Stop stops the watcher and cancels any pending reload.
func (cw *ConfigWatcher) Stop() error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.stopCh)
		err = cw.watcher.Close()
		<-cw.done

		cw.mu.Lock()
		if cw.timer != nil {
			cw.timer.Stop()
		}
		cw.mu.Unlock()
	})
	return err
}

func (cw *ConfigWatcher) run() {
	defer close(cw.done)

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != cw.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				cw.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Config change detected")

				cw.schedule()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error().Err(err).Msg("Config watcher error")

		case <-cw.stopCh:
			return
		}
	}
}

// schedule debounces bursts of writes into one reload
func (cw *ConfigWatcher) schedule() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.timer != nil {
		cw.timer.Stop()
	}

	cw.timer = time.AfterFunc(cw.debounce, func() {
		select {
		case <-cw.stopCh:
			return
		default:
		}
		cw.logger.Info().Msg("Reloading config")
		cw.onChange()
	})
}
