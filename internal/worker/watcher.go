package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vsalomaa/spmirror/internal/config"
)

const reloadDebounce = 2 * time.Second

// configWatcher reloads the config file on change and swaps the holder's
// snapshot. A reload that fails to parse or validate keeps the old config.
type configWatcher struct {
	holder   *config.Holder
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	// onReload is called after each successful swap. Test hook and
	// metrics refresh point.
	onReload func(*config.Config)
}

func newConfigWatcher(holder *config.Holder, logger *slog.Logger) (*configWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("worker: creating config watcher: %w", err)
	}

	// Watch the directory, not the file: editors rename over the target
	// and the watch would die with the old inode.
	dir := filepath.Dir(holder.Path())
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("worker: watching %s: %w", dir, err)
	}

	return &configWatcher{
		holder:   holder,
		watcher:  w,
		logger:   logger,
		debounce: reloadDebounce,
	}, nil
}

// run processes watch events until the context ends. Rapid event bursts are
// debounced into one reload.
func (cw *configWatcher) run(ctx context.Context) {
	defer cw.watcher.Close()

	configFile := filepath.Base(cw.holder.Path())

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != configFile {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			cw.logger.Debug("config file changed", slog.String("op", event.Op.String()))

			if timer != nil {
				timer.Stop()
			}

			timer = time.AfterFunc(cw.debounce, cw.reload)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}

			cw.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

// reload re-resolves the file plus environment overrides, swapping the holder
// only on success. The environment must be re-applied here: secrets commonly
// live in SPMIRROR_* variables and the file alone would fail validation.
func (cw *configWatcher) reload() {
	path := cw.holder.Path()

	cfg, err := config.Reload(path)
	if err != nil {
		cw.logger.Warn("config reload rejected, keeping previous config",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return
	}

	cw.holder.Update(cfg)
	cw.logger.Info("config reloaded", slog.String("path", path))

	if cw.onReload != nil {
		cw.onReload(cfg)
	}
}
