package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

// Watch reloads the store whenever its configuration file changes on disk,
// then invokes onChange. The parent directory is watched rather than the
// file itself so editors that replace the file by rename keep triggering
// reloads. A file that fails to load leaves the previous state in place.
// The returned stop function releases the watcher.
func (s *Store) Watch(logger quotawatch.Logger, onChange func()) (stop func() error, err error) {
	if logger == nil {
		logger = &quotawatch.NoopLogger{}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	path := s.Path()
	base := filepath.Base(path)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					logger.Warn("failed to reload config",
						quotawatch.Field{Key: "path", Value: path},
						quotawatch.Field{Key: "error", Value: err.Error()})
					continue
				}
				logger.Info("config reloaded", quotawatch.Field{Key: "path", Value: path})
				if onChange != nil {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error",
					quotawatch.Field{Key: "error", Value: err.Error()})
			}
		}
	}()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	return watcher.Close, nil
}
