package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Watch reloads path whenever it is written or replaced and applies the new
// log level to level. onChange, if set, receives every successfully loaded
// config. Watch returns once the watcher is running; it stops when ctx is
// done.
func Watch(ctx context.Context, path string, level zap.AtomicLevel, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "config: create watcher")
	}
	// Editors replace files by rename, so watch the directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return eris.Wrap(err, "config: watch directory")
	}

	log := zap.L().With(zap.String("component", "config.watch"), zap.String("path", path))
	target := filepath.Clean(path)

	go func() {
		defer w.Close() //nolint:errcheck
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Warn("config reload failed, keeping previous", zap.Error(err))
					continue
				}
				if lvl, err := zapcore.ParseLevel(cfg.Log.Level); err == nil && lvl != level.Level() {
					level.SetLevel(lvl)
					log.Info("log level changed", zap.String("level", lvl.String()))
				}
				if onChange != nil {
					onChange(cfg)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
