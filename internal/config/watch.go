package config

import (
	"context"
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the config file and calls onChange with each successfully
// reloaded Config. A failed reload keeps the previous config active. Runs
// until ctx is cancelled.
func Watch(ctx context.Context, path string, logger *log.Logger, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename; catch Create as well as Write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				if logger != nil {
					logger.Printf("config reload failed, keeping previous: path=%s err=%v", path, err)
				}
				continue
			}
			if logger != nil {
				logger.Printf("config reloaded: path=%s", path)
			}
			onChange(cfg)
			// Re-add in case an atomic save replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if logger != nil {
				logger.Printf("config watcher error: err=%v", err)
			}
		}
	}
}
