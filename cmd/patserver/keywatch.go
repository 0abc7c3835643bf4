package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const keyReloadDelay = 500 * time.Millisecond

// watchKeys calls callback once changes to any of paths settle for delay.
// The parent directories are watched so that editors and secret managers
// that replace files atomically are seen. Empty paths are ignored.
func watchKeys(ctx context.Context, logger *zap.Logger, paths []string, delay time.Duration, callback func()) error {
	targets := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	if len(targets) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	reload := make(chan struct{}, 1)
	go scheduleReload(ctx, reload, delay, callback)
	go handleWatcher(ctx, watcher, targets, reload, logger)
	return nil
}

func handleWatcher(ctx context.Context, watcher *fsnotify.Watcher, targets map[string]struct{}, reload chan<- struct{}, logger *zap.Logger) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if _, hit := targets[filepath.Clean(event.Name)]; !hit {
				continue
			}
			if event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename) {
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("key watcher error", zap.Error(err))
		}
	}
}

func scheduleReload(ctx context.Context, reload <-chan struct{}, delay time.Duration, callback func()) {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-reload:
			if timer != nil {
				timer.Reset(delay)
			} else {
				timer = time.NewTimer(delay)
				fire = timer.C
			}
		case <-fire:
			timer, fire = nil, nil
			callback()
		}
	}
}
