package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// settle coalesces the bursts of events editors produce on save.
const settle = 100 * time.Millisecond

// Watch calls fn each time the file at path is written or re-created, until
// ctx is done. The parent directory is watched so that atomic saves (write to
// a temp file, rename over) are seen too.
func Watch(ctx context.Context, path string, fn func()) error {
	path, err := filepath.Abs(ExpandPath(path))
	if err != nil {
		return fmt.Errorf("unable to resolve %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("error adding dir to fsnotify watcher: %w", err)
	}
	log.Debug("fsnotify watching dir", "dir", dir, "file", filepath.Base(path))

	go func() {
		defer func() { _ = w.Close() }()

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
				log.Debug("fsnotify dir unwatched", "dir", dir)
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				log.Debug("fsnotify event", "file", event.Name, "event", event.Op)
				if timer == nil {
					timer = time.NewTimer(settle)
				} else {
					timer.Reset(settle)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				fn()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Debug("fsnotify error", "dir", dir, "error", err)
			}
		}
	}()
	return nil
}
