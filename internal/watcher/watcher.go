// Package watcher observes the credential file and announces external
// changes, so a login performed in another process takes effect without a
// restart.
package watcher

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watch monitors the credential file's directory and invokes onChange each
// time the file is written, created, renamed into place, or removed. The
// directory is watched instead of the file itself because editors and the
// atomic-rename save path replace the inode.
func Watch(ctx context.Context, path string, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err = w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}

	target := filepath.Clean(path)
	go func() {
		defer func() {
			if errClose := w.Close(); errClose != nil {
				log.Errorf("watcher: close error: %v", errClose)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				log.Infof("credential file changed (%s), reloading", event.Op)
				onChange()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnf("watcher error: %v", err)
			}
		}
	}()
	return nil
}
