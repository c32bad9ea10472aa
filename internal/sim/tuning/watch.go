package tuning

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the tuning file on change and hands the result to onChange.
// Only live-safe knobs should be consumed from reloads; structural constants
// (actor count, elimination hours) are read once at start. The returned stop
// function shuts the watcher down.
func Watch(path string, logger *log.Logger, onChange func(Tuning)) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files, which drops the inode watch.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}

	base := filepath.Base(path)
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				t, err := Load(path)
				if err != nil {
					logger.Printf("tuning reload failed: %v", err)
					continue
				}
				logger.Printf("tuning reloaded from %s", path)
				onChange(t)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Printf("tuning watcher: %v", err)
			}
		}
	}()

	return func() { _ = w.Close() }, nil
}
