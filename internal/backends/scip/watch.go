package scip

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch marks the index stale whenever the index file is written, created
// or replaced, so the next request reloads it. The directory is watched
// because indexers usually replace the file by renaming.
func (a *Adapter) Watch() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(a.indexPath)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(a.indexPath), err)
	}
	a.watcher = w
	a.done = make(chan struct{})
	go a.watchLoop(w, a.done)
	return nil
}

func (a *Adapter) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	target := filepath.Clean(a.indexPath)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				a.invalidate()
				a.logger.Debug("Index changed", "op", ev.Op.String())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			a.logger.Warn("Index watcher error", "error", err.Error())
		}
	}
}

func (a *Adapter) invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.index != nil {
		a.stale = true
	}
}

// Stale reports whether the loaded index is out of date with its file.
func (a *Adapter) Stale() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stale
}

// Shutdown stops the watcher.
func (a *Adapter) Shutdown(context.Context) error {
	a.mu.Lock()
	w, done := a.watcher, a.done
	a.watcher = nil
	a.mu.Unlock()
	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}
