package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"worktracker/internal/logfields"
)

// FileWatcher calls reload whenever the watched file is written, created or
// renamed. Bursts of events are collapsed into one reload.
type FileWatcher struct {
	path       string
	reload     func() error
	watcher    *fsnotify.Watcher
	reloadChan chan struct{}
	stopChan   chan struct{}
	stopOnce   sync.Once
	debounce   time.Duration
}

func NewFileWatcher(path string, reload func() error) (*FileWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watched path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &FileWatcher{
		path:       absPath,
		reload:     reload,
		watcher:    watcher,
		reloadChan: make(chan struct{}, 1),
		stopChan:   make(chan struct{}),
		debounce:   500 * time.Millisecond,
	}, nil
}

// Start watches the directory of the file, which survives editors that
// replace the file instead of writing it in place.
func (w *FileWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}
	slog.Info("Watching file for changes", logfields.Path(w.path))
	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

func (w *FileWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopChan)
		err = w.watcher.Close()
	})
	return err
}

func (w *FileWatcher) watchLoop(ctx context.Context) {
	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				slog.Debug("Watched file changed", logfields.Path(event.Name), slog.String("op", event.Op.String()))
				w.trigger()
			case event.Op&fsnotify.Remove != 0:
				slog.Warn("Watched file removed", logfields.Path(event.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", logfields.Error(err))
		}
	}
}

func (w *FileWatcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-w.stopChan:
			stop()
			return
		case <-w.reloadChan:
			stop()
			timer = time.AfterFunc(w.debounce, func() {
				if err := w.reload(); err != nil {
					slog.Error("Reload failed, keeping previous version", logfields.Path(w.path), logfields.Error(err))
					return
				}
				slog.Info("Reloaded file", logfields.Path(w.path))
			})
		}
	}
}

func (w *FileWatcher) trigger() {
	select {
	case w.reloadChan <- struct{}{}:
	default:
	}
}
