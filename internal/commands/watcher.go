package commands

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 500 * time.Millisecond

// Watcher reloads a catalog when files under its mods directory change.
type Watcher struct {
	catalog  *Catalog
	fsw      *fsnotify.Watcher
	debounce time.Duration

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	onReload func()
}

// Watch starts watching the catalog's mods directory, creating it if needed.
// onReload, when non-nil, runs after every debounced reload.
func Watch(catalog *Catalog, onReload func()) (*Watcher, error) {
	return watch(catalog, debounceInterval, onReload)
}

func watch(catalog *Catalog, debounce time.Duration, onReload func()) (*Watcher, error) {
	if err := os.MkdirAll(catalog.ModsDir(), 0755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addDirsRecursive(fsw, catalog.ModsDir()); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		catalog:  catalog,
		fsw:      fsw,
		debounce: debounce,
		done:     make(chan struct{}),
		onReload: onReload,
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	var timer *time.Timer

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					addDirsRecursive(w.fsw, event.Name)
				}
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[Commands] Watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}
	if err := w.catalog.Reload(); err != nil {
		log.Printf("[Commands] Reload failed: %v", err)
		return
	}
	if w.onReload != nil {
		w.onReload()
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

func addDirsRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				log.Printf("[Commands] Cannot watch %s: %v", path, err)
			}
		}
		return nil
	})
}
