package watch

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/dl-alexandre/odsync/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Watcher observes a local root recursively and coalesces bursts of
// filesystem events into single wake-ups. It only signals that something
// changed; the scanner determines what.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	notify   chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	logger   logging.Logger
	debounce time.Duration

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for root. Start must be called before
// events flow.
func NewWatcher(root string, debounce time.Duration, logger logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		watcher:  fsw,
		root:     root,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger,
		debounce: debounce,
	}, nil
}

// Start registers the root and every existing subdirectory, then begins
// coalescing events.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

// C signals after a debounced burst of changes under the root
func (w *Watcher) C() <-chan struct{} {
	return w.notify
}

// Close stops the watcher and releases its OS resources
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return w.watcher.Close()
	}
	w.running = false
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if addErr := w.watcher.Add(path); addErr != nil {
			return fmt.Errorf("failed to watch %s: %w", path, addErr)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// New directories must be registered before events inside
			// them can be seen
			if event.Op&fsnotify.Create != 0 {
				if err := w.addRecursive(event.Name); err != nil {
					w.logger.Debug("Watch registration failed",
						logging.F("path", event.Name),
						logging.F("error", err.Error()),
					)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			select {
			case w.notify <- struct{}{}:
			default:
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Filesystem watcher error", logging.F("error", err.Error()))
		}
	}
}
