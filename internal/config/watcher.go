package config

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a config file for changes and calls a callback when the
// file is modified. Writers (editors, deploy tooling) commonly replace the
// file rather than edit it in place, so both Write and Create/Rename events
// on the containing directory are watched.
type Watcher struct {
	path          string
	debounceDelay time.Duration
	onChange      func(old, new *Config)

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	current *Config
	done    chan struct{}
	stop    sync.Once

	lastHash [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits after the last fs event
// before reloading, coalescing the burst of events many editors emit on
// save. The default is 100ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithInterval is retained for call-site compatibility with older callers;
// it maps onto the debounce delay since polling was replaced by fsnotify.
func WithInterval(d time.Duration) WatcherOption {
	return WithDebounce(d)
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts watching the file's directory in a background
// goroutine (config changes apply only to calls accepted after the reload;
// in-flight call sessions keep their already-loaded agent snapshot).
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:          path,
		debounceDelay: 100 * time.Millisecond,
		onChange:      onChange,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch dir %q: %w", filepath.Dir(path), err)
	}
	w.watcher = fsw

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stop.Do(func() {
		close(w.done)
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
}

// loop processes fsnotify events for the watched directory, debouncing
// bursts and reloading only when an event touches the config file itself.
func (w *Watcher) loop() {
	var debounceTimer *time.Timer
	target := filepath.Clean(w.path)

	for {
		select {
		case <-w.done:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounceDelay, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher: fsnotify error", "path", w.path, "err", err)
		}
	}
}

// reload re-reads the config file and, if it parses and its content hash
// differs from the last loaded config, invokes onChange.
func (w *Watcher) reload() {
	cfg, hash, err := w.loadAndHash()
	if err != nil {
		slog.Warn("config watcher: failed to load config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// loadAndHash reads the config file, parses + validates it, and returns the
// config alongside the file's SHA-256 hash. If the config is invalid, it
// returns an error (the caller should keep the old one).
func (w *Watcher) loadAndHash() (*Config, [sha256.Size]byte, error) {
	var zeroHash [sha256.Size]byte

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zeroHash, err
	}

	hash := sha256.Sum256(data)

	cfg, err := LoadFromReader(bytesReader(data))
	if err != nil {
		return nil, zeroHash, err
	}

	return cfg, hash, nil
}

// bytesReader wraps a byte slice in a minimal io.Reader.
type bytesReaderImpl struct {
	data []byte
	pos  int
}

func bytesReader(b []byte) io.Reader {
	return &bytesReaderImpl{data: b}
}

func (r *bytesReaderImpl) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
