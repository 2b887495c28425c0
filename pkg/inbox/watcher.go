// Package inbox watches a drop directory for batch files and hands each new
// file to a handler. Handled files are moved to processed/, files whose
// handler failed are moved to failed/ next to a .error file with the reason.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Subdirectories of the inbox.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// DefaultSettleDelay is how long a file must stay quiet before it is handled.
const DefaultSettleDelay = 250 * time.Millisecond

// Handler processes one batch file.
type Handler func(ctx context.Context, path string) error

// Watcher watches an inbox directory.
type Watcher struct {
	dir     string
	handler Handler
	logger  zerolog.Logger
	settle  time.Duration

	mu       sync.Mutex
	pending  map[string]*time.Timer
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettleDelay sets the quiet period before a file is handled.
func WithSettleDelay(d time.Duration) Option {
	return func(w *Watcher) {
		w.settle = d
	}
}

// NewWatcher creates a watcher for dir. The processed and failed
// subdirectories are created if needed.
func NewWatcher(dir string, handler Handler, logger zerolog.Logger, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("inbox handler is required")
	}
	for _, sub := range []string{dir, filepath.Join(dir, ProcessedDir), filepath.Join(dir, FailedDir)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create inbox directory: %w", err)
		}
	}

	w := &Watcher{
		dir:      dir,
		handler:  handler,
		logger:   logger.With().Str("component", "inbox").Str("dir", dir).Logger(),
		settle:   DefaultSettleDelay,
		pending:  make(map[string]*time.Timer),
		inFlight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run handles files already in the inbox, then watches for new ones until
// ctx is cancelled. In-flight handlers finish before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch inbox: %w", err)
	}

	if err := w.ProcessExisting(ctx); err != nil {
		return err
	}

	w.logger.Info().Msg("Watching inbox")

	defer w.wg.Wait()
	defer w.cancelPending()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isBatchFile(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// ProcessExisting handles every batch file currently in the inbox, in name order.
func (w *Watcher) ProcessExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read inbox: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && isBatchFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return nil
		}
		w.process(ctx, filepath.Join(w.dir, name))
	}
	return nil
}

// schedule handles path once it has been quiet for the settle delay. Events
// for a file whose handler is running are dropped; the file leaves the inbox
// when the handler returns.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inFlight[path] {
		return
	}

	if timer, ok := w.pending[path]; ok && timer.Stop() {
		timer.Reset(w.settle)
		return
	}

	w.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()

		w.mu.Lock()
		if w.pending[path] == timer {
			delete(w.pending, path)
		}
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	})
	w.pending[path] = timer
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
}

// claim marks path as being handled. It fails when a handler already runs.
func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inFlight[path] {
		return false
	}
	w.inFlight[path] = true
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, path)
}

// process runs the handler and moves the file out of the inbox. At most one
// handler runs per path.
func (w *Watcher) process(ctx context.Context, path string) {
	if !w.claim(path) {
		return
	}
	defer w.release(path)

	if _, err := os.Stat(path); err != nil {
		return
	}

	logger := w.logger.With().Str("file", filepath.Base(path)).Logger()
	logger.Info().Msg("Processing batch file")

	handlerErr := w.handler(ctx, path)

	dest := ProcessedDir
	if handlerErr != nil {
		dest = FailedDir
		logger.Error().Err(handlerErr).Msg("Batch file failed")
	}

	moved, err := moveInto(path, filepath.Join(w.dir, dest))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to move batch file")
		return
	}

	if handlerErr != nil {
		if err := os.WriteFile(moved+".error", []byte(handlerErr.Error()+"\n"), 0o644); err != nil {
			logger.Warn().Err(err).Msg("Failed to write error file")
		}
		return
	}
	logger.Info().Str("moved_to", moved).Msg("Batch file processed")
}

// moveInto moves path into dir, adding a timestamp when the name is taken.
func moveInto(path, dir string) (string, error) {
	dest := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(path)
		base := filepath.Base(path[:len(path)-len(ext)])
		dest = filepath.Join(dir, fmt.Sprintf("%s-%s%s", base, time.Now().UTC().Format("20060102T150405.000000000"), ext))
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func isBatchFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
