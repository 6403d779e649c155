// Package watch transcribes audio files as they appear in a directory.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/types"
)

// DefaultSettle is how long a file must stay unchanged before it is handled.
const DefaultSettle = 2 * time.Second

// Handler processes one settled audio file.
type Handler interface {
	Handle(ctx context.Context, path string)
}

// HandlerFunc adapts a func to Handler.
type HandlerFunc func(ctx context.Context, path string)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, path string) { f(ctx, path) }

// Watcher feeds new audio files in a directory to a Handler, one at a time.
type Watcher struct {
	dir     string
	settle  time.Duration
	handler Handler
	log     zerolog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]bool
	ready   chan string
}

// New returns a Watcher for dir.
func New(dir string, settle time.Duration, h Handler, log zerolog.Logger) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{
		dir:     dir,
		settle:  settle,
		handler: h,
		log:     logger.Component(log, "watch"),
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]bool),
		ready:   make(chan string, 64),
	}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", w.dir, err)
	}
	w.log.Info().Str("dir", w.dir).Msg("watching for audio files")

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.process(ctx)
	}()
	defer func() {
		cancel()
		w.stopTimers()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.schedule(event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch dir %q: %w", w.dir, err)
		}
	}
}

// schedule (re)arms the settle timer of path.
func (w *Watcher) schedule(path string) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !types.IsAudioFile(base) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending[path] {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() { w.settled(path) })
}

func (w *Watcher) settled(path string) {
	w.mu.Lock()
	delete(w.timers, path)
	if w.pending[path] {
		w.mu.Unlock()
		return
	}
	w.pending[path] = true
	w.mu.Unlock()

	select {
	case w.ready <- path:
	default:
		w.log.Warn().Str(logger.FieldFile, path).Msg("backlog full, dropping file")
		w.done(path)
	}
}

func (w *Watcher) done(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
}

func (w *Watcher) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.ready:
			w.log.Info().Str(logger.FieldFile, path).Msg("new audio file")
			w.handler.Handle(ctx, path)
			w.done(path)
		}
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}
