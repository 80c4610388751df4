// Package spool feeds requests dropped into a directory to a batch queue and
// writes each result back next to the request.
//
// A request file is claimed by renaming NAME.json to NAME.json.inflight. Once
// its future settles the watcher writes NAME.result.json or NAME.error.json
// and removes the inflight file.
package spool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/graphbatch/pkg/batch"
	"github.com/bft-labs/graphbatch/pkg/graph"
	"github.com/bft-labs/graphbatch/pkg/log"
)

// File name suffixes.
const (
	RequestSuffix  = ".json"
	InflightSuffix = ".json.inflight"
	ResultSuffix   = ".result.json"
	ErrorSuffix    = ".error.json"
)

// DefaultDebounceDelay is how long a path must be quiet before it is claimed.
const DefaultDebounceDelay = 100 * time.Millisecond

// Enqueuer accepts requests for batching.
type Enqueuer interface {
	Enqueue(req graph.Request) *batch.Future
}

// Config holds configuration options for the watcher.
type Config struct {
	// Dir is the directory to watch. It is created if missing.
	Dir string

	// DebounceDelay is the delay to wait after the last event on a file.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// Result is the document written to NAME.result.json.
type Result struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

// Failure is the document written to NAME.error.json.
type Failure struct {
	ID    string          `json:"id"`
	Error string          `json:"error"`
	Code  int             `json:"code,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// Watcher moves request files from a directory into a queue.
type Watcher struct {
	mu       sync.Mutex
	dir      string
	debounce time.Duration
	queue    Enqueuer
	logger   log.Logger
	timers   map[string]*time.Timer
	closing  chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

// New creates a watcher for cfg.Dir.
func New(cfg Config, queue Enqueuer, logger log.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("spool: directory is required")
	}
	if queue == nil {
		return nil, errors.New("spool: queue is required")
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultDebounceDelay
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: create directory: %w", err)
	}

	return &Watcher{
		dir:      cfg.Dir,
		debounce: cfg.DebounceDelay,
		queue:    queue,
		logger:   log.With(logger, log.String("component", "spool")),
		timers:   make(map[string]*time.Timer),
		closing:  make(chan struct{}),
	}, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Run watches the directory until ctx is done. Request files already present
// are claimed first. Results of claimed requests keep being written after Run
// returns, until Close.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("spool: watch %s: %w", w.dir, err)
	}

	w.logger.Info("spool watcher started", log.String("dir", w.dir))

	if err := w.scan(); err != nil {
		w.logger.Warn("initial scan failed", log.Err(err))
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isRequestFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", log.Err(err))
		}
	}
}

// Close stops waiting for unsettled requests and waits for pending writes.
// Requests whose futures never settled keep their inflight file.
func (w *Watcher) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.closing)
	}
	w.mu.Unlock()

	w.stopTimers()
	w.wg.Wait()
}

func (w *Watcher) scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !isRequestFile(e.Name()) {
			continue
		}
		w.claim(filepath.Join(w.dir, e.Name()))
	}
	return nil
}

// schedule claims path once no event for it has arrived for the debounce delay.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.claim(path)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) claim(path string) {
	name := strings.TrimSuffix(filepath.Base(path), RequestSuffix)
	inflight := filepath.Join(w.dir, name+InflightSuffix)

	if err := os.Rename(path, inflight); err != nil {
		// Already claimed by an earlier event.
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("claim failed", log.String("file", path), log.Err(err))
		}
		return
	}

	req, err := readRequest(inflight)
	if err != nil {
		w.logger.Warn("invalid request file", log.String("file", path), log.Err(err))
		w.finish(name, inflight, Failure{Error: err.Error()}, ErrorSuffix)
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		// Put it back for the next run.
		_ = os.Rename(inflight, path)
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()

	f := w.queue.Enqueue(req)
	w.logger.Debug("request enqueued",
		log.String("file", name),
		log.String("id", f.ID()),
	)

	go w.respond(name, inflight, f)
}

func (w *Watcher) respond(name, inflight string, f *batch.Future) {
	defer w.wg.Done()

	select {
	case <-f.Done():
	case <-w.closing:
	}

	body, err := f.Result()
	switch {
	case errors.Is(err, batch.ErrPending):
		w.logger.Warn("request left unsettled",
			log.String("file", name),
			log.String("id", f.ID()),
		)
	case err != nil:
		doc := Failure{ID: f.ID(), Error: err.Error()}
		var batchErr *batch.Error[graph.Request]
		if errors.As(err, &batchErr) {
			doc.Code = batchErr.StatusCode()
			doc.Body = batchErr.Response.Body
		}
		w.finish(name, inflight, doc, ErrorSuffix)
	default:
		w.finish(name, inflight, Result{ID: f.ID(), Body: body}, ResultSuffix)
	}
}

func (w *Watcher) finish(name, inflight string, doc any, suffix string) {
	dst := filepath.Join(w.dir, name+suffix)
	if err := writeJSON(dst, doc); err != nil {
		w.logger.Error("write result failed", log.String("file", dst), log.Err(err))
		return
	}
	if err := os.Remove(inflight); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("remove inflight file failed", log.String("file", inflight), log.Err(err))
	}
}

func readRequest(path string) (graph.Request, error) {
	var req graph.Request
	b, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(b, &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// writeJSON writes through a temporary file so readers never see a partial document.
func writeJSON(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isRequestFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, RequestSuffix) {
		return false
	}
	return !strings.HasSuffix(base, ResultSuffix) && !strings.HasSuffix(base, ErrorSuffix)
}
