package understory

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	uerrors "github.com/jward/understory/internal/errors"
	"github.com/jward/understory/internal/store"
)

// Crawl phases reported through WithProgress.
const (
	PhaseScanning   = "scanning"
	PhaseParsing    = "parsing"
	PhaseFinalizing = "finalizing"
)

// Progress is a snapshot of a running crawl.
type Progress struct {
	Phase string
	Done  int
	Total int
	Path  string // the file just processed, during parsing
}

// FileFailure records a file that was indexed with zero or partial output
// because parsing, a script or an IO operation failed.
type FileFailure struct {
	Path string
	Err  error
}

// IndexSummary describes a completed crawl.
type IndexSummary struct {
	Discovered int
	Indexed    int // files whose rows were replaced
	Unchanged  int // files skipped or only touched
	Removed    int // indexed files no longer present
	Failed     []FileFailure
	Symbols    int // symbols in the index after the crawl
	Duration   time.Duration
}

// FilesPerSecond is the crawl throughput over discovered files.
func (s *IndexSummary) FilesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Discovered) / s.Duration.Seconds()
}

// IndexWorkspace crawls the whole workspace: it discovers files, runs the
// per-file state machine on each in parallel, commits from a single writer
// and prunes files that are no longer present. Crawls never interleave; a
// second call waits for the first.
func (e *Engine) IndexWorkspace(ctx context.Context) (*IndexSummary, error) {
	e.crawlMu.Lock()
	defer e.crawlMu.Unlock()
	return e.crawlLocked(ctx)
}

// Rebuild cancels any crawl in flight, waits for it to drain, discards
// every indexed file and crawls from scratch.
func (e *Engine) Rebuild(ctx context.Context) (*IndexSummary, error) {
	e.cancelMu.Lock()
	if e.cancelCrawl != nil {
		e.logger.Info("index.rebuild.cancel", "root", e.root)
		e.cancelCrawl()
	}
	e.cancelMu.Unlock()

	e.crawlMu.Lock()
	defer e.crawlMu.Unlock()

	e.logger.Info("index.rebuild", "root", e.root)
	if err := e.store.Reset(); err != nil {
		return nil, uerrors.New(uerrors.TypeStore, "reset", err)
	}
	return e.crawlLocked(ctx)
}

// crawlLocked runs a full crawl. The caller holds crawlMu.
func (e *Engine) crawlLocked(ctx context.Context) (*IndexSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancelMu.Lock()
	e.cancelCrawl = cancel
	e.cancelMu.Unlock()
	defer func() {
		e.cancelMu.Lock()
		e.cancelCrawl = nil
		e.cancelMu.Unlock()
	}()

	start := time.Now()
	summary := &IndexSummary{}

	e.report(Progress{Phase: PhaseScanning})
	paths, err := e.discover(ctx)
	if err != nil {
		return nil, err
	}
	summary.Discovered = len(paths)
	e.report(Progress{Phase: PhaseScanning, Done: len(paths), Total: len(paths)})

	files, err := e.store.AllFiles()
	if err != nil {
		return nil, uerrors.New(uerrors.TypeStore, "load files", err)
	}
	known := make(map[string]*store.File, len(files))
	for _, f := range files {
		known[f.Path] = f
	}

	if err := e.runWorkers(ctx, paths, known, summary); err != nil {
		return nil, err
	}

	// Prune files that were indexed before but are no longer discovered.
	e.report(Progress{Phase: PhaseFinalizing})
	discovered := make(map[string]bool, len(paths))
	for _, p := range paths {
		discovered[p] = true
	}
	for _, f := range files {
		if discovered[f.Path] {
			continue
		}
		unlock := e.paths.lock(f.Path)
		ok, err := e.store.DeleteFile(f.Path)
		unlock()
		if err != nil {
			return nil, uerrors.New(uerrors.TypeStore, "prune", err).WithPath(f.Path)
		}
		if ok {
			summary.Removed++
		}
	}

	counts, err := e.store.Counts()
	if err != nil {
		return nil, uerrors.New(uerrors.TypeStore, "count", err)
	}
	summary.Symbols = counts.Symbols
	summary.Duration = time.Since(start)
	e.report(Progress{Phase: PhaseFinalizing, Done: 1, Total: 1})

	e.logger.Info("crawl.done",
		"files", summary.Discovered,
		"indexed", summary.Indexed,
		"unchanged", summary.Unchanged,
		"removed", summary.Removed,
		"failed", len(summary.Failed),
		"symbols", summary.Symbols,
		"dur", summary.Duration,
	)
	return summary, nil
}

// runWorkers hashes and extracts paths on a bounded errgroup while one
// writer goroutine commits each result in its own transaction.
func (e *Engine) runWorkers(ctx context.Context, paths []string, known map[string]*store.File, summary *IndexSummary) error {
	workers := e.workers
	if workers <= 0 {
		workers = goruntime.NumCPU()
	}
	workers = max(1, min(workers, len(paths)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		failMu   sync.Mutex
		writeErr error
		done     int
	)
	fail := func(path string, err error) {
		failMu.Lock()
		summary.Failed = append(summary.Failed, FileFailure{Path: path, Err: err})
		failMu.Unlock()
	}

	results := make(chan *fileWork, workers)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for w := range results {
			if writeErr == nil {
				if err := e.apply(w); err != nil {
					writeErr = err
					cancel()
				} else {
					switch w.action {
					case actionCommit:
						summary.Indexed++
					case actionSkip, actionTouch:
						summary.Unchanged++
					case actionDelete:
						summary.Removed++
					}
				}
			}
			w.unlock()
			done++
			e.report(Progress{Phase: PhaseParsing, Done: done, Total: len(paths), Path: w.rel})
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, rel := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			unlock := e.paths.lock(rel)
			w, err := e.prepare(gctx, rel, known)
			if err != nil {
				unlock()
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if uerrors.Is(err, uerrors.TypeStore) {
					return err
				}
				e.logger.Warn("index.file.failed", "path", rel, "err", err)
				fail(rel, err)
				return nil
			}
			if w.failure != nil {
				fail(rel, w.failure)
			}
			w.unlock = unlock
			select {
			case results <- w:
				return nil
			case <-gctx.Done():
				unlock()
				return gctx.Err()
			}
		})
	}
	gerr := g.Wait()
	close(results)
	<-writerDone

	if writeErr != nil {
		return writeErr
	}
	if gerr != nil {
		if errors.Is(gerr, context.Canceled) || errors.Is(gerr, context.DeadlineExceeded) {
			return fmt.Errorf("understory: crawl interrupted: %w", gerr)
		}
		return gerr
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("understory: crawl interrupted: %w", err)
	}
	return nil
}

func (e *Engine) report(p Progress) {
	if e.progress != nil {
		e.progress(p)
	}
}
