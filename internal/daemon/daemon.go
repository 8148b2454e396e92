// Package daemon keeps an index in sync with its workspace: it crawls once
// at startup, then watches the tree with fsnotify and feeds debounced
// batches of changed paths to the indexer.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/jward/understory"
	"github.com/jward/understory/internal/config"
	uerrors "github.com/jward/understory/internal/errors"
	"github.com/jward/understory/internal/store"
)

// DefaultDebounce is the quiet window used when Options.Debounce is zero.
const DefaultDebounce = 300 * time.Millisecond

// Indexer is the write side the daemon drives. *understory.Engine
// satisfies it.
type Indexer interface {
	IndexWorkspace(ctx context.Context) (*understory.IndexSummary, error)
	Rebuild(ctx context.Context) (*understory.IndexSummary, error)
	IndexPaths(ctx context.Context, paths []string) error
	Status() (understory.IndexStatus, error)
	InvalidateIgnores()
}

// Options configures a Daemon.
type Options struct {
	Root     string
	StateDir string
	Debounce time.Duration
	Logger   *slog.Logger
	// Match reports whether a file path is worth indexing. Nil accepts
	// every file.
	Match func(path string) bool
	// SkipDir reports whether a directory is left unwatched. The root is
	// always watched.
	SkipDir func(path string) bool
	Version string
}

// RunOptions tunes one Run.
type RunOptions struct {
	// Rebuild discards the existing index before the initial crawl.
	Rebuild bool
}

// Daemon watches one workspace. Run may be called once at a time.
type Daemon struct {
	idx     Indexer
	opts    Options
	logger  *slog.Logger
	rebuild chan struct{}

	mu     sync.RWMutex
	status Status

	watcher *fsnotify.Watcher
	deb     *debouncer
}

// New returns a Daemon for idx. Root defaults to the working directory and
// StateDir to <Root>/.understory.
func New(idx Indexer, opts Options) (*Daemon, error) {
	if opts.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		opts.Root = wd
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	opts.Root = root
	if opts.StateDir == "" {
		opts.StateDir = filepath.Join(root, config.StateDirName)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Match == nil {
		opts.Match = func(string) bool { return true }
	}
	if opts.SkipDir == nil {
		opts.SkipDir = func(string) bool { return false }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		idx:     idx,
		opts:    opts,
		logger:  logger,
		rebuild: make(chan struct{}, 1),
		status:  Status{State: StateStopped},
	}, nil
}

// Status returns a snapshot of the daemon's state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// RequestRebuild asks the running loop to discard and rebuild the index.
// Requests made while one is pending collapse into it.
func (d *Daemon) RequestRebuild() {
	select {
	case d.rebuild <- struct{}{}:
	default:
	}
}

// Run holds the daemon lock, crawls the workspace and watches it until ctx
// is canceled, which returns nil. A watcher failure, including removal of
// the root, returns a TypeWatch error.
func (d *Daemon) Run(ctx context.Context, ro RunOptions) (err error) {
	lock, err := acquireLock(d.opts.StateDir)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return uerrors.New(uerrors.TypeConflict, "daemon lock", err).WithPath(d.opts.StateDir)
		}
		return uerrors.New(uerrors.TypeIO, "daemon lock", err).WithPath(d.opts.StateDir)
	}
	defer lock.release()

	d.setStatus(func(s *Status) {
		*s = Status{
			Running:       true,
			PID:           os.Getpid(),
			RunID:         uuid.NewString(),
			Version:       d.opts.Version,
			SchemaVersion: store.SchemaVersion,
			StartedAt:     time.Now().UTC(),
			State:         StateStarting,
		}
	})
	defer func() {
		d.setStatus(func(s *Status) {
			s.Running = false
			s.State = StateStopped
		})
		if rmErr := removeStatus(d.opts.StateDir); rmErr != nil {
			d.logger.Warn("daemon.status.remove", "err", rmErr)
		}
		d.logger.Info("daemon.stopped", "err", err)
	}()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return uerrors.New(uerrors.TypeWatch, "watch", err)
	}
	defer w.Close()
	d.watcher = w
	d.deb = newDebouncer(d.opts.Debounce)
	defer d.deb.stop()

	// Watch before crawling so edits made during the crawl are queued.
	if err := d.addWatches(d.opts.Root); err != nil {
		return uerrors.New(uerrors.TypeWatch, "watch", err).WithPath(d.opts.Root)
	}

	if err := d.crawl(ctx, ro.Rebuild); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	d.setStatus(func(s *Status) { s.State = StateWatching })
	d.logger.Info("daemon.watching", "root", d.opts.Root, "debounce", d.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return uerrors.New(uerrors.TypeWatch, "watch", errors.New("event stream closed"))
			}
			if err := d.handleEvent(ev); err != nil {
				d.logger.Error("daemon.watch.error", "err", err)
				return err
			}

		case werr, ok := <-w.Errors:
			if !ok {
				return uerrors.New(uerrors.TypeWatch, "watch", errors.New("error stream closed"))
			}
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				d.logger.Warn("daemon.watch.overflow")
				d.deb.requestRescan()
				continue
			}
			d.logger.Error("daemon.watch.error", "err", werr)
			return uerrors.New(uerrors.TypeWatch, "watch", werr)

		case <-d.deb.ready:
			if err := d.flush(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}

		case <-d.rebuild:
			if err := d.crawl(ctx, true); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			d.setStatus(func(s *Status) { s.State = StateWatching })
		}
	}
}

// crawl runs a full IndexWorkspace, or a Rebuild.
func (d *Daemon) crawl(ctx context.Context, rebuild bool) error {
	d.setStatus(func(s *Status) { s.State = StateIndexing })
	var (
		summary *understory.IndexSummary
		err     error
	)
	if rebuild {
		d.logger.Info("daemon.rebuild")
		summary, err = d.idx.Rebuild(ctx)
	} else {
		summary, err = d.idx.IndexWorkspace(ctx)
	}
	if err != nil {
		return err
	}
	d.logger.Info("daemon.crawl",
		"indexed", summary.Indexed,
		"unchanged", summary.Unchanged,
		"removed", summary.Removed,
		"failed", len(summary.Failed),
		"dur", summary.Duration,
	)
	d.refreshCounts()
	return nil
}

// flush hands the debounced batch to the indexer.
func (d *Daemon) flush(ctx context.Context) error {
	paths, rescan := d.deb.drain()
	if rescan {
		d.idx.InvalidateIgnores()
		if err := d.crawl(ctx, false); err != nil {
			return err
		}
		d.setStatus(func(s *Status) { s.State = StateWatching })
		return nil
	}
	if len(paths) == 0 {
		return nil
	}
	start := time.Now()
	if err := d.idx.IndexPaths(ctx, paths); err != nil {
		return err
	}
	d.logger.Info("daemon.batch", "paths", len(paths), "dur", time.Since(start))
	d.refreshCounts()
	return nil
}

func (d *Daemon) handleEvent(ev fsnotify.Event) error {
	if ev.Name == d.opts.Root && ev.Has(fsnotify.Remove|fsnotify.Rename) {
		return uerrors.New(uerrors.TypeWatch, "watch", errors.New("workspace root removed")).WithPath(d.opts.Root)
	}
	if filepath.Base(ev.Name) == ".gitignore" {
		d.logger.Debug("daemon.ignores.changed", "path", ev.Name)
		d.deb.requestRescan()
		return nil
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		// The indexer drops the file, or every file beneath a directory.
		d.deb.add(ev.Name, ev.Op)

	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if d.opts.SkipDir(ev.Name) {
				return nil
			}
			if err := d.addWatches(ev.Name); err != nil {
				d.logger.Warn("daemon.watch.add", "path", ev.Name, "err", err)
			}
			return nil
		}
		if d.opts.Match(ev.Name) {
			d.deb.add(ev.Name, ev.Op)
		}

	case ev.Has(fsnotify.Write):
		if d.opts.Match(ev.Name) {
			d.deb.add(ev.Name, ev.Op)
		}
	}
	return nil
}

// addWatches watches dir and every directory beneath it that SkipDir
// accepts. Files already present under a directory other than the root
// are queued, since they may predate the watch.
func (d *Daemon) addWatches(dir string) error {
	return filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !entry.IsDir() {
			if dir != d.opts.Root && d.opts.Match(p) {
				d.deb.add(p, fsnotify.Create)
			}
			return nil
		}
		if p != d.opts.Root && d.opts.SkipDir(p) {
			return filepath.SkipDir
		}
		if err := d.watcher.Add(p); err != nil {
			if p == dir {
				return fmt.Errorf("add watch: %w", err)
			}
			d.logger.Warn("daemon.watch.add", "path", p, "err", err)
		}
		return nil
	})
}

func (d *Daemon) refreshCounts() {
	st, err := d.idx.Status()
	if err != nil {
		d.logger.Warn("daemon.status.counts", "err", err)
		return
	}
	d.setStatus(func(s *Status) {
		s.Files = st.Files
		s.Symbols = st.Symbols
		s.LastUpdate = st.LastUpdate
	})
}

// setStatus applies fn and mirrors a running daemon's status to disk.
func (d *Daemon) setStatus(fn func(*Status)) {
	d.mu.Lock()
	fn(&d.status)
	st := d.status
	d.mu.Unlock()
	if !st.Running {
		return
	}
	if err := writeStatus(d.opts.StateDir, st); err != nil {
		d.logger.Warn("daemon.status.write", "err", err)
	}
}
