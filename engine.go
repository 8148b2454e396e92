package understory

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jward/understory/internal/config"
	uerrors "github.com/jward/understory/internal/errors"
	"github.com/jward/understory/internal/lang"
	"github.com/jward/understory/internal/runtime"
	"github.com/jward/understory/internal/store"
)

// Engine orchestrates indexing for one workspace: file discovery, change
// detection, extraction and per-file transactional commits.
type Engine struct {
	store      *store.Store
	root       string
	cfg        config.Config
	languages  map[lang.Language]bool // nil means all languages
	workers    int
	logger     *slog.Logger
	scriptsDir string
	scriptsFS  fs.FS
	runtime    *runtime.Runtime // nil when no extraction scripts are configured
	progress   func(Progress)
	ignores    *ignoreSet

	paths pathLocks

	// crawlMu serializes full crawls; cancelMu guards cancelCrawl, which
	// cancels the crawl currently holding crawlMu.
	crawlMu     sync.Mutex
	cancelMu    sync.Mutex
	cancelCrawl context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg config.Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithLanguages restricts which languages the Engine will process. It
// takes precedence over index.languages in the configuration.
func WithLanguages(languages ...Language) Option {
	return func(e *Engine) {
		e.languages = make(map[lang.Language]bool, len(languages))
		for _, l := range languages {
			e.languages[l] = true
		}
	}
}

// WithWorkers sets the number of extraction workers. Zero means one per
// CPU.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithScriptsDir enables Risor extraction scripts from dir. A relative dir
// is resolved against the workspace root.
func WithScriptsDir(dir string) Option {
	return func(e *Engine) {
		e.scriptsDir = dir
	}
}

// WithScriptsFS loads extraction scripts from fsys instead of a directory
// on disk. This enables embedding scripts via go:embed.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// WithProgress registers a callback invoked as a crawl advances. It is
// called from the crawl's goroutines and must be safe for concurrent use.
func WithProgress(fn func(Progress)) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// New creates an Engine indexing root into the SQLite database at dbPath.
// A database written by another schema version is dropped and recreated.
func New(dbPath, root string, opts ...Option) (*Engine, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("understory: resolve root: %w", err)
	}
	e := &Engine{
		root:   absRoot,
		cfg:    config.Default(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, uerrors.New(uerrors.TypeConfig, "validate", err)
	}
	if e.languages == nil && len(e.cfg.Index.Languages) > 0 {
		e.languages = make(map[lang.Language]bool)
		for _, name := range e.cfg.Index.Languages {
			l, ok := lang.Parse(name)
			if !ok {
				return nil, uerrors.New(uerrors.TypeConfig, "validate", fmt.Errorf("unknown language %q", name))
			}
			e.languages[l] = true
		}
	}
	if e.workers <= 0 {
		e.workers = e.cfg.Index.Workers
	}
	if e.scriptsDir == "" {
		e.scriptsDir = e.cfg.Scripts.Dir
	}
	if e.scriptsDir != "" && !filepath.IsAbs(e.scriptsDir) {
		e.scriptsDir = filepath.Join(absRoot, e.scriptsDir)
	}
	switch {
	case e.scriptsFS != nil:
		e.runtime = runtime.New(e.scriptsDir, runtime.WithFS(e.scriptsFS), runtime.WithLogger(e.logger))
	case e.scriptsDir != "":
		e.runtime = runtime.New(e.scriptsDir, runtime.WithLogger(e.logger))
	}
	e.ignores = newIgnoreSet(absRoot)

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, uerrors.New(uerrors.TypeStore, "open", err)
	}
	if err := s.CheckSchema(); errors.Is(err, store.ErrSchemaMismatch) {
		e.logger.Warn("store.schema.regenerate", "db", dbPath, "err", err)
		if err := s.Drop(); err != nil {
			s.Close()
			return nil, uerrors.New(uerrors.TypeStore, "regenerate", err)
		}
	} else if err != nil {
		s.Close()
		return nil, uerrors.New(uerrors.TypeStore, "check schema", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, uerrors.New(uerrors.TypeStore, "migrate", err)
	}
	e.store = s
	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Root returns the absolute workspace root.
func (e *Engine) Root() string {
	return e.root
}

// Config returns the configuration in effect.
func (e *Engine) Config() config.Config {
	return e.cfg
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// Query returns a new QueryBuilder reading the Engine's store.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{store: e.store, root: e.root, cfg: e.cfg}
}

// IndexStatus is the size and freshness of the index.
type IndexStatus struct {
	Files      int
	Symbols    int
	LastUpdate time.Time
}

// Status reports file and symbol counts and the time of the last write.
func (e *Engine) Status() (IndexStatus, error) {
	c, err := e.store.Counts()
	if err != nil {
		return IndexStatus{}, uerrors.New(uerrors.TypeStore, "status", err)
	}
	last, err := e.store.LastUpdate()
	if err != nil {
		return IndexStatus{}, uerrors.New(uerrors.TypeStore, "status", err)
	}
	return IndexStatus{Files: c.Files, Symbols: c.Symbols, LastUpdate: last}, nil
}

// --- Per-file state machine ---

type action int

const (
	actionSkip   action = iota // unchanged mtime+size, or not indexable
	actionTouch                // same content, new mtime
	actionCommit               // changed content: replace the file's rows
	actionDelete               // the file is gone
)

// fileWork is one file's trip through the state machine, from hashing to
// the point where the writer applies it.
type fileWork struct {
	rel     string
	action  action
	file    *store.File
	ex      *lang.Extraction
	failure error // parse or script failure; the file is still committed
	unlock  func()
}

// prepare hashes and, when the content changed, extracts rel. known maps
// paths to their stored rows; when nil the store is consulted per file.
func (e *Engine) prepare(ctx context.Context, rel string, known map[string]*store.File) (*fileWork, error) {
	w := &fileWork{rel: rel}
	language, ok := lang.ForPath(rel)
	if !ok || !e.languageEnabled(language) {
		return w, nil
	}

	var existing *store.File
	if known != nil {
		existing = known[rel]
	} else {
		f, err := e.store.FileByPath(rel)
		if err != nil {
			return nil, uerrors.New(uerrors.TypeStore, "lookup", err).WithPath(rel)
		}
		existing = f
	}

	abs := filepath.Join(e.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		w.action = actionDelete
		return w, nil
	}
	if err != nil {
		return nil, uerrors.New(uerrors.TypeIO, "stat", err).WithPath(rel)
	}
	if info.IsDir() {
		return w, nil
	}

	mtime, size := info.ModTime().UnixNano(), info.Size()
	if existing != nil && existing.Mtime == mtime && existing.Size == size {
		return w, nil
	}

	w.file = &store.File{
		Path:     rel,
		Language: string(language),
		Mtime:    mtime,
		Size:     size,
		IsTest:   IsTestPath(rel),
	}

	if maxBytes := e.cfg.Index.MaxFileBytes; maxBytes > 0 && size > maxBytes {
		e.logger.Warn("index.file.oversize", "path", rel, "size", size, "max", maxBytes)
		w.action = actionCommit
		w.file.Hash = fmt.Sprintf("oversize:%d", size)
		w.ex = &lang.Extraction{Language: language}
		return w, nil
	}

	content, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		w.action = actionDelete
		return w, nil
	}
	if err != nil {
		return nil, uerrors.New(uerrors.TypeIO, "read", err).WithPath(rel)
	}
	w.file.Size = int64(len(content))
	w.file.Hash = fmt.Sprintf("%x", sha256.Sum256(content))
	if existing != nil && existing.Hash == w.file.Hash {
		w.action = actionTouch
		return w, nil
	}

	w.action = actionCommit
	ex, err := lang.Extract(ctx, language, content, lang.Options{MinBodyBytes: e.cfg.Duplicates.MinBodyBytes})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("index.file.failed", "path", rel, "err", err)
		w.failure = err
		w.ex = &lang.Extraction{Language: language}
		if ex != nil {
			w.ex.LineCount = ex.LineCount
		}
		w.file.LineCount = w.ex.LineCount
		return w, nil
	}
	if ex.HasErrors {
		e.logger.Debug("index.file.partial", "path", rel)
	}
	if e.runtime != nil {
		if err := e.runtime.Augment(ctx, rel, content, ex); err != nil {
			e.logger.Warn("index.script.failed", "path", rel, "err", err)
			w.failure = err
		}
	}
	w.ex = ex
	w.file.LineCount = ex.LineCount
	return w, nil
}

// apply writes a prepared file to the store. Only store failures are
// returned.
func (e *Engine) apply(w *fileWork) error {
	switch w.action {
	case actionTouch:
		if err := e.store.TouchFile(w.rel, w.file.Mtime); err != nil {
			return uerrors.New(uerrors.TypeStore, "touch", err).WithPath(w.rel)
		}
	case actionCommit:
		if _, err := e.store.CommitFile(w.file, w.ex); err != nil {
			return uerrors.New(uerrors.TypeStore, "commit", err).WithPath(w.rel)
		}
	case actionDelete:
		if _, err := e.removeTree(w.rel); err != nil {
			return err
		}
	}
	return nil
}

// IndexPaths runs the per-file state machine for each path, in order.
// Existing files that a crawl would skip, such as gitignored ones, are
// ignored. A path that no longer exists is removed along with any
// indexed files under it. Parse and IO failures are logged and skipped;
// store failures stop the batch.
func (e *Engine) IndexPaths(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, ok := e.relPath(p)
		if !ok || e.cfg.Excluded(rel, false) || e.ineligibleFile(rel) {
			continue
		}
		if err := e.indexOne(ctx, rel); err != nil {
			if uerrors.Is(err, uerrors.TypeStore) || ctx.Err() != nil {
				return err
			}
			e.logger.Warn("index.file.failed", "path", rel, "err", err)
		}
	}
	return nil
}

// ineligibleFile reports whether rel is a file on disk that a crawl would
// leave out. Missing paths report false so their rows are still removed.
func (e *Engine) ineligibleFile(rel string) bool {
	info, err := os.Stat(filepath.Join(e.root, filepath.FromSlash(rel)))
	return err == nil && !info.IsDir() && !e.eligible(rel)
}

func (e *Engine) indexOne(ctx context.Context, rel string) error {
	unlock := e.paths.lock(rel)
	defer unlock()

	w, err := e.prepare(ctx, rel, nil)
	if err != nil {
		return err
	}
	if w.action == actionSkip {
		if _, statErr := os.Stat(filepath.Join(e.root, filepath.FromSlash(rel))); errors.Is(statErr, fs.ErrNotExist) {
			// An unsupported or directory path that vanished.
			_, err := e.removeTree(rel)
			return err
		}
	}
	return e.apply(w)
}

// RemovePath deletes the indexed file at path, and every indexed file
// beneath it when path was a directory. It returns the number of files
// removed.
func (e *Engine) RemovePath(path string) (int, error) {
	rel, ok := e.relPath(path)
	if !ok {
		return 0, nil
	}
	return e.removeTree(rel)
}

func (e *Engine) removeTree(rel string) (int, error) {
	removed := 0
	ok, err := e.store.DeleteFile(rel)
	if err != nil {
		return 0, uerrors.New(uerrors.TypeStore, "delete", err).WithPath(rel)
	}
	if ok {
		removed++
		e.logger.Debug("index.file.removed", "path", rel)
	}
	files, err := e.store.AllFiles()
	if err != nil {
		return removed, uerrors.New(uerrors.TypeStore, "delete", err).WithPath(rel)
	}
	prefix := rel + "/"
	for _, f := range files {
		if !strings.HasPrefix(f.Path, prefix) {
			continue
		}
		if _, err := e.store.DeleteFile(f.Path); err != nil {
			return removed, uerrors.New(uerrors.TypeStore, "delete", err).WithPath(f.Path)
		}
		removed++
	}
	return removed, nil
}

func (e *Engine) languageEnabled(l lang.Language) bool {
	return e.languages == nil || e.languages[l]
}

// relPath converts an absolute or root-relative path into the slash
// separated form stored in the index. Paths outside the root are rejected.
func (e *Engine) relPath(p string) (string, bool) {
	return relativeTo(e.root, p)
}

func relativeTo(root, p string) (string, bool) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	rel, err := filepath.Rel(root, filepath.Clean(p))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// --- Keyed mutex ---

// pathLocks serializes work on the same path while letting different
// paths proceed in parallel.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sync.Mutex
	refs int
}

// lock blocks until path is free and returns the matching unlock.
func (p *pathLocks) lock(path string) func() {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*pathLock)
	}
	l, ok := p.locks[path]
	if !ok {
		l = &pathLock{}
		p.locks[path] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, path)
		}
		p.mu.Unlock()
	}
}
