package understory

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/understory/internal/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Index.UseGit = false
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine returns an engine over an empty temporary workspace.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	opts = append([]Option{WithConfig(testConfig()), WithLogger(discardLogger())}, opts...)
	e, err := New(dbPath, root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, root
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func indexAll(t *testing.T, e *Engine) *IndexSummary {
	t.Helper()
	summary, err := e.IndexWorkspace(context.Background())
	require.NoError(t, err)
	return summary
}

func indexedPaths(t *testing.T, e *Engine) []string {
	t.Helper()
	files, err := e.Store().AllFiles()
	require.NoError(t, err)
	paths := []string{}
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths
}

func TestNew_CreatesStore(t *testing.T) {
	e, root := newTestEngine(t)
	require.NotNil(t, e.Store())
	abs, err := filepath.Abs(root)
	require.NoError(t, err)
	assert.Equal(t, abs, e.Root())

	st, err := e.Status()
	require.NoError(t, err)
	assert.Zero(t, st.Files)
	assert.True(t, st.LastUpdate.IsZero())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Index.Workers = -1
	_, err := New(filepath.Join(t.TempDir(), "x.db"), t.TempDir(), WithConfig(cfg))
	require.Error(t, err)
}

func TestNew_UnknownConfigLanguage(t *testing.T) {
	cfg := testConfig()
	cfg.Index.Languages = []string{"cobol"}
	_, err := New(filepath.Join(t.TempDir(), "x.db"), t.TempDir(), WithConfig(cfg))
	require.Error(t, err)
}

func TestNew_RegeneratesOnSchemaMismatch(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	e, err := New(dbPath, root, WithConfig(testConfig()), WithLogger(discardLogger()))
	require.NoError(t, err)
	indexAll(t, e)
	require.NoError(t, e.Store().SetMetadata("schema_version", "0"))
	require.NoError(t, e.Close())

	e, err = New(dbPath, root, WithConfig(testConfig()), WithLogger(discardLogger()))
	require.NoError(t, err)
	defer e.Close()
	st, err := e.Status()
	require.NoError(t, err)
	assert.Zero(t, st.Files, "stale index is discarded")
	require.NoError(t, e.Store().CheckSchema())
}

func TestWithLanguages(t *testing.T) {
	e, root := newTestEngine(t, WithLanguages("go", "python"))
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.py", "x = 1\n")
	writeFile(t, root, "c.rs", "fn main() {}\n")

	indexAll(t, e)
	assert.Equal(t, []string{"a.go", "b.py"}, indexedPaths(t, e))
}

func TestIsTestPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"pkg/a_test.go", true},
		{"src/app.test.ts", true},
		{"src/app.spec.js", true},
		{"test_util.py", true},
		{"tests/helpers.py", true},
		{"web/__tests__/x.js", true},
		{"spec/models/user.rb", true},
		{"pkg/contest.go", false},
		{"src/latest.ts", false},
		{"main.go", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTestPath(tt.path))
		})
	}
}

// =============================================================================
// Discovery
// =============================================================================

func TestIndexWorkspace_DiscoversSupportedFiles(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "lib/util.py", "def util():\n    return 1\n")
	writeFile(t, root, "README.md", "# readme\n")

	summary := indexAll(t, e)
	assert.Equal(t, 2, summary.Discovered)
	assert.Equal(t, 2, summary.Indexed)
	assert.Empty(t, summary.Failed)
	assert.Equal(t, []string{"lib/util.py", "main.go"}, indexedPaths(t, e))

	f, err := e.Store().FileByPath("main.go")
	require.NoError(t, err)
	assert.Equal(t, "go", f.Language)
	assert.Equal(t, 3, f.LineCount)
	assert.False(t, f.IsTest)
}

func TestIndexWorkspace_SkipsHiddenExcludedAndIgnored(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, root, "keep.go", "package keep\n")
	writeFile(t, root, ".hidden/x.go", "package x\n")
	writeFile(t, root, "vendor/dep/dep.go", "package dep\n")
	writeFile(t, root, "node_modules/m/index.js", "function m() {}\n")
	writeFile(t, root, ".gitignore", "gen/\n*.pb.go\n")
	writeFile(t, root, "gen/out.go", "package gen\n")
	writeFile(t, root, "api/api.pb.go", "package api\n")
	writeFile(t, root, "api/api.go", "package api\n")
	writeFile(t, root, "sub/.gitignore", "local.go\n")
	writeFile(t, root, "sub/local.go", "package sub\n")
	writeFile(t, root, "sub/shared.go", "package sub\n")

	indexAll(t, e)
	assert.Equal(t, []string{"api/api.go", "keep.go", "sub/shared.go"}, indexedPaths(t, e))

	assert.True(t, e.Eligible(filepath.Join(root, "api", "api.go")))
	assert.False(t, e.Eligible(filepath.Join(root, "gen", "out.go")))
	assert.False(t, e.Eligible(filepath.Join(root, ".hidden", "x.go")))
	assert.True(t, e.SkipDir(filepath.Join(root, "vendor")))
	assert.True(t, e.SkipDir(filepath.Join(root, "gen")))
	assert.False(t, e.SkipDir(filepath.Join(root, "sub")))
	assert.True(t, e.SkipDir(filepath.Dir(root)), "outside the root")
}

func TestIndexWorkspace_ConfigExcludes(t *testing.T) {
	cfg := testConfig()
	cfg.Index.Exclude = append(cfg.Index.Exclude, "**/*_gen.go", "build/**")
	e, root := newTestEngine(t, WithConfig(cfg))
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "a_gen.go", "package a\n")
	writeFile(t, root, "build/b.go", "package b\n")

	indexAll(t, e)
	assert.Equal(t, []string{"a.go"}, indexedPaths(t, e))
}

// =============================================================================
// Change detection
// =============================================================================

func TestIndexWorkspace_SkipsUnchangedFiles(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")
	writeFile(t, root, "b.go", "package a\n\nfunc B() {}\n")

	first := indexAll(t, e)
	assert.Equal(t, 2, first.Indexed)

	second := indexAll(t, e)
	assert.Equal(t, 0, second.Indexed)
	assert.Equal(t, 2, second.Unchanged)
	assert.Equal(t, first.Symbols, second.Symbols)
}

func TestIndexWorkspace_TouchKeepsRows(t *testing.T) {
	e, root := newTestEngine(t)
	p := writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")
	indexAll(t, e)
	before, err := e.Store().FileByPath("a.go")
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(p, later, later))
	summary := indexAll(t, e)
	assert.Equal(t, 0, summary.Indexed)
	assert.Equal(t, 1, summary.Unchanged)

	after, err := e.Store().FileByPath("a.go")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.Hash, after.Hash)
	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime().UnixNano(), after.Mtime)
}

func TestIndexWorkspace_ReindexesChangedFiles(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")
	indexAll(t, e)

	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n\nfunc Second() {}\n")
	summary := indexAll(t, e)
	assert.Equal(t, 1, summary.Indexed)

	_, err := e.Query().SymbolByName("Second", "")
	require.NoError(t, err)
}

func TestIndexWorkspace_PrunesDeletedFiles(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")
	p := writeFile(t, root, "b.go", "package a\n\nfunc B() { A() }\n")
	indexAll(t, e)

	require.NoError(t, os.Remove(p))
	summary := indexAll(t, e)
	assert.Equal(t, 1, summary.Removed)
	assert.Equal(t, []string{"a.go"}, indexedPaths(t, e))

	c, err := e.Store().Counts()
	require.NoError(t, err)
	assert.Zero(t, c.References, "the deleted file's references are gone")
	_, err = e.Query().SymbolByName("A", "")
	assert.NoError(t, err, "other files keep their symbols")
}

func TestIndexWorkspace_OversizeFileRecordedEmpty(t *testing.T) {
	cfg := testConfig()
	cfg.Index.MaxFileBytes = 16
	e, root := newTestEngine(t, WithConfig(cfg))
	writeFile(t, root, "big.go", "package big\n\nfunc Big() {}\n")

	indexAll(t, e)
	f, err := e.Store().FileByPath("big.go")
	require.NoError(t, err)
	require.NotNil(t, f)
	syms, err := e.Store().SymbolsInFile(f.ID)
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestIndexWorkspace_PartialParseStillIndexed(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, root, "broken.go", "package broken\n\nfunc Good() {}\n\nfunc Bad( {\n")

	summary := indexAll(t, e)
	assert.Equal(t, 1, summary.Indexed)
	_, err := e.Query().SymbolByName("Good", "")
	assert.NoError(t, err)
}

func TestIndexWorkspace_ReportsProgress(t *testing.T) {
	var mu sync.Mutex
	phases := map[string]bool{}
	e, root := newTestEngine(t, WithProgress(func(p Progress) {
		mu.Lock()
		phases[p.Phase] = true
		mu.Unlock()
	}))
	writeFile(t, root, "a.go", "package a\n")

	summary := indexAll(t, e)
	assert.True(t, phases[PhaseScanning])
	assert.True(t, phases[PhaseParsing])
	assert.True(t, phases[PhaseFinalizing])
	assert.GreaterOrEqual(t, summary.FilesPerSecond(), 0.0)
}

func TestIndexWorkspace_ConcurrentCrawlsSerialize(t *testing.T) {
	e, root := newTestEngine(t, WithWorkers(2))
	for _, name := range []string{"a", "b", "c", "d"} {
		writeFile(t, root, name+".go", "package p\n\nfunc "+name+"() {}\n")
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.IndexWorkspace(context.Background())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	c, err := e.Store().Counts()
	require.NoError(t, err)
	assert.Equal(t, 4, c.Files)
	assert.Equal(t, 4, c.Symbols)
}

func TestIndexWorkspace_CanceledContext(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, root, "a.go", "package a\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.IndexWorkspace(ctx)
	require.Error(t, err)
}

func TestRebuild_ReindexesEverything(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")
	writeFile(t, root, "b.go", "package a\n\nfunc B() {}\n")
	indexAll(t, e)

	summary, err := e.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Indexed)
	assert.Equal(t, 2, summary.Symbols)
}

// lockedBuffer is an io.Writer safe for concurrent log handlers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRebuild_CancelsInFlightCrawl(t *testing.T) {
	var (
		entered = make(chan struct{})
		release = make(chan struct{})
		once    sync.Once
	)
	// The first parsed file parks the writer until the rebuild has
	// cancelled the crawl.
	progress := func(p Progress) {
		if p.Phase != PhaseParsing {
			return
		}
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	logs := &lockedBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	e, root := newTestEngine(t, WithProgress(progress), WithWorkers(1), WithLogger(logger))
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		writeFile(t, root, name+".go", "package p\n\nfunc "+strings.ToUpper(name)+"() {}\n")
	}

	firstErr := make(chan error, 1)
	go func() {
		_, err := e.IndexWorkspace(context.Background())
		firstErr <- err
	}()
	<-entered

	type rebuildResult struct {
		summary *IndexSummary
		err     error
	}
	rebuilt := make(chan rebuildResult, 1)
	go func() {
		s, err := e.Rebuild(context.Background())
		rebuilt <- rebuildResult{s, err}
	}()
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "index.rebuild.cancel")
	}, 5*time.Second, 5*time.Millisecond)

	select {
	case r := <-rebuilt:
		t.Fatalf("rebuild finished while the first crawl was parked: %+v", r)
	default:
	}
	close(release)

	err := <-firstErr
	require.Error(t, err)
	assert.ErrorContains(t, err, "crawl interrupted")

	r := <-rebuilt
	require.NoError(t, r.err)
	assert.Equal(t, 5, r.summary.Discovered)
	assert.Equal(t, 5, r.summary.Indexed)
	assert.Empty(t, r.summary.Failed)
	assert.Equal(t, []string{"a.go", "b.go", "c.go", "d.go", "e.go"}, indexedPaths(t, e))

	c, err := e.Store().Counts()
	require.NoError(t, err)
	assert.Equal(t, 5, c.Symbols)
}

// =============================================================================
// Single-path indexing
// =============================================================================

func TestIndexPaths_AddsAndRemoves(t *testing.T) {
	e, root := newTestEngine(t)
	p := writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	require.NoError(t, e.IndexPaths(context.Background(), []string{p}))
	assert.Equal(t, []string{"a.go"}, indexedPaths(t, e))

	require.NoError(t, os.Remove(p))
	require.NoError(t, e.IndexPaths(context.Background(), []string{p}))
	assert.Empty(t, indexedPaths(t, e))
}

func TestIndexPaths_IgnoresOutsideAndUnsupported(t *testing.T) {
	e, root := newTestEngine(t)
	outside := writeFile(t, t.TempDir(), "x.go", "package x\n")
	txt := writeFile(t, root, "notes.txt", "hello\n")

	require.NoError(t, e.IndexPaths(context.Background(), []string{outside, txt, "missing.go"}))
	assert.Empty(t, indexedPaths(t, e))
}

func TestIndexPaths_SkipsFilesTheCrawlSkips(t *testing.T) {
	e, root := newTestEngine(t, WithLanguages("go"))
	writeFile(t, root, ".gitignore", "gen/\n*.pb.go\n")
	paths := []string{
		writeFile(t, root, "gen/out.go", "package gen\n"),
		writeFile(t, root, "api/api.pb.go", "package api\n"),
		writeFile(t, root, ".hidden/x.go", "package x\n"),
		writeFile(t, root, "tools/t.py", "x = 1\n"),
		writeFile(t, root, "api/api.go", "package api\n"),
	}

	require.NoError(t, e.IndexPaths(context.Background(), paths))
	assert.Equal(t, []string{"api/api.go"}, indexedPaths(t, e))

	indexAll(t, e)
	assert.Equal(t, []string{"api/api.go"}, indexedPaths(t, e), "same set as a crawl")
}

func TestIndexPaths_RemovedDirectory(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, root, "pkg/a.go", "package pkg\n")
	writeFile(t, root, "pkg/inner/b.go", "package inner\n")
	writeFile(t, root, "pkgx/c.go", "package pkgx\n")
	indexAll(t, e)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "pkg")))
	require.NoError(t, e.IndexPaths(context.Background(), []string{filepath.Join(root, "pkg")}))
	assert.Equal(t, []string{"pkgx/c.go"}, indexedPaths(t, e))
}

func TestRemovePath_CountsFiles(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, root, "pkg/a.go", "package pkg\n")
	writeFile(t, root, "pkg/b.go", "package pkg\n")
	indexAll(t, e)

	n, err := e.RemovePath(filepath.Join(root, "pkg"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.RemovePath("pkg")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPathLocks_SerializeSamePath(t *testing.T) {
	var locks pathLocks
	unlock := locks.lock("a.go")

	acquired := make(chan struct{})
	go func() {
		u := locks.lock("a.go")
		close(acquired)
		u()
	}()

	other := locks.lock("b.go")
	other()

	select {
	case <-acquired:
		t.Fatal("second lock on the same path acquired while held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	<-acquired

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}

func TestNewQueryBuilder(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")
	indexAll(t, e)

	q := NewQueryBuilder(e.Store(), e.Root(), testConfig())
	sym, err := q.SymbolByName("A", "function")
	require.NoError(t, err)
	assert.Equal(t, "a.go", sym.Path)
}
