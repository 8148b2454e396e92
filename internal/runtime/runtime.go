package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	uerrors "github.com/jward/understory/internal/errors"
	"github.com/jward/understory/internal/lang"
)

// Runtime embeds a Risor VM and runs per-language extraction scripts that
// add symbols, references, edges and includes on top of the built-in
// adapters.
type Runtime struct {
	scriptsDir string
	fsys       fs.FS
	logger     *slog.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithFS loads scripts from fsys instead of scriptsDir. It also switches
// import resolution to the FS importer.
func WithFS(fsys fs.FS) Option {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithLogger sets the logger behind the scripts' log global.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// New creates a Runtime reading scripts from scriptsDir.
func New(scriptsDir string, opts ...Option) *Runtime {
	r := &Runtime{
		scriptsDir: scriptsDir,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExtractionScriptPath returns the path of a language's extraction script
// relative to the scripts directory.
func ExtractionScriptPath(language lang.Language) string {
	return filepath.Join("extract", string(language)+".risor")
}

// HasExtractor reports whether an extraction script exists for language.
func (r *Runtime) HasExtractor(language lang.Language) bool {
	path := ExtractionScriptPath(language)
	if r.fsys != nil {
		_, err := fs.Stat(r.fsys, filepath.ToSlash(path))
		return err == nil
	}
	if r.scriptsDir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(r.scriptsDir, path))
	return err == nil
}

// Augment runs the language's extraction script over src and appends what
// it emits to ex. A failing script leaves ex untouched and returns a parse
// error for path.
func (r *Runtime) Augment(ctx context.Context, path string, src []byte, ex *lang.Extraction) error {
	if !r.HasExtractor(ex.Language) {
		return nil
	}
	script := ExtractionScriptPath(ex.Language)
	e := newEmitter(src, ex)
	globals := e.globals()
	globals["source"] = string(src)
	globals["file_path"] = path
	globals["language"] = string(ex.Language)

	if err := r.RunScript(ctx, script, globals); err != nil {
		return uerrors.New(uerrors.TypeParse, "script", err).WithPath(path)
	}
	e.commit()
	return nil
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) error {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	return r.eval(ctx, src, scriptPath, extraGlobals)
}

// RunSource executes Risor source code directly with all standard globals
// plus any extra globals.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) error {
	return r.eval(ctx, source, "<inline>", extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) error {
	trees := newTreeRegistry()
	defer trees.release()

	globals := r.buildGlobals(trees, label, extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	if _, err := risor.Eval(ctx, source, opts...); err != nil {
		return fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return nil
}

// buildImporter returns a Risor importer for the configured script source,
// or nil when there is none.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file. Relative paths resolve against the FS
// when one is configured, otherwise against scriptsDir.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("runtime: script %s not found: %w", fullPath, err)
		}
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

func (r *Runtime) buildGlobals(trees *treeRegistry, label string, extra map[string]any) map[string]any {
	globals := map[string]any{
		"parse_src":  trees.parseFn(),
		"node_text":  trees.textFn(),
		"node_child": nodeChildFn(),
		"query":      trees.queryFn(),
		"log":        mustProxy(&scriptLog{logger: r.logger, script: label}),
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
