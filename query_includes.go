package understory

import (
	"fmt"
	"path"
	"strings"

	"github.com/jward/understory/internal/store"
)

// IncludeResult is one #include directive reached by an include-graph
// query.
type IncludeResult struct {
	Includer string // file holding the directive
	Target   string // directive text, e.g. "util/log.h"
	File     string // indexed file the target resolves to, empty when unresolved
	Depth    int    // 1 for the queried file's own directives or direct includers
	Resolved bool
	System   bool // <...> rather than "..."
	Line     int
}

// includeGraph is every include directive with its resolution.
type includeGraph struct {
	byIncluder map[string][]IncludeResult
	byFile     map[string][]IncludeResult
}

// loadIncludeGraph resolves every include against the indexed files:
// first relative to the including file's directory, then by a unique
// path-suffix match.
func (q *QueryBuilder) loadIncludeGraph() (*includeGraph, error) {
	files, err := q.store.AllFiles()
	if err != nil {
		return nil, err
	}
	incs, err := q.store.AllIncludes()
	if err != nil {
		return nil, err
	}
	indexed := make(map[string]bool, len(files))
	for _, f := range files {
		indexed[f.Path] = true
	}

	g := &includeGraph{
		byIncluder: make(map[string][]IncludeResult),
		byFile:     make(map[string][]IncludeResult),
	}
	for _, inc := range incs {
		r := IncludeResult{
			Includer: inc.Path,
			Target:   inc.Target,
			System:   inc.System,
			Line:     inc.Line,
		}
		if resolved, ok := resolveInclude(inc, indexed, files); ok {
			r.File = resolved
			r.Resolved = true
			g.byFile[resolved] = append(g.byFile[resolved], r)
		}
		g.byIncluder[inc.Path] = append(g.byIncluder[inc.Path], r)
	}
	return g, nil
}

func resolveInclude(inc *store.Include, indexed map[string]bool, files []*store.File) (string, bool) {
	target := strings.TrimPrefix(path.Clean(inc.Target), "./")
	if rel := path.Join(path.Dir(inc.Path), target); indexed[rel] {
		return rel, true
	}
	var match string
	for _, f := range files {
		if f.Path == target || strings.HasSuffix(f.Path, "/"+target) {
			if match != "" {
				return "", false
			}
			match = f.Path
		}
	}
	return match, match != ""
}

// Includes returns the directives in file, and with transitive those of
// every file they resolve to. Each file is expanded once.
func (q *QueryBuilder) Includes(file string, transitive bool) ([]IncludeResult, error) {
	f, err := q.file(file)
	if err != nil {
		return nil, fmt.Errorf("includes: %w", err)
	}
	g, err := q.loadIncludeGraph()
	if err != nil {
		return nil, fmt.Errorf("includes: %w", err)
	}
	return walkIncludes(f.Path, transitive, func(p string) ([]IncludeResult, func(IncludeResult) string) {
		return g.byIncluder[p], func(r IncludeResult) string { return r.File }
	}), nil
}

// Includers returns the directives that resolve to file, and with
// transitive those resolving to each includer in turn.
func (q *QueryBuilder) Includers(file string, transitive bool) ([]IncludeResult, error) {
	f, err := q.file(file)
	if err != nil {
		return nil, fmt.Errorf("includers: %w", err)
	}
	g, err := q.loadIncludeGraph()
	if err != nil {
		return nil, fmt.Errorf("includers: %w", err)
	}
	return walkIncludes(f.Path, transitive, func(p string) ([]IncludeResult, func(IncludeResult) string) {
		return g.byFile[p], func(r IncludeResult) string { return r.Includer }
	}), nil
}

// walkIncludes runs a BFS from root. step returns the directives adjacent
// to a file and how to find the next file from one of them.
func walkIncludes(root string, transitive bool, step func(string) ([]IncludeResult, func(IncludeResult) string)) []IncludeResult {
	out := []IncludeResult{}
	visited := map[string]bool{root: true}
	type bfsEntry struct {
		path  string
		depth int
	}
	queue := []bfsEntry{{path: root, depth: 0}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if !transitive && current.depth >= 1 {
			continue
		}
		adjacent, next := step(current.path)
		for _, r := range adjacent {
			r.Depth = current.depth + 1
			out = append(out, r)
			p := next(r)
			if p == "" || visited[p] {
				continue
			}
			visited[p] = true
			queue = append(queue, bfsEntry{path: p, depth: r.Depth})
		}
	}
	return out
}
