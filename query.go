package understory

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/jward/understory/internal/config"
	"github.com/jward/understory/internal/store"
)

// QueryBuilder answers structural questions from the store. It is cheap
// to create and safe to use concurrently with indexing; each call reads a
// consistent snapshot of whole files.
type QueryBuilder struct {
	store *store.Store
	root  string
	cfg   config.Config
}

// NewQueryBuilder returns a QueryBuilder over s. root is used to read file
// contents for name scans and to accept absolute paths.
func NewQueryBuilder(s *store.Store, root string, cfg config.Config) *QueryBuilder {
	return &QueryBuilder{store: s, root: root, cfg: cfg}
}

// normalize returns a Pagination with the configured default and maximum
// limits applied.
func (q *QueryBuilder) normalize(p Pagination) Pagination {
	defaultLimit, maxLimit := q.cfg.Query.DefaultLimit, q.cfg.Query.MaxLimit
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if maxLimit <= 0 {
		maxLimit = 500
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// relPath maps a caller-supplied file path to its indexed form.
func (q *QueryBuilder) relPath(file string) string {
	if filepath.IsAbs(file) && q.root != "" {
		if rel, ok := relativeTo(q.root, file); ok {
			return rel
		}
	}
	return path.Clean(filepath.ToSlash(file))
}

// file returns the indexed file, or ErrFileNotIndexed.
func (q *QueryBuilder) file(file string) (*store.File, error) {
	rel := q.relPath(file)
	f, err := q.store.FileByPath(rel)
	if err != nil {
		return nil, fmt.Errorf("lookup file: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotIndexed, rel)
	}
	return f, nil
}

// SymbolAt returns the innermost symbol whose span covers line:col.
func (q *QueryBuilder) SymbolAt(file string, line, col int) (*SymbolResult, error) {
	f, err := q.file(file)
	if err != nil {
		return nil, fmt.Errorf("symbol at: %w", err)
	}
	sym, err := q.store.SymbolAt(f.ID, line, col)
	if err != nil {
		return nil, fmt.Errorf("symbol at: %w", err)
	}
	if sym == nil {
		return nil, fmt.Errorf("symbol at %s:%d:%d: %w", f.Path, line, col, ErrNoSymbolAtPosition)
	}
	return q.symbolResult(sym)
}

// DefinitionAt resolves the reference covering line:col to its definition.
func (q *QueryBuilder) DefinitionAt(file string, line, col int) (*SymbolResult, error) {
	f, err := q.file(file)
	if err != nil {
		return nil, fmt.Errorf("definition at: %w", err)
	}
	ref, err := q.store.ReferenceAt(f.ID, line, col)
	if err != nil {
		return nil, fmt.Errorf("definition at: %w", err)
	}
	if ref == nil {
		return nil, fmt.Errorf("definition at %s:%d:%d: %w", f.Path, line, col, ErrNoReferenceAtPosition)
	}
	sym, err := newResolver(q.store).resolve(referenceTarget(ref))
	if err != nil {
		return nil, fmt.Errorf("definition at: resolve: %w", err)
	}
	if sym == nil {
		return nil, fmt.Errorf("definition of %q: %w", ref.Name, ErrUnresolvedReference)
	}
	return q.symbolResult(sym)
}

// SymbolByName returns the first symbol named name in the common ordering.
// An empty kind matches any kind.
func (q *QueryBuilder) SymbolByName(name string, kind Kind) (*SymbolResult, error) {
	syms, err := q.store.SymbolsByName(name)
	if err != nil {
		return nil, fmt.Errorf("symbol by name: %w", err)
	}
	for _, s := range syms {
		if kind == "" || s.Kind == kind {
			return q.symbolResult(s)
		}
	}
	return nil, fmt.Errorf("symbol %q: %w", name, ErrSymbolNotFound)
}

// SymbolByID returns the symbol with id.
func (q *QueryBuilder) SymbolByID(id int64) (*SymbolResult, error) {
	sym, err := q.symbol(id)
	if err != nil {
		return nil, err
	}
	return q.symbolResult(sym)
}

// symbol loads id or returns ErrSymbolNotFound.
func (q *QueryBuilder) symbol(id int64) (*store.Symbol, error) {
	sym, err := q.store.SymbolByID(id)
	if err != nil {
		return nil, fmt.Errorf("symbol %d: %w", id, err)
	}
	if sym == nil {
		return nil, fmt.Errorf("symbol %d: %w", id, ErrSymbolNotFound)
	}
	return sym, nil
}

func (q *QueryBuilder) symbolResult(sym *store.Symbol) (*SymbolResult, error) {
	results, err := q.withContainers([]*store.Symbol{sym})
	if err != nil {
		return nil, err
	}
	return &results[0], nil
}

// withContainers wraps symbols as results, filling each container name
// with one batched parent lookup.
func (q *QueryBuilder) withContainers(syms []*store.Symbol) ([]SymbolResult, error) {
	var parentIDs []int64
	seen := make(map[int64]bool)
	for _, s := range syms {
		if s.ParentID != nil && !seen[*s.ParentID] {
			seen[*s.ParentID] = true
			parentIDs = append(parentIDs, *s.ParentID)
		}
	}
	names := make(map[int64]string, len(parentIDs))
	if len(parentIDs) > 0 {
		parents, err := q.store.SymbolsByIDs(parentIDs)
		if err != nil {
			return nil, fmt.Errorf("load containers: %w", err)
		}
		for _, p := range parents {
			names[p.ID] = p.Name
		}
	}
	out := make([]SymbolResult, len(syms))
	for i, s := range syms {
		out[i] = SymbolResult{Symbol: *s}
		if s.ParentID != nil {
			out[i].Container = names[*s.ParentID]
		}
	}
	return out, nil
}
