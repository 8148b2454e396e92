package understory

import (
	"fmt"
	"path"
	"strings"

	"github.com/jward/understory/internal/lang"
	"github.com/jward/understory/internal/store"
)

// target is an unresolved name recorded by a reference or an edge.
type target struct {
	id        *int64 // set when the commit linked it within the file
	name      string
	qualifier string
	path      string // file holding the reference or edge
	exclude   int64  // the source symbol, never its own target
	accepts   func(lang.Kind) bool
}

func referenceTarget(r *store.Reference) target {
	t := target{
		id:        r.TargetSymbolID,
		name:      r.Name,
		qualifier: r.Qualifier,
		path:      r.Path,
		accepts:   r.Context.Accepts,
	}
	if r.FromSymbolID != nil {
		t.exclude = *r.FromSymbolID
	}
	return t
}

func edgeTarget(e *store.Edge) target {
	return target{
		id:        e.DstSymbolID,
		name:      e.DstName,
		qualifier: e.DstQualifier,
		path:      e.Path,
		exclude:   e.SrcSymbolID,
		accepts:   e.Kind.Accepts,
	}
}

// resolver links names to symbols, narrowing from the same file to the
// same directory to the workspace and accepting only a unique candidate at
// each step. It caches lookups for the lifetime of one query.
type resolver struct {
	store  *store.Store
	byName map[string][]*store.Symbol
	byID   map[int64]*store.Symbol
	full   bool // every symbol is loaded
}

func newResolver(s *store.Store) *resolver {
	return &resolver{
		store:  s,
		byName: make(map[string][]*store.Symbol),
		byID:   make(map[int64]*store.Symbol),
	}
}

// preload reads every symbol at once, for queries that resolve in bulk.
func (r *resolver) preload() error {
	if r.full {
		return nil
	}
	syms, err := r.store.QuerySymbols("SELECT " + store.SymbolCols + store.SymbolFrom + store.SymbolOrder)
	if err != nil {
		return fmt.Errorf("preload symbols: %w", err)
	}
	r.byName = make(map[string][]*store.Symbol)
	for _, s := range syms {
		r.byID[s.ID] = s
		r.byName[s.Name] = append(r.byName[s.Name], s)
	}
	r.full = true
	return nil
}

func (r *resolver) symbol(id int64) (*store.Symbol, error) {
	if s, ok := r.byID[id]; ok {
		return s, nil
	}
	if r.full {
		return nil, nil
	}
	s, err := r.store.SymbolByID(id)
	if err != nil {
		return nil, err
	}
	if s != nil {
		r.byID[id] = s
	}
	return s, nil
}

func (r *resolver) named(name string) ([]*store.Symbol, error) {
	if syms, ok := r.byName[name]; ok || r.full {
		return syms, nil
	}
	syms, err := r.store.SymbolsByName(name)
	if err != nil {
		return nil, err
	}
	r.byName[name] = syms
	for _, s := range syms {
		r.byID[s.ID] = s
	}
	return syms, nil
}

// resolve returns the symbol t refers to, or nil when it is unresolved or
// ambiguous.
func (r *resolver) resolve(t target) (*store.Symbol, error) {
	if t.id != nil {
		s, err := r.symbol(*t.id)
		if err != nil || s != nil {
			return s, err
		}
	}
	named, err := r.named(t.name)
	if err != nil {
		return nil, err
	}

	var cands []*store.Symbol
	for _, s := range named {
		if s.ID == t.exclude || (t.accepts != nil && !t.accepts(s.Kind)) {
			continue
		}
		cands = append(cands, s)
	}
	if t.qualifier != "" {
		var preferred []*store.Symbol
		for _, s := range cands {
			if lang.QualifierMatches(s.Qualifier, t.qualifier) || fileStem(s.Path) == t.qualifier {
				preferred = append(preferred, s)
			}
		}
		if len(preferred) > 0 {
			cands = preferred
		}
	}
	if len(cands) == 0 {
		return nil, nil
	}

	if s := unique(cands, func(s *store.Symbol) bool { return s.Path == t.path }); s != nil {
		return s, nil
	}
	dir := path.Dir(t.path)
	if s := unique(cands, func(s *store.Symbol) bool { return path.Dir(s.Path) == dir }); s != nil {
		return s, nil
	}
	if len(cands) == 1 {
		return cands[0], nil
	}
	return nil, nil
}

// unique returns the only symbol matching keep, or nil when zero or
// several do.
func unique(syms []*store.Symbol, keep func(*store.Symbol) bool) *store.Symbol {
	var found *store.Symbol
	for _, s := range syms {
		if !keep(s) {
			continue
		}
		if found != nil {
			return nil
		}
		found = s
	}
	return found
}

// fileStem is a file's base name without extensions: "pkg/util.test.ts"
// has stem "util".
func fileStem(p string) string {
	base := path.Base(p)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}
