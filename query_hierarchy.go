package understory

import (
	"fmt"

	"github.com/jward/understory/internal/lang"
	"github.com/jward/understory/internal/store"
)

// Implementation is a type implementing an interface or trait.
type Implementation struct {
	Symbol     SymbolResult
	Provenance Provenance
}

// hierarchyLinks bulk-loads every relationship edge and resolves its
// target.
func (q *QueryBuilder) hierarchyLinks() ([]link, error) {
	edges, err := q.store.AllEdges()
	if err != nil {
		return nil, err
	}
	r := newResolver(q.store)
	if err := r.preload(); err != nil {
		return nil, err
	}
	var links []link
	for _, e := range edges {
		dst, err := r.resolve(edgeTarget(e))
		if err != nil {
			return nil, err
		}
		if dst == nil || dst.ID == e.SrcSymbolID {
			continue
		}
		links = append(links, link{
			from: e.SrcSymbolID,
			to:   dst.ID,
			kind: string(e.Kind),
			loc:  spanLocation(e.Path, e.Span),
		})
	}
	return links, nil
}

// Supertypes returns what id implements, extends or overrides, directly
// or transitively.
func (q *QueryBuilder) Supertypes(id int64, transitive bool) (*Graph, error) {
	links, err := q.hierarchyLinks()
	if err != nil {
		return nil, fmt.Errorf("supertypes: %w", err)
	}
	g, err := q.traverse(id, newAdjacency(links), true, transitive)
	if err != nil {
		return nil, fmt.Errorf("supertypes: %w", err)
	}
	return g, nil
}

// Subtypes returns what implements, extends or overrides id, directly or
// transitively.
func (q *QueryBuilder) Subtypes(id int64, transitive bool) (*Graph, error) {
	links, err := q.hierarchyLinks()
	if err != nil {
		return nil, fmt.Errorf("subtypes: %w", err)
	}
	g, err := q.traverse(id, newAdjacency(links), false, transitive)
	if err != nil {
		return nil, fmt.Errorf("subtypes: %w", err)
	}
	return g, nil
}

// Implementations returns the symbols with an implements or trait_impl
// edge resolving to id. When there are none, symbols of a class, struct
// or type kind sharing id's name in other files are returned with
// ProvenanceNameMatch.
func (q *QueryBuilder) Implementations(id int64) ([]Implementation, error) {
	sym, err := q.symbol(id)
	if err != nil {
		return nil, fmt.Errorf("implementations: %w", err)
	}
	links, err := q.hierarchyLinks()
	if err != nil {
		return nil, fmt.Errorf("implementations: %w", err)
	}

	seen := make(map[int64]bool)
	var implIDs []int64
	for _, l := range links {
		if l.to != id || seen[l.from] {
			continue
		}
		if l.kind != string(lang.EdgeImplements) && l.kind != string(lang.EdgeTraitImpl) {
			continue
		}
		seen[l.from] = true
		implIDs = append(implIDs, l.from)
	}

	provenance := ProvenanceLinked
	var syms []*store.Symbol
	if len(implIDs) > 0 {
		syms, err = q.store.SymbolsByIDs(implIDs)
		if err != nil {
			return nil, fmt.Errorf("implementations: %w", err)
		}
	} else {
		provenance = ProvenanceNameMatch
		named, err := q.store.SymbolsByName(sym.Name)
		if err != nil {
			return nil, fmt.Errorf("implementations: %w", err)
		}
		for _, s := range named {
			if s.ID == sym.ID || s.Path == sym.Path {
				continue
			}
			switch s.Kind {
			case lang.KindClass, lang.KindStruct, lang.KindType:
				syms = append(syms, s)
			}
		}
	}

	results, err := q.withContainers(syms)
	if err != nil {
		return nil, fmt.Errorf("implementations: %w", err)
	}
	out := make([]Implementation, len(results))
	for i, r := range results {
		out[i] = Implementation{Symbol: r, Provenance: provenance}
	}
	return out, nil
}
