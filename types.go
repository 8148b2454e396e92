package understory

import (
	"github.com/jward/understory/internal/lang"
	"github.com/jward/understory/internal/store"
)

// Public type aliases for internal types used in the Engine and
// QueryBuilder API. They are identical to the internal types at compile
// time; no conversion is needed.

type Store = store.Store
type Symbol = store.Symbol
type File = store.File
type Language = lang.Language
type Kind = lang.Kind
type EdgeKind = lang.EdgeKind
type Position = lang.Position
type Span = lang.Span

// Location is a span within one file. Line and column are 1-based and
// both bounds are inclusive.
type Location struct {
	File  string
	Start Position
	End   Position
}

func spanLocation(path string, sp Span) Location {
	return Location{File: path, Start: sp.Start, End: sp.End}
}

// Provenance says how a result was obtained.
type Provenance string

const (
	// ProvenanceLinked results come from a recorded reference or edge that
	// resolved to the symbol.
	ProvenanceLinked Provenance = "linked"
	// ProvenanceNameScan results come from scanning indexed files for the
	// symbol's name. They may be false positives.
	ProvenanceNameScan Provenance = "name_scan"
	// ProvenanceNameMatch results share a name with the queried symbol and
	// nothing more.
	ProvenanceNameMatch Provenance = "name_match"
)

// SymbolResult is a symbol plus the name of its container.
type SymbolResult struct {
	store.Symbol
	Container string // name of the enclosing symbol, empty at file scope
}

// Location returns the symbol's full span.
func (r SymbolResult) Location() Location {
	return spanLocation(r.Path, r.Span)
}

// NameLocation returns the span of the symbol's name token.
func (r SymbolResult) NameLocation() Location {
	return spanLocation(r.Path, r.NameSpan)
}

// PagedResult wraps a page of results with total count for pagination.
type PagedResult[T any] struct {
	Items       []T
	TotalCount  int      // total matching results (before pagination)
	Suggestions []string // similar names, filled only when nothing matched
}

// Pagination controls offset+limit paging on list/search results. A zero
// Limit means the configured default.
type Pagination struct {
	Offset int
	Limit  int
}
