package understory

import (
	"fmt"
	"strings"
	"time"

	"github.com/jward/understory/internal/lang"
	"github.com/jward/understory/internal/store"
)

// Stats summarizes the index.
type Stats struct {
	Files       int
	Symbols     int
	Edges       int
	References  int
	Includes    int
	Languages   map[string]int // files per language
	Kinds       map[string]int // symbols per kind
	TestFiles   int
	SourceFiles int
	LastUpdate  time.Time
}

// Stats returns row counts, per-language and per-kind breakdowns and the
// test/production file split.
func (q *QueryBuilder) Stats() (*Stats, error) {
	c, err := q.store.Counts()
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	languages, err := q.store.CountBy("files", "language")
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	kinds, err := q.store.CountBy("symbols", "kind")
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	tests, err := q.store.CountBy("files", "is_test")
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	last, err := q.store.LastUpdate()
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &Stats{
		Files:       c.Files,
		Symbols:     c.Symbols,
		Edges:       c.Edges,
		References:  c.References,
		Includes:    c.Includes,
		Languages:   languages,
		Kinds:       kinds,
		TestFiles:   tests["1"],
		SourceFiles: tests["0"],
		LastUpdate:  last,
	}, nil
}

// KeyType is a type with the number of methods it contains.
type KeyType struct {
	Symbol      SymbolResult
	MethodCount int
}

// withExtra scans SymbolCols followed by one extra integer column.
type withExtra struct {
	row   interface{ Scan(...any) error }
	extra *int
}

func (w withExtra) Scan(dest ...any) error {
	return w.row.Scan(append(dest, w.extra)...)
}

// KeyTypes ranks type-like symbols by method count, descending, with ties
// in the common ordering. A limit of zero means the configured default.
func (q *QueryBuilder) KeyTypes(limit int) ([]KeyType, error) {
	limit = q.normalize(Pagination{Limit: limit}).Limit

	typeKinds := []lang.Kind{lang.KindClass, lang.KindStruct, lang.KindInterface, lang.KindTrait, lang.KindEnum, lang.KindType}
	args := make([]any, 0, len(typeKinds)+2)
	args = append(args, string(lang.KindMethod))
	for _, k := range typeKinds {
		args = append(args, string(k))
	}
	args = append(args, limit)

	rows, err := q.store.DB().Query(
		"SELECT "+store.SymbolCols+
			", (SELECT count(*) FROM symbols m WHERE m.parent_id = s.id AND m.kind = ?) AS methods"+
			store.SymbolFrom+
			" WHERE s.kind IN ("+strings.Repeat("?,", len(typeKinds)-1)+"?)"+
			" ORDER BY methods DESC, f.path, s.start_line, s.start_col, s.id LIMIT ?",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("key types: %w", err)
	}
	defer rows.Close()

	var syms []*store.Symbol
	var counts []int
	for rows.Next() {
		var n int
		sym, err := store.ScanSymbolRow(withExtra{row: rows, extra: &n})
		if err != nil {
			return nil, fmt.Errorf("key types: scan: %w", err)
		}
		syms = append(syms, sym)
		counts = append(counts, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("key types: rows: %w", err)
	}

	results, err := q.withContainers(syms)
	if err != nil {
		return nil, fmt.Errorf("key types: %w", err)
	}
	out := make([]KeyType, len(results))
	for i, r := range results {
		out[i] = KeyType{Symbol: r, MethodCount: counts[i]}
	}
	return out, nil
}

// StructureNode is a symbol and the symbols it contains.
type StructureNode struct {
	Symbol   SymbolResult
	Children []*StructureNode
}

// Structure returns a file's symbols as a containment tree in source
// order.
func (q *QueryBuilder) Structure(file string) ([]*StructureNode, error) {
	f, err := q.file(file)
	if err != nil {
		return nil, fmt.Errorf("structure: %w", err)
	}
	syms, err := q.store.SymbolsInFile(f.ID)
	if err != nil {
		return nil, fmt.Errorf("structure: %w", err)
	}
	results, err := q.withContainers(syms)
	if err != nil {
		return nil, fmt.Errorf("structure: %w", err)
	}

	nodes := make(map[int64]*StructureNode, len(results))
	for _, r := range results {
		nodes[r.ID] = &StructureNode{Symbol: r}
	}
	roots := []*StructureNode{}
	for _, r := range results {
		n := nodes[r.ID]
		if r.ParentID != nil {
			if parent, ok := nodes[*r.ParentID]; ok {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	return roots, nil
}
