package understory

import (
	"fmt"
	"sort"

	"github.com/jward/understory/internal/store"
)

// DuplicateQuery filters duplicate detection. Zero values fall back to the
// configured minimum and to every hashed kind and file.
type DuplicateQuery struct {
	MinCount int
	Kinds    []Kind
	PathGlob string
}

// DuplicateGroup is a set of symbols with the same normalized body hash.
// Members are in the common ordering.
type DuplicateGroup struct {
	Hash    string
	Members []SymbolResult
}

// Duplicates groups symbols by content hash. Groups are ordered by size
// descending, then by the location of their first member. The hash
// ignores comments and whitespace, so a group is a refactoring hint and
// not a proof of equality.
func (q *QueryBuilder) Duplicates(dq DuplicateQuery) ([]DuplicateGroup, error) {
	minCount := dq.MinCount
	if minCount <= 0 {
		minCount = q.cfg.Duplicates.MinCount
	}
	if minCount < 2 {
		minCount = 2
	}
	match, err := pathMatcher(dq.PathGlob)
	if err != nil {
		return nil, fmt.Errorf("duplicates: %w", err)
	}
	kinds := make(map[Kind]bool, len(dq.Kinds))
	for _, k := range dq.Kinds {
		kinds[k] = true
	}

	syms, err := q.store.SymbolsWithHash()
	if err != nil {
		return nil, fmt.Errorf("duplicates: %w", err)
	}

	var groups [][]*store.Symbol
	var current []*store.Symbol
	flush := func() {
		if len(current) >= minCount {
			groups = append(groups, current)
		}
		current = nil
	}
	for _, s := range syms {
		if len(kinds) > 0 && !kinds[s.Kind] {
			continue
		}
		if !match(s.Path) {
			continue
		}
		if len(current) > 0 && current[0].ContentHash != s.ContentHash {
			flush()
		}
		current = append(current, s)
	}
	flush()

	sort.SliceStable(groups, func(i, j int) bool {
		if len(groups[i]) != len(groups[j]) {
			return len(groups[i]) > len(groups[j])
		}
		a, b := groups[i][0], groups[j][0]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Span.Start.Line != b.Span.Start.Line {
			return a.Span.Start.Line < b.Span.Start.Line
		}
		if a.Span.Start.Column != b.Span.Start.Column {
			return a.Span.Start.Column < b.Span.Start.Column
		}
		return a.ID < b.ID
	})

	out := make([]DuplicateGroup, 0, len(groups))
	for _, g := range groups {
		members, err := q.withContainers(g)
		if err != nil {
			return nil, fmt.Errorf("duplicates: %w", err)
		}
		out = append(out, DuplicateGroup{Hash: g[0].ContentHash, Members: members})
	}
	return out, nil
}
