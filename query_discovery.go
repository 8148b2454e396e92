package understory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hbollon/go-edlib"

	"github.com/jward/understory/internal/store"
)

// SymbolQuery filters symbol search. Every field is optional and set
// fields combine with AND.
type SymbolQuery struct {
	Name      string // exact, always case-sensitive
	Pattern   string // glob with * and ?
	Substring string
	// CaseSensitive applies to Pattern and Substring.
	CaseSensitive   bool
	Kinds           []Kind
	PathGlob        string // doublestar glob over root-relative paths
	NamespacePrefix string // qualifier prefix on a . or :: boundary
	ContainerID     *int64 // direct children of this symbol
	Visibility      string
}

const (
	maxSuggestions      = 5
	suggestionThreshold = 0.5
)

// Symbols searches symbols in the common ordering and pages the result.
// When nothing matches a name filter, similar names are suggested.
func (q *QueryBuilder) Symbols(filter SymbolQuery, page Pagination) (*PagedResult[SymbolResult], error) {
	page = q.normalize(page)

	where, args, err := q.symbolWhere(filter)
	if err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var totalCount int
	if err := q.store.DB().QueryRow("SELECT COUNT(*)"+store.SymbolFrom+whereClause, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("symbols: count: %w", err)
	}
	if totalCount == 0 {
		return q.emptySymbols(filter)
	}

	dataArgs := append(append([]any{}, args...), page.Limit, page.Offset)
	syms, err := q.store.QuerySymbols(
		"SELECT "+store.SymbolCols+store.SymbolFrom+whereClause+store.SymbolOrder+" LIMIT ? OFFSET ?",
		dataArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("symbols: query: %w", err)
	}
	items, err := q.withContainers(syms)
	if err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	return &PagedResult[SymbolResult]{Items: items, TotalCount: totalCount}, nil
}

// symbolWhere builds the WHERE terms for filter. Case-insensitive terms
// compare under fold (Unicode lower case) on both sides, so a class like
// [A-Z] in a pattern folds along with the names it is matched against.
func (q *QueryBuilder) symbolWhere(filter SymbolQuery) (where []string, args []any, err error) {
	if filter.Name != "" {
		where = append(where, "s.name = ?")
		args = append(args, filter.Name)
	}
	if filter.Pattern != "" {
		if filter.CaseSensitive {
			where = append(where, "s.name GLOB ?")
			args = append(args, filter.Pattern)
		} else {
			where = append(where, "fold(s.name) GLOB ?")
			args = append(args, store.Fold(filter.Pattern))
		}
	}
	if filter.Substring != "" {
		if filter.CaseSensitive {
			where = append(where, "instr(s.name, ?) > 0")
			args = append(args, filter.Substring)
		} else {
			where = append(where, "instr(fold(s.name), ?) > 0")
			args = append(args, store.Fold(filter.Substring))
		}
	}
	if len(filter.Kinds) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Kinds)-1) + "?"
		where = append(where, "s.kind IN ("+placeholders+")")
		for _, k := range filter.Kinds {
			args = append(args, string(k))
		}
	}
	if filter.Visibility != "" {
		where = append(where, "s.visibility = ?")
		args = append(args, filter.Visibility)
	}
	if filter.ContainerID != nil {
		where = append(where, "s.parent_id = ?")
		args = append(args, *filter.ContainerID)
	}
	if prefix := filter.NamespacePrefix; prefix != "" {
		where = append(where, `(s.qualifier = ? OR s.qualifier LIKE ? ESCAPE '\' OR s.qualifier LIKE ? ESCAPE '\')`)
		args = append(args, prefix, escapeLike(prefix+".")+"%", escapeLike(prefix+"::")+"%")
	}
	if filter.PathGlob != "" {
		if !doublestar.ValidatePattern(filter.PathGlob) {
			return nil, nil, fmt.Errorf("invalid path glob %q", filter.PathGlob)
		}
		where = append(where, "path_glob(?, f.path)")
		args = append(args, filter.PathGlob)
	}
	return where, args, nil
}

// pathMatcher returns a predicate over root-relative paths for glob; an
// empty glob matches everything.
func pathMatcher(glob string) (func(string) bool, error) {
	if glob == "" {
		return func(string) bool { return true }, nil
	}
	if !doublestar.ValidatePattern(glob) {
		return nil, fmt.Errorf("invalid path glob %q", glob)
	}
	return func(p string) bool {
		ok, _ := doublestar.Match(glob, p)
		return ok
	}, nil
}

func (q *QueryBuilder) emptySymbols(filter SymbolQuery) (*PagedResult[SymbolResult], error) {
	out := &PagedResult[SymbolResult]{Items: []SymbolResult{}}
	term := filter.Name
	if term == "" {
		term = filter.Substring
	}
	if term == "" {
		term = strings.NewReplacer("*", "", "?", "").Replace(filter.Pattern)
	}
	if term == "" {
		return out, nil
	}
	suggestions, err := q.suggest(term, filter.Kinds)
	if err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	out.Suggestions = suggestions
	return out, nil
}

// suggest ranks distinct symbol names by Levenshtein similarity to term.
func (q *QueryBuilder) suggest(term string, kinds []Kind) ([]string, error) {
	query := "SELECT DISTINCT name FROM symbols"
	var args []any
	if len(kinds) > 0 {
		query += " WHERE kind IN (" + strings.Repeat("?,", len(kinds)-1) + "?)"
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	rows, err := q.store.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("suggest: %w", err)
	}
	defer rows.Close()

	type scored struct {
		name  string
		score float32
	}
	var cands []scored
	lowered := strings.ToLower(term)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("suggest: scan: %w", err)
		}
		score, err := edlib.StringsSimilarity(lowered, strings.ToLower(name), edlib.Levenshtein)
		if err != nil || score < suggestionThreshold {
			continue
		}
		cands = append(cands, scored{name, score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("suggest: rows: %w", err)
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].name < cands[j].name
	})
	var out []string
	for _, c := range cands {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, c.name)
	}
	return out, nil
}

// escapeLike escapes SQL LIKE special characters (% and _) with backslash.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
