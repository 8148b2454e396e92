package store

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/jward/understory/internal/lang"
)

type scanner interface{ Scan(...any) error }

// --- Files ---

const fileCols = "id, path, language, hash, mtime, size, line_count, is_test, indexed_at"

func scanFile(sc scanner) (*File, error) {
	f := &File{}
	var indexedAt sql.NullTime
	if err := sc.Scan(&f.ID, &f.Path, &f.Language, &f.Hash, &f.Mtime, &f.Size, &f.LineCount, &f.IsTest, &indexedAt); err != nil {
		return nil, err
	}
	f.IndexedAt = indexedAt.Time
	return f, nil
}

// FileByPath returns the file at path, or nil when it is not indexed.
func (s *Store) FileByPath(path string) (*File, error) {
	f, err := scanFile(s.db.QueryRow("SELECT "+fileCols+" FROM files WHERE path = ?", path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	return f, nil
}

// FileByID returns the file with id, or nil when there is none.
func (s *Store) FileByID(id int64) (*File, error) {
	f, err := scanFile(s.db.QueryRow("SELECT "+fileCols+" FROM files WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by id: %w", err)
	}
	return f, nil
}

// AllFiles returns every indexed file ordered by path.
func (s *Store) AllFiles() ([]*File, error) {
	rows, err := s.db.Query("SELECT " + fileCols + " FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("all files: %w", err)
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// --- Symbols ---

// SymbolCols is the column list for symbol queries. Queries select it
// FROM symbols s JOIN files f ON f.id = s.file_id.
const SymbolCols = `s.id, s.file_id, f.path, s.parent_id, s.name, s.kind, s.qualifier, s.visibility,
	s.start_line, s.start_col, s.start_byte, s.end_line, s.end_col, s.end_byte,
	s.name_start_line, s.name_start_col, s.name_start_byte, s.name_end_line, s.name_end_col, s.name_end_byte,
	s.signature, s.content_hash`

// SymbolFrom is the FROM clause matching SymbolCols.
const SymbolFrom = " FROM symbols s JOIN files f ON f.id = s.file_id"

// SymbolOrder is the canonical ordering: file path, then position, then id.
const SymbolOrder = " ORDER BY f.path, s.start_line, s.start_col, s.id"

// symbolLess is SymbolOrder applied in Go.
func symbolLess(a, b *Symbol) bool {
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
}

// ScanSymbolRow scans a row selected with SymbolCols.
func ScanSymbolRow(sc scanner) (*Symbol, error) {
	sym := &Symbol{}
	var kind string
	dest := []any{&sym.ID, &sym.FileID, &sym.Path, &sym.ParentID, &sym.Name, &kind, &sym.Qualifier, &sym.Visibility}
	dest = append(dest, spanDest(&sym.Span)...)
	dest = append(dest, spanDest(&sym.NameSpan)...)
	dest = append(dest, &sym.Signature, &sym.ContentHash)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}
	sym.Kind = lang.Kind(kind)
	return sym, nil
}

// QuerySymbols runs a query selecting SymbolCols.
func (s *Store) QuerySymbols(query string, args ...any) ([]*Symbol, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var symbols []*Symbol
	for rows.Next() {
		sym, err := ScanSymbolRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// SymbolByID returns the symbol with id, or nil when there is none.
func (s *Store) SymbolByID(id int64) (*Symbol, error) {
	sym, err := ScanSymbolRow(s.db.QueryRow("SELECT "+SymbolCols+SymbolFrom+" WHERE s.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("symbol by id: %w", err)
	}
	return sym, nil
}

// SymbolsByIDs returns the symbols with the given ids in canonical order.
// Unknown ids are skipped.
func (s *Store) SymbolsByIDs(ids []int64) ([]*Symbol, error) {
	chunks := chunkIDs(ids)
	if len(chunks) == 0 {
		return nil, nil
	}
	var syms []*Symbol
	for _, chunk := range chunks {
		part, err := s.QuerySymbols(
			"SELECT "+SymbolCols+SymbolFrom+" WHERE s.id IN ("+placeholderList(len(chunk))+")"+SymbolOrder,
			int64sToArgs(chunk)...,
		)
		if err != nil {
			return nil, fmt.Errorf("symbols by ids: %w", err)
		}
		syms = append(syms, part...)
	}
	if len(chunks) > 1 {
		sort.Slice(syms, func(i, j int) bool { return symbolLess(syms[i], syms[j]) })
	}
	return syms, nil
}

// SymbolsByName returns every symbol named name in canonical order.
func (s *Store) SymbolsByName(name string) ([]*Symbol, error) {
	syms, err := s.QuerySymbols("SELECT "+SymbolCols+SymbolFrom+" WHERE s.name = ?"+SymbolOrder, name)
	if err != nil {
		return nil, fmt.Errorf("symbols by name: %w", err)
	}
	return syms, nil
}

// SymbolsInFile returns a file's symbols in source order.
func (s *Store) SymbolsInFile(fileID int64) ([]*Symbol, error) {
	syms, err := s.QuerySymbols(
		"SELECT "+SymbolCols+SymbolFrom+" WHERE s.file_id = ? ORDER BY s.start_byte, s.id", fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("symbols in file: %w", err)
	}
	return syms, nil
}

// SymbolsWithHash returns every symbol carrying a content hash, grouped
// by hash and then in canonical order.
func (s *Store) SymbolsWithHash() ([]*Symbol, error) {
	syms, err := s.QuerySymbols(
		"SELECT " + SymbolCols + SymbolFrom + " WHERE s.content_hash != '' ORDER BY s.content_hash, f.path, s.start_line, s.start_col, s.id",
	)
	if err != nil {
		return nil, fmt.Errorf("symbols with hash: %w", err)
	}
	return syms, nil
}

// SymbolAt returns the innermost symbol in a file whose span covers
// line:col, bounds included, or nil when none does.
func (s *Store) SymbolAt(fileID int64, line, col int) (*Symbol, error) {
	args := append([]any{fileID}, positionArgs(line, col)...)
	sym, err := ScanSymbolRow(s.db.QueryRow(
		"SELECT "+SymbolCols+SymbolFrom+" WHERE s.file_id = ? AND "+containsPosition("s")+
			" ORDER BY (s.end_byte - s.start_byte), s.id DESC LIMIT 1",
		args...,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("symbol at: %w", err)
	}
	return sym, nil
}

// --- References ---

const referenceCols = `r.id, r.file_id, f.path, r.from_symbol_id, r.target_symbol_id, r.name, r.qualifier, r.context,
	r.start_line, r.start_col, r.start_byte, r.end_line, r.end_col, r.end_byte`

const referenceFrom = " FROM references_ r JOIN files f ON f.id = r.file_id"

const referenceOrder = " ORDER BY f.path, r.start_line, r.start_col, r.id"

func scanReference(sc scanner) (*Reference, error) {
	ref := &Reference{}
	var refCtx string
	dest := []any{&ref.ID, &ref.FileID, &ref.Path, &ref.FromSymbolID, &ref.TargetSymbolID, &ref.Name, &ref.Qualifier, &refCtx}
	dest = append(dest, spanDest(&ref.Span)...)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}
	ref.Context = lang.RefContext(refCtx)
	return ref, nil
}

func (s *Store) queryReferences(query string, args ...any) ([]*Reference, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []*Reference
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ReferenceAt returns the narrowest reference in a file covering line:col,
// or nil when there is none.
func (s *Store) ReferenceAt(fileID int64, line, col int) (*Reference, error) {
	args := append([]any{fileID}, positionArgs(line, col)...)
	ref, err := scanReference(s.db.QueryRow(
		"SELECT "+referenceCols+referenceFrom+" WHERE r.file_id = ? AND "+containsPosition("r")+
			" ORDER BY (r.end_byte - r.start_byte), r.id LIMIT 1",
		args...,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reference at: %w", err)
	}
	return ref, nil
}

// ReferencesByName returns every reference spelled name.
func (s *Store) ReferencesByName(name string) ([]*Reference, error) {
	refs, err := s.queryReferences("SELECT "+referenceCols+referenceFrom+" WHERE r.name = ?"+referenceOrder, name)
	if err != nil {
		return nil, fmt.Errorf("references by name: %w", err)
	}
	return refs, nil
}

// ReferencesTo returns the references linked to symbolID at commit time.
func (s *Store) ReferencesTo(symbolID int64) ([]*Reference, error) {
	refs, err := s.queryReferences("SELECT "+referenceCols+referenceFrom+" WHERE r.target_symbol_id = ?"+referenceOrder, symbolID)
	if err != nil {
		return nil, fmt.Errorf("references to: %w", err)
	}
	return refs, nil
}

// CallReferences returns every call-site reference made from inside a
// symbol, for bulk call-graph loading.
func (s *Store) CallReferences() ([]*Reference, error) {
	refs, err := s.queryReferences(
		"SELECT "+referenceCols+referenceFrom+" WHERE r.context = ? AND r.from_symbol_id IS NOT NULL"+referenceOrder,
		"call",
	)
	if err != nil {
		return nil, fmt.Errorf("call references: %w", err)
	}
	return refs, nil
}

// --- Edges ---

const edgeCols = `e.id, e.file_id, f.path, e.src_symbol_id, e.dst_symbol_id, e.dst_name, e.dst_qualifier, e.kind,
	e.start_line, e.start_col, e.start_byte, e.end_line, e.end_col, e.end_byte`

const edgeFrom = " FROM edges e JOIN files f ON f.id = e.file_id"

const edgeOrder = " ORDER BY f.path, e.start_line, e.start_col, e.id"

func scanEdge(sc scanner) (*Edge, error) {
	e := &Edge{}
	var kind string
	dest := []any{&e.ID, &e.FileID, &e.Path, &e.SrcSymbolID, &e.DstSymbolID, &e.DstName, &e.DstQualifier, &kind}
	dest = append(dest, spanDest(&e.Span)...)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}
	e.Kind = lang.EdgeKind(kind)
	return e, nil
}

func (s *Store) queryEdges(query string, args ...any) ([]*Edge, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []*Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// EdgesFrom returns the relationship edges whose source is symbolID.
func (s *Store) EdgesFrom(symbolID int64) ([]*Edge, error) {
	edges, err := s.queryEdges("SELECT "+edgeCols+edgeFrom+" WHERE e.src_symbol_id = ?"+edgeOrder, symbolID)
	if err != nil {
		return nil, fmt.Errorf("edges from: %w", err)
	}
	return edges, nil
}

// EdgesByDstName returns the edges whose target is spelled name.
func (s *Store) EdgesByDstName(name string) ([]*Edge, error) {
	edges, err := s.queryEdges("SELECT "+edgeCols+edgeFrom+" WHERE e.dst_name = ?"+edgeOrder, name)
	if err != nil {
		return nil, fmt.Errorf("edges by dst name: %w", err)
	}
	return edges, nil
}

// AllEdges returns every relationship edge, for bulk hierarchy loading.
func (s *Store) AllEdges() ([]*Edge, error) {
	edges, err := s.queryEdges("SELECT " + edgeCols + edgeFrom + edgeOrder)
	if err != nil {
		return nil, fmt.Errorf("all edges: %w", err)
	}
	return edges, nil
}

// --- Includes ---

const includeCols = "i.id, i.file_id, f.path, i.target, i.system, i.line, i.col"

const includeFrom = " FROM includes i JOIN files f ON f.id = i.file_id"

func (s *Store) queryIncludes(query string, args ...any) ([]*Include, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var incs []*Include
	for rows.Next() {
		inc := &Include{}
		if err := rows.Scan(&inc.ID, &inc.FileID, &inc.Path, &inc.Target, &inc.System, &inc.Line, &inc.Col); err != nil {
			return nil, fmt.Errorf("scan include: %w", err)
		}
		incs = append(incs, inc)
	}
	return incs, rows.Err()
}

// IncludesOf returns a file's include directives in source order.
func (s *Store) IncludesOf(fileID int64) ([]*Include, error) {
	incs, err := s.queryIncludes("SELECT "+includeCols+includeFrom+" WHERE i.file_id = ? ORDER BY i.line, i.col, i.id", fileID)
	if err != nil {
		return nil, fmt.Errorf("includes of: %w", err)
	}
	return incs, nil
}

// AllIncludes returns every include directive ordered by includer path.
func (s *Store) AllIncludes() ([]*Include, error) {
	incs, err := s.queryIncludes("SELECT " + includeCols + includeFrom + " ORDER BY f.path, i.line, i.col, i.id")
	if err != nil {
		return nil, fmt.Errorf("all includes: %w", err)
	}
	return incs, nil
}

// --- Aggregates ---

// Counts returns the number of rows in each owned table.
func (s *Store) Counts() (Counts, error) {
	var c Counts
	err := s.db.QueryRow(`SELECT
		(SELECT count(*) FROM files),
		(SELECT count(*) FROM symbols),
		(SELECT count(*) FROM edges),
		(SELECT count(*) FROM references_),
		(SELECT count(*) FROM includes)`,
	).Scan(&c.Files, &c.Symbols, &c.Edges, &c.References, &c.Includes)
	if err != nil {
		return Counts{}, fmt.Errorf("counts: %w", err)
	}
	return c, nil
}

// CountBy groups a table by column and returns the row count per value.
// Only the column sets used by stats are accepted.
func (s *Store) CountBy(table, column string) (map[string]int, error) {
	switch table + "." + column {
	case "files.language", "files.is_test", "symbols.kind":
	default:
		return nil, fmt.Errorf("count by: unsupported column %s.%s", table, column)
	}
	rows, err := s.db.Query("SELECT " + column + ", count(*) FROM " + table + " GROUP BY " + column)
	if err != nil {
		return nil, fmt.Errorf("count by %s.%s: %w", table, column, err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("count by %s.%s: %w", table, column, err)
		}
		out[key] = n
	}
	return out, rows.Err()
}
