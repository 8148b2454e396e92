package understory

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/jward/understory/internal/lang"
	"github.com/jward/understory/internal/store"
)

// ErrInvalidName is returned by Rename for a new name that is not an
// identifier.
var ErrInvalidName = errors.New("invalid identifier")

// UsageQuery selects the symbol whose usages are wanted, either by id or
// by a position on its definition or on a reference to it.
type UsageQuery struct {
	SymbolID int64
	File     string
	Line     int
	Col      int
	// LinkedOnly disables the name-scan fallback.
	LinkedOnly bool
}

// Usage is one occurrence of a symbol outside its definition.
type Usage struct {
	Location   Location
	Provenance Provenance
	Context    string // call, type, an edge kind, or empty for name-scan hits
}

// Usages returns the resolved references to a symbol. When there are none
// and LinkedOnly is false, indexed files are scanned for the symbol's name
// on identifier boundaries; those hits carry ProvenanceNameScan.
func (q *QueryBuilder) Usages(uq UsageQuery) ([]Usage, error) {
	sym, err := q.usageTarget(uq)
	if err != nil {
		return nil, fmt.Errorf("usages: %w", err)
	}
	linked, err := q.linkedUsages(sym)
	if err != nil {
		return nil, fmt.Errorf("usages: %w", err)
	}
	if len(linked) > 0 || uq.LinkedOnly {
		return linked, nil
	}
	scanned, err := q.nameScan(sym.Name, sym.Path, sym.Span)
	if err != nil {
		return nil, fmt.Errorf("usages: %w", err)
	}
	return scanned, nil
}

// usageTarget finds the symbol a UsageQuery names. A position on a
// reference selects the reference's definition; otherwise the innermost
// symbol at the position is used.
func (q *QueryBuilder) usageTarget(uq UsageQuery) (*store.Symbol, error) {
	if uq.SymbolID != 0 {
		return q.symbol(uq.SymbolID)
	}
	f, err := q.file(uq.File)
	if err != nil {
		return nil, err
	}
	ref, err := q.store.ReferenceAt(f.ID, uq.Line, uq.Col)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		sym, err := newResolver(q.store).resolve(referenceTarget(ref))
		if err != nil {
			return nil, err
		}
		if sym == nil {
			return nil, fmt.Errorf("definition of %q: %w", ref.Name, ErrUnresolvedReference)
		}
		return sym, nil
	}
	sym, err := q.store.SymbolAt(f.ID, uq.Line, uq.Col)
	if err != nil {
		return nil, err
	}
	if sym == nil {
		return nil, fmt.Errorf("%s:%d:%d: %w", f.Path, uq.Line, uq.Col, ErrNoSymbolAtPosition)
	}
	return sym, nil
}

// linkedUsages returns references and edges that resolve to sym, in the
// common ordering and deduplicated by start offset.
func (q *QueryBuilder) linkedUsages(sym *store.Symbol) ([]Usage, error) {
	r := newResolver(q.store)
	refs, err := q.store.ReferencesByName(sym.Name)
	if err != nil {
		return nil, err
	}
	edges, err := q.store.EdgesByDstName(sym.Name)
	if err != nil {
		return nil, err
	}

	type site struct {
		path string
		sp   lang.Span
		ctx  string
	}
	var sites []site
	for _, ref := range refs {
		got, err := r.resolve(referenceTarget(ref))
		if err != nil {
			return nil, err
		}
		if got != nil && got.ID == sym.ID {
			sites = append(sites, site{ref.Path, ref.Span, string(ref.Context)})
		}
	}
	for _, e := range edges {
		if e.Kind == lang.EdgeOverrides {
			// The span of an overrides edge covers the trait, not the name.
			continue
		}
		got, err := r.resolve(edgeTarget(e))
		if err != nil {
			return nil, err
		}
		if got != nil && got.ID == sym.ID {
			sites = append(sites, site{e.Path, e.Span, string(e.Kind)})
		}
	}

	sort.SliceStable(sites, func(i, j int) bool {
		if sites[i].path != sites[j].path {
			return sites[i].path < sites[j].path
		}
		return sites[i].sp.Start.Byte < sites[j].sp.Start.Byte
	})
	usages := []Usage{}
	seen := make(map[usageKey]bool)
	for _, s := range sites {
		k := usageKey{s.path, s.sp.Start.Byte}
		if seen[k] {
			continue
		}
		seen[k] = true
		usages = append(usages, Usage{
			Location:   spanLocation(s.path, s.sp),
			Provenance: ProvenanceLinked,
			Context:    s.ctx,
		})
	}
	return usages, nil
}

type usageKey struct {
	path string
	off  int
}

// nameScan reads every indexed file and returns each whole-identifier
// occurrence of name. Occurrences overlapping the excluded span in
// exclPath are dropped. The match is case-sensitive.
func (q *QueryBuilder) nameScan(name, exclPath string, excl lang.Span) ([]Usage, error) {
	files, err := q.store.AllFiles()
	if err != nil {
		return nil, err
	}
	usages := []Usage{}
	needle := []byte(name)
	if len(needle) == 0 {
		return usages, nil
	}
	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(q.root, filepath.FromSlash(f.Path)))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("name scan %s: %w", f.Path, err)
		}
		for _, sp := range scanIdentifier(content, needle) {
			if f.Path == exclPath && sp.Overlaps(excl) {
				continue
			}
			usages = append(usages, Usage{
				Location:   spanLocation(f.Path, sp),
				Provenance: ProvenanceNameScan,
			})
		}
	}
	return usages, nil
}

// scanIdentifier returns the span of every occurrence of needle in src
// that is not part of a longer identifier.
func scanIdentifier(src, needle []byte) []lang.Span {
	var spans []lang.Span
	line, lineStart := 1, 0
	counted := 0
	for off := 0; off <= len(src)-len(needle); {
		i := bytes.Index(src[off:], needle)
		if i < 0 {
			break
		}
		start := off + i
		end := start + len(needle)
		off = start + 1
		if start > 0 && isIdentByte(src[start-1]) {
			continue
		}
		if end < len(src) && isIdentByte(src[end]) {
			continue
		}
		for ; counted < start; counted++ {
			if src[counted] == '\n' {
				line++
				lineStart = counted + 1
			}
		}
		col := start - lineStart + 1
		spans = append(spans, lang.Span{
			Start: lang.Position{Line: line, Column: col, Byte: start},
			End:   lang.Position{Line: line, Column: col + len(needle) - 1, Byte: end},
		})
	}
	return spans
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' || b >= 0x80 ||
		('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

// validIdentifier accepts ASCII identifiers plus any non-ASCII letters,
// not starting with a digit.
func validIdentifier(name string) bool {
	if name == "" || ('0' <= name[0] && name[0] <= '9') {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isIdentByte(name[i]) {
			return false
		}
	}
	return true
}

// RenameOptions tunes Rename.
type RenameOptions struct {
	// IncludeNameScan adds unlinked occurrences found by name scan.
	IncludeNameScan bool
}

// TextEdit replaces OldText at [Start, End] (inclusive) with NewText.
type TextEdit struct {
	File       string
	Start      Position
	End        Position
	OldText    string
	NewText    string
	Provenance Provenance
}

// Rename computes the edits that rename the symbol at file:line:col to
// newName: its definition name token plus every linked usage, and name
// scan hits when requested. Edits are sorted by file and offset and never
// overlap within a file. No file is modified.
func (q *QueryBuilder) Rename(file string, line, col int, newName string, opts RenameOptions) ([]TextEdit, error) {
	if !validIdentifier(newName) {
		return nil, fmt.Errorf("rename to %q: %w", newName, ErrInvalidName)
	}
	sym, err := q.usageTarget(UsageQuery{File: file, Line: line, Col: col})
	if err != nil {
		return nil, fmt.Errorf("rename: %w", err)
	}

	edits := []TextEdit{{
		File:       sym.Path,
		Start:      sym.NameSpan.Start,
		End:        sym.NameSpan.End,
		OldText:    sym.Name,
		NewText:    newName,
		Provenance: ProvenanceLinked,
	}}
	linked, err := q.linkedUsages(sym)
	if err != nil {
		return nil, fmt.Errorf("rename: %w", err)
	}
	candidates := linked
	if opts.IncludeNameScan {
		scanned, err := q.nameScan(sym.Name, sym.Path, sym.NameSpan)
		if err != nil {
			return nil, fmt.Errorf("rename: %w", err)
		}
		candidates = append(candidates, scanned...)
	}
	for _, u := range candidates {
		edits = append(edits, TextEdit{
			File:       u.Location.File,
			Start:      u.Location.Start,
			End:        u.Location.End,
			OldText:    sym.Name,
			NewText:    newName,
			Provenance: u.Provenance,
		})
	}
	return dedupeEdits(edits), nil
}

// dedupeEdits sorts edits and drops any that overlap an edit kept before
// it. Earlier entries win, so the definition and linked usages take
// precedence over name-scan hits at the same place.
func dedupeEdits(edits []TextEdit) []TextEdit {
	type ranked struct {
		TextEdit
		rank int
	}
	all := make([]ranked, len(edits))
	for i, e := range edits {
		all[i] = ranked{e, i}
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Start.Byte != b.Start.Byte {
			return a.Start.Byte < b.Start.Byte
		}
		return a.rank < b.rank
	})

	out := make([]TextEdit, 0, len(all))
	var kept []ranked
	for _, e := range all {
		overlaps := false
		for i := len(kept) - 1; i >= 0 && kept[i].File == e.File; i-- {
			if kept[i].End.Byte > e.Start.Byte {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, e)
		}
	}
	for _, k := range kept {
		out = append(out, k.TextEdit)
	}
	return out
}
