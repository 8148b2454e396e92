package store

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/understory/internal/lang"
)

// sp builds a span whose byte offsets are derived from line and column, so
// nesting by line/column is also nesting by bytes.
func sp(l1, c1, l2, c2 int) lang.Span {
	return lang.Span{
		Start: lang.Position{Line: l1, Column: c1, Byte: l1*100 + c1},
		End:   lang.Position{Line: l2, Column: c2, Byte: l2*100 + c2 + 1},
	}
}

// sampleExtraction models:
//
//	3: type Animal interface {
//	4:     Speak() string
//	5: }
//	7: type Dog struct{}
//	9: func (d Dog) Speak() string { return bark() }
//	11: func bark() string { return "woof" }
//	13: func helper() { bark(); Dog{}.Speak() }
func sampleExtraction() *lang.Extraction {
	return &lang.Extraction{
		Language:  lang.Go,
		LineCount: 13,
		Symbols: []lang.Symbol{
			{Local: 0, Parent: -1, Name: "Animal", Kind: lang.KindInterface, Qualifier: "zoo", Visibility: "public", Span: sp(3, 1, 5, 1), NameSpan: sp(3, 6, 3, 11)},
			{Local: 1, Parent: 0, Name: "Speak", Kind: lang.KindMethod, Qualifier: "zoo.Animal", Visibility: "public", Span: sp(4, 5, 4, 18), NameSpan: sp(4, 5, 4, 9)},
			{Local: 2, Parent: -1, Name: "Dog", Kind: lang.KindStruct, Qualifier: "zoo", Visibility: "public", Span: sp(7, 1, 7, 17), NameSpan: sp(7, 6, 7, 8), ContentHash: "dup"},
			{Local: 3, Parent: 2, Name: "Speak", Kind: lang.KindMethod, Qualifier: "zoo.Dog", Visibility: "public", Span: sp(9, 1, 9, 45), NameSpan: sp(9, 14, 9, 18), Signature: "func (d Dog) Speak() string"},
			{Local: 4, Parent: -1, Name: "bark", Kind: lang.KindFunction, Qualifier: "zoo", Visibility: "private", Span: sp(11, 1, 11, 36), NameSpan: sp(11, 6, 11, 9), ContentHash: "dup"},
			{Local: 5, Parent: -1, Name: "helper", Kind: lang.KindFunction, Qualifier: "zoo", Visibility: "private", Span: sp(13, 1, 13, 41), NameSpan: sp(13, 6, 13, 11)},
		},
		Edges: []lang.Edge{
			{From: 2, ToName: "Animal", Kind: lang.EdgeImplements, Span: sp(7, 6, 7, 8)},
			{From: 3, ToName: "Speak", ToQualifier: "Animal", Kind: lang.EdgeOverrides, Span: sp(9, 14, 9, 18)},
			{From: 2, ToName: "Elsewhere", Kind: lang.EdgeExtends, Span: sp(7, 6, 7, 8)},
		},
		References: []lang.Reference{
			{From: 3, Name: "bark", Context: lang.ContextCall, Span: sp(9, 38, 9, 41)},
			{From: 5, Name: "bark", Context: lang.ContextCall, Span: sp(13, 17, 13, 20)},
			{From: 5, Name: "Speak", Context: lang.ContextCall, Span: sp(13, 31, 13, 35)},
			{From: -1, Name: "Unknown", Context: lang.ContextType, Span: sp(1, 1, 1, 7)},
		},
	}
}

func commitTestFile(t *testing.T, s *Store, path string, ex *lang.Extraction) *File {
	t.Helper()
	f := &File{Path: path, Language: string(ex.Language), Hash: "hash-" + path, LineCount: ex.LineCount}
	_, err := s.CommitFile(f, ex)
	require.NoError(t, err)
	return f
}

func symbolNamed(t *testing.T, syms []*Symbol, name string, kind lang.Kind, parent *int64) *Symbol {
	t.Helper()
	for _, sym := range syms {
		if sym.Name != name || sym.Kind != kind {
			continue
		}
		if parent != nil && (sym.ParentID == nil || *sym.ParentID != *parent) {
			continue
		}
		return sym
	}
	t.Fatalf("symbol %s (%s) not found", name, kind)
	return nil
}

func TestCommitFile_RemapsParents(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := commitTestFile(t, s, "zoo/zoo.go", sampleExtraction())

	syms, err := s.SymbolsInFile(f.ID)
	require.NoError(t, err)
	require.Len(t, syms, 6)

	animal := symbolNamed(t, syms, "Animal", lang.KindInterface, nil)
	dog := symbolNamed(t, syms, "Dog", lang.KindStruct, nil)
	assert.Nil(t, animal.ParentID)
	assert.Equal(t, "zoo/zoo.go", animal.Path)

	speak := symbolNamed(t, syms, "Speak", lang.KindMethod, &animal.ID)
	assert.Equal(t, "zoo.Animal", speak.Qualifier)
	dogSpeak := symbolNamed(t, syms, "Speak", lang.KindMethod, &dog.ID)
	assert.Equal(t, "func (d Dog) Speak() string", dogSpeak.Signature)
	assert.Equal(t, sp(9, 14, 9, 18), dogSpeak.NameSpan)
	assert.Equal(t, sp(9, 1, 9, 45), dogSpeak.Span)
}

func TestCommitFile_LinksUniqueSameFileTargets(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := commitTestFile(t, s, "zoo.go", sampleExtraction())
	syms, err := s.SymbolsInFile(f.ID)
	require.NoError(t, err)
	animal := symbolNamed(t, syms, "Animal", lang.KindInterface, nil)
	dog := symbolNamed(t, syms, "Dog", lang.KindStruct, nil)
	bark := symbolNamed(t, syms, "bark", lang.KindFunction, nil)
	speak := symbolNamed(t, syms, "Speak", lang.KindMethod, &animal.ID)
	dogSpeak := symbolNamed(t, syms, "Speak", lang.KindMethod, &dog.ID)

	refs, err := s.ReferencesTo(bark.ID)
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	speakRefs, err := s.ReferencesByName("Speak")
	require.NoError(t, err)
	require.Len(t, speakRefs, 1)
	assert.Nil(t, speakRefs[0].TargetSymbolID, "two methods named Speak is ambiguous")

	edges, err := s.EdgesFrom(dog.ID)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	byName := map[string]*Edge{}
	for _, e := range edges {
		byName[e.DstName] = e
	}
	require.NotNil(t, byName["Animal"].DstSymbolID)
	assert.Equal(t, animal.ID, *byName["Animal"].DstSymbolID)
	assert.Nil(t, byName["Elsewhere"].DstSymbolID)

	overrides, err := s.EdgesFrom(dogSpeak.ID)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	require.NotNil(t, overrides[0].DstSymbolID, "the override never targets its own source")
	assert.Equal(t, speak.ID, *overrides[0].DstSymbolID)
	assert.Equal(t, lang.EdgeOverrides, overrides[0].Kind)
}

func TestCommitFile_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	type row struct {
		Name, Qualifier string
		Kind            lang.Kind
		Span            lang.Span
		Parent          string
	}
	snapshot := func(fileID int64) []row {
		syms, err := s.SymbolsInFile(fileID)
		require.NoError(t, err)
		names := map[int64]string{}
		for _, sym := range syms {
			names[sym.ID] = sym.Name
		}
		var out []row
		for _, sym := range syms {
			r := row{Name: sym.Name, Qualifier: sym.Qualifier, Kind: sym.Kind, Span: sym.Span}
			if sym.ParentID != nil {
				r.Parent = names[*sym.ParentID]
			}
			out = append(out, r)
		}
		return out
	}

	f := commitTestFile(t, s, "zoo.go", sampleExtraction())
	first := snapshot(f.ID)
	firstCounts, err := s.Counts()
	require.NoError(t, err)

	f2 := commitTestFile(t, s, "zoo.go", sampleExtraction())
	assert.Equal(t, f.ID, f2.ID, "the file row is upserted in place")
	assert.Equal(t, first, snapshot(f2.ID))
	secondCounts, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, firstCounts, secondCounts)
}

func TestCommitFile_RollsBackOnError(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commitTestFile(t, s, "zoo.go", sampleExtraction())
	before, err := s.Counts()
	require.NoError(t, err)

	bad := sampleExtraction()
	bad.Edges = append(bad.Edges, lang.Edge{From: 99, ToName: "X", Kind: lang.EdgeExtends})
	_, err = s.CommitFile(&File{Path: "zoo.go", Language: "go", Hash: "new"}, bad)
	require.Error(t, err)

	after, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	f, err := s.FileByPath("zoo.go")
	require.NoError(t, err)
	assert.Equal(t, "hash-zoo.go", f.Hash, "the previous file row survives")
}

func TestCommitFile_RejectsForwardParent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ex := &lang.Extraction{Language: lang.Go, Symbols: []lang.Symbol{
		{Local: 0, Parent: 1, Name: "a", Kind: lang.KindFunction, Span: sp(1, 1, 1, 5), NameSpan: sp(1, 1, 1, 1)},
		{Local: 1, Parent: -1, Name: "b", Kind: lang.KindFunction, Span: sp(2, 1, 2, 5), NameSpan: sp(2, 1, 2, 1)},
	}}
	_, err := s.CommitFile(&File{Path: "x.go", Language: "go"}, ex)
	require.Error(t, err)
	f, err := s.FileByPath("x.go")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestCommitFile_EmptyExtraction(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commitTestFile(t, s, "zoo.go", sampleExtraction())

	_, err := s.CommitFile(&File{Path: "zoo.go", Language: "go", Hash: "broken"}, &lang.Extraction{Language: lang.Go})
	require.NoError(t, err)
	c, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, Counts{Files: 1}, c)
}

func TestDeleteFile_NoCrossFileLeakage(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commitTestFile(t, s, "a.go", sampleExtraction())
	commitTestFile(t, s, "b.go", sampleExtraction())
	both, err := s.Counts()
	require.NoError(t, err)

	removed, err := s.DeleteFile("a.go")
	require.NoError(t, err)
	assert.True(t, removed)

	after, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, Counts{
		Files:      1,
		Symbols:    both.Symbols / 2,
		Edges:      both.Edges / 2,
		References: both.References / 2,
	}, after)

	b, err := s.FileByPath("b.go")
	require.NoError(t, err)
	syms, err := s.SymbolsInFile(b.ID)
	require.NoError(t, err)
	assert.Len(t, syms, 6)

	removed, err = s.DeleteFile("a.go")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSymbolAt_InnermostInclusive(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := commitTestFile(t, s, "zoo.go", sampleExtraction())

	tests := []struct {
		name      string
		line, col int
		want      string
		kind      lang.Kind
	}{
		{"inside nested method", 4, 7, "Speak", lang.KindMethod},
		{"nested method start", 4, 5, "Speak", lang.KindMethod},
		{"nested method end", 4, 18, "Speak", lang.KindMethod},
		{"after nested method", 4, 19, "Animal", lang.KindInterface},
		{"type start boundary", 3, 1, "Animal", lang.KindInterface},
		{"type end boundary", 5, 1, "Animal", lang.KindInterface},
		{"function body", 11, 20, "bark", lang.KindFunction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sym, err := s.SymbolAt(f.ID, tt.line, tt.col)
			require.NoError(t, err)
			require.NotNil(t, sym)
			assert.Equal(t, tt.want, sym.Name)
			assert.Equal(t, tt.kind, sym.Kind)
		})
	}

	for _, pos := range [][2]int{{5, 2}, {6, 1}, {2, 1}, {100, 1}} {
		sym, err := s.SymbolAt(f.ID, pos[0], pos[1])
		require.NoError(t, err)
		assert.Nil(t, sym, "no symbol at %d:%d", pos[0], pos[1])
	}
}

func TestReferenceAt(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := commitTestFile(t, s, "zoo.go", sampleExtraction())

	ref, err := s.ReferenceAt(f.ID, 13, 18)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "bark", ref.Name)
	assert.NotNil(t, ref.TargetSymbolID)

	ref, err = s.ReferenceAt(f.ID, 13, 25)
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestCallReferences_SkipsTypesAndFileScope(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commitTestFile(t, s, "zoo.go", sampleExtraction())

	refs, err := s.CallReferences()
	require.NoError(t, err)
	require.Len(t, refs, 3)
	for _, r := range refs {
		assert.Equal(t, lang.ContextCall, r.Context)
		assert.NotNil(t, r.FromSymbolID)
	}
}

func TestSymbolsByNameAndIDs_CanonicalOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commitTestFile(t, s, "b.go", sampleExtraction())
	commitTestFile(t, s, "a.go", sampleExtraction())

	speaks, err := s.SymbolsByName("Speak")
	require.NoError(t, err)
	require.Len(t, speaks, 4)
	assert.Equal(t, []string{"a.go", "a.go", "b.go", "b.go"}, []string{speaks[0].Path, speaks[1].Path, speaks[2].Path, speaks[3].Path})
	assert.Equal(t, 4, speaks[0].Span.Start.Line)
	assert.Equal(t, 9, speaks[1].Span.Start.Line)

	byIDs, err := s.SymbolsByIDs([]int64{speaks[3].ID, speaks[0].ID, 12345})
	require.NoError(t, err)
	require.Len(t, byIDs, 2)
	assert.Equal(t, speaks[0].ID, byIDs[0].ID)
	assert.Equal(t, speaks[3].ID, byIDs[1].ID)

	one, err := s.SymbolByID(speaks[2].ID)
	require.NoError(t, err)
	assert.Equal(t, "b.go", one.Path)
	missing, err := s.SymbolByID(12345)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSymbolsWithHash(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commitTestFile(t, s, "zoo.go", sampleExtraction())

	syms, err := s.SymbolsWithHash()
	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, "Dog", syms[0].Name)
	assert.Equal(t, "bark", syms[1].Name)
}

func TestIncludes(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ex := &lang.Extraction{Language: lang.C, Includes: []lang.Include{
		{Target: "util.h", Span: sp(1, 1, 1, 19)},
		{Target: "stdio.h", System: true, Span: sp(2, 1, 2, 18)},
	}}
	f := commitTestFile(t, s, "main.c", ex)
	commitTestFile(t, s, "util.c", &lang.Extraction{Language: lang.C, Includes: []lang.Include{{Target: "util.h", Span: sp(1, 1, 1, 19)}}})

	incs, err := s.IncludesOf(f.ID)
	require.NoError(t, err)
	require.Len(t, incs, 2)
	assert.Equal(t, "util.h", incs[0].Target)
	assert.False(t, incs[0].System)
	assert.Equal(t, "stdio.h", incs[1].Target)
	assert.True(t, incs[1].System)
	assert.Equal(t, 2, incs[1].Line)
	assert.Equal(t, "main.c", incs[1].Path)

	all, err := s.AllIncludes()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "util.c", all[2].Path)
}

func TestSymbolsByIDs_ChunksLargeIDLists(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ex := &lang.Extraction{Language: lang.Go, LineCount: 1300}
	for i := 0; i < 1200; i++ {
		line := i + 1
		ex.Symbols = append(ex.Symbols, lang.Symbol{
			Local: i, Parent: -1, Name: "f" + strconv.Itoa(i), Kind: lang.KindFunction,
			Span: sp(line, 1, line, 20), NameSpan: sp(line, 6, line, 8),
		})
	}
	commitTestFile(t, s, "big.go", ex)

	all, err := s.SymbolsByName("f0")
	require.NoError(t, err)
	require.Len(t, all, 1)

	var ids []int64
	rows, err := s.DB().Query("SELECT id FROM symbols ORDER BY id DESC")
	require.NoError(t, err)
	for rows.Next() {
		var id int64
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	require.Len(t, ids, 1200)
	ids = append(ids, ids[:10]...)

	syms, err := s.SymbolsByIDs(ids)
	require.NoError(t, err)
	require.Len(t, syms, 1200, "duplicates collapse and every chunk is read")
	for i, sym := range syms {
		assert.Equal(t, i+1, sym.Span.Start.Line, "results keep canonical order across chunks")
	}
}

func TestChunkIDs(t *testing.T) {
	t.Parallel()
	assert.Empty(t, chunkIDs(nil))
	assert.Equal(t, [][]int64{{3, 1, 2}}, chunkIDs([]int64{3, 1, 3, 2, 1}))

	ids := make([]int64, 2*maxBoundIDs+1)
	for i := range ids {
		ids[i] = int64(i)
	}
	chunks := chunkIDs(ids)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], maxBoundIDs)
	assert.Len(t, chunks[1], maxBoundIDs)
	assert.Equal(t, []int64{int64(2 * maxBoundIDs)}, chunks[2])
}
