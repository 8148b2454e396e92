package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goShapes = `package shapes

// Shape is anything with an area.
type Shape interface {
	Area() float64
}

type Named interface {
	Shape
	Name() string
}

type Circle struct {
	Radius float64
}

type Square struct {
	Shape
	side float64
}

func (c *Circle) Area() float64 {
	return 3.14 * c.Radius * c.Radius
}

func NewCircle(r float64) *Circle {
	return &Circle{Radius: r}
}

func total(shapes []Shape) float64 {
	if len(shapes) == 0 {
		return 0
	}
	return shapes[0].Area() + total(shapes[1:])
}

type Node struct {
	next *Node
}

const Pi = 3.14

var registry = map[string]Shape{}
`

func TestGo_Symbols(t *testing.T) {
	t.Parallel()
	ex := extract(t, Go, goShapes)
	assert.False(t, ex.HasErrors)
	assert.Equal(t, Go, ex.Language)

	shape := findSymbol(t, ex, "Shape", KindInterface)
	assert.Equal(t, "shapes", shape.Qualifier)
	assert.Equal(t, "public", shape.Visibility)
	assert.Equal(t, -1, shape.Parent)

	circle := findSymbol(t, ex, "Circle", KindStruct)
	radius := findSymbol(t, ex, "Radius", KindProperty)
	assert.Equal(t, circle.Local, radius.Parent)
	assert.Equal(t, "shapes.Circle", radius.Qualifier)

	var ifaceArea, circleArea *Symbol
	for _, s := range symbolsNamed(ex, "Area") {
		s := s
		require.Equal(t, KindMethod, s.Kind)
		switch s.Parent {
		case shape.Local:
			ifaceArea = &s
		case circle.Local:
			circleArea = &s
		}
	}
	require.NotNil(t, ifaceArea, "interface method")
	require.NotNil(t, circleArea, "receiver method attached to its type")
	assert.Equal(t, "shapes.Circle", circleArea.Qualifier)
	assert.Equal(t, "func (c *Circle) Area() float64", circleArea.Signature)

	assert.Equal(t, "public", findSymbol(t, ex, "NewCircle", KindFunction).Visibility)
	assert.Equal(t, "private", findSymbol(t, ex, "total", KindFunction).Visibility)
	assert.Equal(t, "private", findSymbol(t, ex, "next", KindProperty).Visibility)
	findSymbol(t, ex, "Pi", KindConst)
	findSymbol(t, ex, "registry", KindVariable)
}

func TestGo_Edges(t *testing.T) {
	t.Parallel()
	ex := extract(t, Go, goShapes)

	named := findSymbol(t, ex, "Named", KindInterface)
	edges := edgesFrom(ex, named.Local)
	require.Len(t, edges, 1)
	assert.Equal(t, "Shape", edges[0].ToName)
	assert.Equal(t, EdgeExtends, edges[0].Kind)

	square := findSymbol(t, ex, "Square", KindStruct)
	edges = edgesFrom(ex, square.Local)
	require.Len(t, edges, 1)
	assert.Equal(t, "Shape", edges[0].ToName)

	// Only the embedded field is an edge; named fields are properties.
	findSymbol(t, ex, "side", KindProperty)
}

func TestGo_References(t *testing.T) {
	t.Parallel()
	ex := extract(t, Go, goShapes)
	total := findSymbol(t, ex, "total", KindFunction)
	newCircle := findSymbol(t, ex, "NewCircle", KindFunction)

	// Recursive calls and builtins are not references.
	assert.Empty(t, refsNamed(ex, "total"))
	assert.Empty(t, refsNamed(ex, "len"))
	// A type mentioned inside its own body is a self-reference.
	assert.Empty(t, refsNamed(ex, "Node"))
	assert.Empty(t, refsNamed(ex, "float64"))

	areaCalls := refsNamed(ex, "Area")
	require.Len(t, areaCalls, 1)
	assert.Equal(t, ContextCall, areaCalls[0].Context)
	assert.Equal(t, total.Local, areaCalls[0].From)
	assert.Equal(t, posOf(goShapes, "Area() + total", 0), areaCalls[0].Span.Start)

	var fromNew int
	for _, r := range refsNamed(ex, "Circle") {
		assert.Equal(t, ContextType, r.Context)
		if r.From == newCircle.Local {
			fromNew++
		}
	}
	assert.Equal(t, 2, fromNew, "return type and composite literal")

	var shapeFromTotal bool
	for _, r := range refsNamed(ex, "Shape") {
		if r.From == total.Local {
			shapeFromTotal = true
		}
	}
	assert.True(t, shapeFromTotal)
}

func TestGo_Positions(t *testing.T) {
	t.Parallel()
	ex := extract(t, Go, goShapes)
	s := findSymbol(t, ex, "NewCircle", KindFunction)

	start := posOf(goShapes, "NewCircle", 0)
	assert.Equal(t, start, s.NameSpan.Start)
	assert.Equal(t, start.Line, s.NameSpan.End.Line)
	assert.Equal(t, start.Column+len("NewCircle")-1, s.NameSpan.End.Column)
	assert.Equal(t, start.Byte+len("NewCircle"), s.NameSpan.End.Byte)

	assert.Equal(t, posOf(goShapes, "func NewCircle", 0), s.Span.Start)
	closing := posOf(goShapes, "}\n\nfunc total", 0)
	assert.Equal(t, closing.Line, s.Span.End.Line)
	assert.Equal(t, 1, s.Span.End.Column)
	assert.Equal(t, closing.Byte+1, s.Span.End.Byte)

	assert.True(t, s.Span.Contains(closing.Line, 1))
	assert.False(t, s.Span.Contains(closing.Line, 2))
}

func TestGo_ContentHash(t *testing.T) {
	t.Parallel()
	src := `package p

func a() int {
	x := 1 // one
	return x + 2
}

func b() int {
	x := 1
	// a different comment
	return x +
		2
}

func c() int {
	x := 2
	return x + 2
}

func d() {}
`
	ex := extract(t, Go, src)
	a := findSymbol(t, ex, "a", KindFunction)
	b := findSymbol(t, ex, "b", KindFunction)
	c := findSymbol(t, ex, "c", KindFunction)
	d := findSymbol(t, ex, "d", KindFunction)

	require.Len(t, a.ContentHash, 16)
	assert.Equal(t, a.ContentHash, b.ContentHash, "comments and layout are ignored")
	assert.NotEqual(t, a.ContentHash, c.ContentHash)
	assert.Empty(t, d.ContentHash, "bodies under the minimum are not hashed")

	ex = extractWith(t, Go, src, Options{MinBodyBytes: 1000})
	assert.Empty(t, findSymbol(t, ex, "a", KindFunction).ContentHash)
}

func TestGo_SyntaxErrorsArePartial(t *testing.T) {
	t.Parallel()
	src := "package p\n\nfunc Good() int { return 1 }\n\nfunc Bad( {\n"
	ex := extract(t, Go, src)
	assert.True(t, ex.HasErrors)
	findSymbol(t, ex, "Good", KindFunction)
}

func TestGo_MultiNameDeclarationsHaveOwnSpans(t *testing.T) {
	t.Parallel()
	src := `package p

type P struct {
	X, Y int
}

var a, b = 1, 2

var single = 3
`
	ex := extract(t, Go, src)
	x := findSymbol(t, ex, "X", KindProperty)
	y := findSymbol(t, ex, "Y", KindProperty)
	a := findSymbol(t, ex, "a", KindVariable)
	b := findSymbol(t, ex, "b", KindVariable)

	assert.Equal(t, x.NameSpan, x.Span)
	assert.Equal(t, y.NameSpan, y.Span)
	assert.NotEqual(t, x.Span, y.Span)
	assert.True(t, x.Span.Contains(4, 2))
	assert.False(t, y.Span.Contains(4, 2))

	assert.Equal(t, posOf(src, "a, b", 0), a.Span.Start)
	assert.True(t, a.Span.Contains(7, 5))
	assert.False(t, b.Span.Contains(7, 5))

	// A lone name keeps the whole declaration.
	single := findSymbol(t, ex, "single", KindVariable)
	assert.Equal(t, posOf(src, "single = 3", 0), single.Span.Start)
	assert.Equal(t, posOf(src, "3\n", 0).Column, single.Span.End.Column)
}

func TestGo_DelegatingCallsAreReferences(t *testing.T) {
	t.Parallel()
	src := `package p

type B struct{}

func (b *B) Close() error { return nil }

type A struct {
	inner *B
}

func (a *A) Close() error {
	return a.inner.Close()
}

func Close() error {
	return other.Close()
}

func Again() {
	Again()
}
`
	ex := extract(t, Go, src)
	var aClose, fnClose Symbol
	for _, s := range ex.Symbols {
		switch {
		case s.Name == "Close" && s.Qualifier == "p.A":
			aClose = s
		case s.Name == "Close" && s.Kind == KindFunction:
			fnClose = s
		}
	}
	require.Equal(t, KindMethod, aClose.Kind)

	closes := refsNamed(ex, "Close")
	require.Len(t, closes, 2)
	assert.Equal(t, aClose.Local, closes[0].From)
	assert.Equal(t, ContextCall, closes[0].Context)
	assert.Equal(t, posOf(src, "Close()\n}", 0), closes[0].Span.Start)
	assert.Equal(t, fnClose.Local, closes[1].From)
	assert.Equal(t, "other", closes[1].Qualifier)

	assert.Empty(t, refsNamed(ex, "Again"), "a bare recursive call is a self-reference")
}
