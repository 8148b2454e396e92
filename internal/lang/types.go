package lang

import "strings"

// Kind is the canonical symbol kind shared by every adapter.
type Kind string

const (
	KindFunction   Kind = "function"
	KindMethod     Kind = "method"
	KindClass      Kind = "class"
	KindStruct     Kind = "struct"
	KindInterface  Kind = "interface"
	KindTrait      Kind = "trait"
	KindEnum       Kind = "enum"
	KindEnumMember Kind = "enum_member"
	KindType       Kind = "type"
	KindConst      Kind = "const"
	KindVariable   Kind = "variable"
	KindProperty   Kind = "property"
	KindModule     Kind = "module"
	KindNamespace  Kind = "namespace"
)

// Callable reports whether a call site can target a symbol of this kind.
// Classes and structs count because constructor calls name the type.
func (k Kind) Callable() bool {
	switch k {
	case KindFunction, KindMethod, KindClass, KindStruct:
		return true
	}
	return false
}

// TypeLike reports whether the kind can appear in a type position or as
// the target of a relationship edge.
func (k Kind) TypeLike() bool {
	switch k {
	case KindClass, KindStruct, KindInterface, KindTrait, KindEnum, KindType:
		return true
	}
	return false
}

// Hashable reports whether duplicate detection hashes bodies of this kind.
func (k Kind) Hashable() bool {
	switch k {
	case KindFunction, KindMethod, KindClass, KindStruct, KindTrait, KindInterface:
		return true
	}
	return false
}

// Valid reports whether k is one of the canonical kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindFunction, KindMethod, KindClass, KindStruct, KindInterface, KindTrait,
		KindEnum, KindEnumMember, KindType, KindConst, KindVariable, KindProperty,
		KindModule, KindNamespace:
		return true
	}
	return false
}

// EdgeKind is the kind of a relationship edge between symbols.
type EdgeKind string

const (
	EdgeImplements EdgeKind = "implements"
	EdgeExtends    EdgeKind = "extends"
	EdgeTraitImpl  EdgeKind = "trait_impl"
	EdgeOverrides  EdgeKind = "overrides"
)

func (k EdgeKind) Valid() bool {
	switch k {
	case EdgeImplements, EdgeExtends, EdgeTraitImpl, EdgeOverrides:
		return true
	}
	return false
}

// RefContext says what kind of occurrence a reference is.
type RefContext string

const (
	ContextCall RefContext = "call"
	ContextType RefContext = "type"
)

func (c RefContext) Valid() bool {
	return c == ContextCall || c == ContextType
}

// Position is a 1-based line and column plus a 0-based byte offset.
// Columns count bytes.
type Position struct {
	Line   int
	Column int
	Byte   int
}

// Span covers [Start, End]. Line/column bounds are inclusive (End.Column is
// the column of the last byte); Start.Byte..End.Byte is half-open.
type Span struct {
	Start Position
	End   Position
}

// Contains reports whether line:col falls inside the span, bounds included.
func (s Span) Contains(line, col int) bool {
	if line < s.Start.Line || line > s.End.Line {
		return false
	}
	if line == s.Start.Line && col < s.Start.Column {
		return false
	}
	if line == s.End.Line && col > s.End.Column {
		return false
	}
	return true
}

// Overlaps reports whether the byte ranges of s and o intersect.
func (s Span) Overlaps(o Span) bool {
	return s.Start.Byte < o.End.Byte && o.Start.Byte < s.End.Byte
}

// Symbol is a declaration found in one file. Local is its index within
// Extraction.Symbols; Parent is the Local of the enclosing symbol or -1.
type Symbol struct {
	Local       int
	Parent      int
	Name        string
	Kind        Kind
	Qualifier   string
	Visibility  string
	Span        Span
	NameSpan    Span
	Signature   string
	ContentHash string
}

// Edge is a relationship from a local symbol to a named target. The target
// is resolved later, by name.
type Edge struct {
	From        int
	ToName      string
	ToQualifier string
	Kind        EdgeKind
	Span        Span
}

// Reference is a usage occurrence. From is the Local of the innermost
// enclosing symbol or -1 at file scope.
type Reference struct {
	From      int
	Name      string
	Qualifier string
	Context   RefContext
	Span      Span
}

// Include is a C/C++ #include directive.
type Include struct {
	Target string
	System bool
	Span   Span
}

// Extraction is everything one file contributes to the index.
type Extraction struct {
	Language   Language
	Symbols    []Symbol
	Edges      []Edge
	References []Reference
	Includes   []Include
	LineCount  int
	// HasErrors is set when the parse tree contains error nodes and the
	// extraction is therefore partial.
	HasErrors bool
}

// Accepts reports whether a reference in context c can target kind k.
func (c RefContext) Accepts(k Kind) bool {
	if c == ContextCall {
		return k.Callable()
	}
	return k.TypeLike()
}

// Accepts reports whether an edge of kind e can target kind k. Overrides
// point at methods; every other edge points at a type.
func (e EdgeKind) Accepts(k Kind) bool {
	if e == EdgeOverrides {
		return k == KindMethod || k == KindFunction
	}
	return k.TypeLike()
}

// QualifierMatches reports whether qualifier ends with want on a path
// boundary, for either "." or "::" separators.
func QualifierMatches(qualifier, want string) bool {
	if want == "" || qualifier == "" {
		return false
	}
	if qualifier == want {
		return true
	}
	if !strings.HasSuffix(qualifier, want) {
		return false
	}
	head := qualifier[:len(qualifier)-len(want)]
	return strings.HasSuffix(head, ".") || strings.HasSuffix(head, "::")
}
