package lang

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	sitter "github.com/smacker/go-tree-sitter"
)

const maxSignatureBytes = 200

// grammar is the per-language part of extraction. The walker drives the
// tree and calls declare/refer at every node.
type grammar struct {
	// separator joins qualifier segments.
	separator string
	comments  map[string]bool
	// rootQualifier returns the qualifier of top-level symbols.
	rootQualifier func(w *walker, root *sitter.Node) string
	// declare returns the declarations introduced by n. Children of n nest
	// under the first one.
	declare func(w *walker, n *sitter.Node) []decl
	// refer returns reference sites located at n.
	refer func(w *walker, n *sitter.Node) []refSite
	// include recognizes #include directives.
	include func(w *walker, n *sitter.Node) (Include, bool)
}

// decl describes one declaration found at a node.
type decl struct {
	node       *sitter.Node // defaults to the visited node
	name       *sitter.Node
	kind       Kind
	visibility string
	body       *sitter.Node
	edges      []edgeSite

	// attachTo names a same-file type that becomes the parent when the
	// declaration is not lexically nested in it (Go receivers, C++ Foo::bar).
	attachTo string

	// scope opens a qualifier scope without emitting a symbol (Rust impl).
	scope *implScope
}

type implScope struct {
	typeName string
	trait    *sitter.Node
}

type edgeSite struct {
	name      *sitter.Node
	qualifier string
	kind      EdgeKind
}

type refSite struct {
	name      *sitter.Node
	qualifier string
	member    bool // reached through an operand: x.f, self.f, a.b.f
	ctx       RefContext
}

type frame struct {
	local     int // -1 for scope-only frames
	name      string
	kind      Kind
	qualifier string // qualifier handed to children
	scope     *implScope
}

type pendingAttach struct {
	local    int
	typeName string
}

type pendingTraitImpl struct {
	typeName string
	edge     Edge
}

type walker struct {
	src     []byte
	g       *grammar
	minBody int
	out     *Extraction

	root     string
	stack    []frame
	declared map[uint32]bool
	seenRefs map[uint32]bool

	attach     []pendingAttach
	traitImpls []pendingTraitImpl
}

func newWalker(src []byte, g *grammar, minBody int, out *Extraction) *walker {
	return &walker{
		src:      src,
		g:        g,
		minBody:  minBody,
		out:      out,
		declared: make(map[uint32]bool),
		seenRefs: make(map[uint32]bool),
	}
}

func (w *walker) run(root *sitter.Node) {
	if w.g.rootQualifier != nil {
		w.root = w.g.rootQualifier(w, root)
	}
	w.visit(root)
	w.resolvePending()
}

func (w *walker) visit(n *sitter.Node) {
	if n == nil {
		return
	}
	if w.g.include != nil {
		if inc, ok := w.g.include(w, n); ok {
			w.out.Includes = append(w.out.Includes, inc)
			return
		}
	}

	decls := w.g.declare(w, n)
	if len(decls) > 1 {
		// Names sharing one declaration (X, Y int; int a, b;) each span
		// their own identifier so a position never lands on a sibling.
		for i := range decls {
			if decls[i].node == nil {
				decls[i].node = decls[i].name
			}
		}
	}
	if len(decls) > 0 {
		var first *frame
		for i := range decls {
			f := w.emit(n, decls[i])
			if i == 0 {
				first = f
			}
		}
		if first != nil {
			w.stack = append(w.stack, *first)
			w.visitChildren(n)
			w.stack = w.stack[:len(w.stack)-1]
			return
		}
	}

	for _, r := range w.g.refer(w, n) {
		w.emitRef(r)
	}
	w.visitChildren(n)
}

func (w *walker) visitChildren(n *sitter.Node) {
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		w.visit(n.Child(i))
	}
}

// emit records d and returns the frame its children should nest in.
func (w *walker) emit(n *sitter.Node, d decl) *frame {
	if d.scope != nil {
		return &frame{
			local:     -1,
			name:      d.scope.typeName,
			qualifier: w.join(w.qualifier(), d.scope.typeName),
			scope:     d.scope,
		}
	}
	if d.name == nil {
		return nil
	}
	name := w.text(d.name)
	if name == "" {
		return nil
	}
	node := d.node
	if node == nil {
		node = n
	}
	w.declared[d.name.StartByte()] = true

	parent, enclosingScope := w.parent()
	qualifier := w.qualifier()
	detached := d.attachTo != "" && enclosingScope == nil && (parent < 0 || !w.out.Symbols[parent].Kind.TypeLike())
	if detached {
		qualifier = w.join(qualifier, d.attachTo)
	}

	sym := Symbol{
		Local:      len(w.out.Symbols),
		Parent:     parent,
		Name:       name,
		Kind:       d.kind,
		Qualifier:  qualifier,
		Visibility: d.visibility,
		Span:       w.span(node),
		NameSpan:   w.span(d.name),
		Signature:  w.signature(node, d.body),
	}
	if d.kind.Hashable() && d.body != nil {
		sym.ContentHash = w.contentHash(d.body)
	}
	w.out.Symbols = append(w.out.Symbols, sym)

	switch {
	case enclosingScope != nil:
		w.attach = append(w.attach, pendingAttach{local: sym.Local, typeName: enclosingScope.typeName})
		if enclosingScope.trait != nil && (d.kind == KindMethod || d.kind == KindFunction) {
			w.out.Edges = append(w.out.Edges, Edge{
				From:        sym.Local,
				ToName:      name,
				ToQualifier: w.text(enclosingScope.trait),
				Kind:        EdgeOverrides,
				Span:        w.span(enclosingScope.trait),
			})
		}
	case detached:
		w.attach = append(w.attach, pendingAttach{local: sym.Local, typeName: d.attachTo})
	}

	for _, e := range d.edges {
		if e.name == nil || w.text(e.name) == "" {
			continue
		}
		w.out.Edges = append(w.out.Edges, Edge{
			From:        sym.Local,
			ToName:      w.text(e.name),
			ToQualifier: e.qualifier,
			Kind:        e.kind,
			Span:        w.span(e.name),
		})
	}

	return &frame{
		local:     sym.Local,
		name:      name,
		kind:      d.kind,
		qualifier: w.join(qualifier, name),
	}
}

// openTraitImpl queues a trait_impl edge from typeName to the trait node.
// The implementing type may be declared anywhere in the file, so the edge
// is linked in resolvePending.
func (w *walker) openTraitImpl(typeName string, trait *sitter.Node, qualifier string) {
	if trait == nil || typeName == "" {
		return
	}
	w.traitImpls = append(w.traitImpls, pendingTraitImpl{
		typeName: typeName,
		edge: Edge{
			From:        -1,
			ToName:      w.text(trait),
			ToQualifier: qualifier,
			Kind:        EdgeTraitImpl,
			Span:        w.span(trait),
		},
	})
}

func (w *walker) emitRef(r refSite) {
	if r.name == nil {
		return
	}
	start := r.name.StartByte()
	if w.declared[start] || w.seenRefs[start] {
		return
	}
	name := w.text(r.name)
	if name == "" {
		return
	}
	// A bare name matching an enclosing symbol of a compatible kind refers
	// to that symbol from inside its own definition span. Qualified and
	// member names may point elsewhere (a.inner.Close inside A.Close); the
	// resolvers never pick the referring symbol itself.
	bare := r.qualifier == "" && !r.member
	from := -1
	for i := len(w.stack) - 1; i >= 0; i-- {
		f := w.stack[i]
		if f.local < 0 {
			continue
		}
		if from < 0 {
			from = f.local
		}
		if bare && f.name == name && compatible(f.kind, r.ctx) {
			return
		}
	}
	w.seenRefs[start] = true
	w.out.References = append(w.out.References, Reference{
		From:      from,
		Name:      name,
		Qualifier: r.qualifier,
		Context:   r.ctx,
		Span:      w.span(r.name),
	})
}

func compatible(k Kind, ctx RefContext) bool {
	if ctx == ContextCall {
		return k.Callable()
	}
	return k.TypeLike()
}

// resolvePending links attachments and trait impls to same-file types now
// that every symbol of the file is known.
func (w *walker) resolvePending() {
	typeByName := make(map[string]int)
	for _, s := range w.out.Symbols {
		if s.Kind.TypeLike() {
			if _, ok := typeByName[s.Name]; !ok {
				typeByName[s.Name] = s.Local
			}
		}
	}
	for _, a := range w.attach {
		if local, ok := typeByName[a.typeName]; ok && local != a.local {
			w.out.Symbols[a.local].Parent = local
		}
	}
	for _, ti := range w.traitImpls {
		local, ok := typeByName[ti.typeName]
		if !ok {
			continue
		}
		e := ti.edge
		e.From = local
		w.out.Edges = append(w.out.Edges, e)
	}
}

// parent returns the innermost enclosing symbol, or the enclosing impl
// scope when the nearest frame is scope-only.
func (w *walker) parent() (int, *implScope) {
	if len(w.stack) == 0 {
		return -1, nil
	}
	top := w.stack[len(w.stack)-1]
	if top.local < 0 {
		return -1, top.scope
	}
	return top.local, nil
}

func (w *walker) qualifier() string {
	if len(w.stack) == 0 {
		return w.root
	}
	return w.stack[len(w.stack)-1].qualifier
}

// enclosing returns the innermost frame or nil at file scope.
func (w *walker) enclosing() *frame {
	if len(w.stack) == 0 {
		return nil
	}
	return &w.stack[len(w.stack)-1]
}

// inCallable reports whether any enclosing symbol is a function or method.
func (w *walker) inCallable() bool {
	for _, f := range w.stack {
		if f.kind == KindFunction || f.kind == KindMethod {
			return true
		}
	}
	return false
}

// inTypeBody reports whether the innermost frame is a type or impl scope,
// which turns functions into methods.
func (w *walker) inTypeBody() bool {
	f := w.enclosing()
	if f == nil {
		return false
	}
	return f.local < 0 || f.kind.TypeLike()
}

func (w *walker) join(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + w.g.separator + b
}

func (w *walker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.src)
}

func (w *walker) span(n *sitter.Node) Span {
	return Span{Start: w.startPos(n), End: w.endPos(n)}
}

func (w *walker) startPos(n *sitter.Node) Position {
	p := n.StartPoint()
	return Position{Line: int(p.Row) + 1, Column: int(p.Column) + 1, Byte: int(n.StartByte())}
}

func (w *walker) endPos(n *sitter.Node) Position {
	p := n.EndPoint()
	start, end := int(n.StartByte()), int(n.EndByte())
	if end <= start {
		return w.startPos(n)
	}
	if p.Column > 0 {
		return Position{Line: int(p.Row) + 1, Column: int(p.Column), Byte: end}
	}
	// The node ends with a newline; report the newline on its own line.
	last := end - 1
	lineStart := bytes.LastIndexByte(w.src[:last], '\n') + 1
	return Position{Line: int(p.Row), Column: last - lineStart + 1, Byte: end}
}

// signature is the declaration text up to its body, whitespace collapsed.
func (w *walker) signature(n, body *sitter.Node) string {
	end := n.EndByte()
	if body != nil && body.StartByte() > n.StartByte() && body.StartByte() <= end {
		end = body.StartByte()
	}
	sig := strings.Join(strings.Fields(string(w.src[n.StartByte():end])), " ")
	sig = strings.TrimSpace(strings.TrimSuffix(sig, "{"))
	if len(sig) > maxSignatureBytes {
		sig = strings.ToValidUTF8(sig[:maxSignatureBytes], "")
	}
	return sig
}

// contentHash hashes the body's token stream with comments dropped, so
// formatting and comments do not affect it.
func (w *walker) contentHash(body *sitter.Node) string {
	var sb strings.Builder
	w.tokens(body, &sb)
	norm := sb.String()
	if len(norm) < max(w.minBody, 1) {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(norm))
}

func (w *walker) tokens(n *sitter.Node, sb *strings.Builder) {
	if w.g.comments[n.Type()] {
		return
	}
	if n.ChildCount() == 0 || strings.Contains(n.Type(), "string") {
		text := strings.Join(strings.Fields(w.text(n)), " ")
		if text == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
		return
	}
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		w.tokens(n.Child(i), sb)
	}
}

// Tree helpers shared by the adapters.

func field(n *sitter.Node, name string) *sitter.Node {
	if n == nil {
		return nil
	}
	return n.ChildByFieldName(name)
}

// namedChildren returns the named children of n.
func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		if c := n.NamedChild(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// childOfType returns the first direct child of n whose type is one of types.
func childOfType(n *sitter.Node, types ...string) *sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		for _, t := range types {
			if c.Type() == t {
				return c
			}
		}
	}
	return nil
}

// childrenOfType returns every direct child of n whose type is one of types.
func childrenOfType(n *sitter.Node, types ...string) []*sitter.Node {
	if n == nil {
		return nil
	}
	var out []*sitter.Node
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		for _, t := range types {
			if c.Type() == t {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// descendantsOfType collects nodes of the given types under n without
// descending into matches.
func descendantsOfType(n *sitter.Node, types ...string) []*sitter.Node {
	var out []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(c *sitter.Node) {
		for _, t := range types {
			if c.Type() == t {
				out = append(out, c)
				return
			}
		}
		count := int(c.ChildCount())
		for i := 0; i < count; i++ {
			if cc := c.Child(i); cc != nil {
				walk(cc)
			}
		}
	}
	if n != nil {
		walk(n)
	}
	return out
}

func hasParentType(n *sitter.Node, types ...string) bool {
	if n == nil || n.Parent() == nil {
		return false
	}
	pt := n.Parent().Type()
	for _, t := range types {
		if pt == t {
			return true
		}
	}
	return false
}

// NodeSpan reports the span of n in src using the same conventions as the
// adapters.
func NodeSpan(src []byte, n *sitter.Node) Span {
	w := walker{src: src}
	return w.span(n)
}
