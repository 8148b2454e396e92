package runtime

import (
	"context"
	"fmt"

	"github.com/risor-io/risor/object"

	"github.com/jward/understory/internal/lang"
)

// emitter buffers what a script emits for one file. Nothing reaches the
// extraction until the script finishes without error.
type emitter struct {
	src []byte
	ex  *lang.Extraction

	symbols    []lang.Symbol
	references []lang.Reference
	edges      []lang.Edge
	includes   []lang.Include
}

func newEmitter(src []byte, ex *lang.Extraction) *emitter {
	return &emitter{src: src, ex: ex}
}

func (e *emitter) globals() map[string]any {
	return map[string]any{
		"emit_symbol":    e.symbolFn(),
		"emit_reference": e.referenceFn(),
		"emit_edge":      e.edgeFn(),
		"emit_include":   e.includeFn(),
		"symbols":        e.symbolList(),
	}
}

func (e *emitter) commit() {
	e.ex.Symbols = append(e.ex.Symbols, e.symbols...)
	e.ex.References = append(e.ex.References, e.references...)
	e.ex.Edges = append(e.ex.Edges, e.edges...)
	e.ex.Includes = append(e.ex.Includes, e.includes...)
}

// symbolCount is the number of locals visible to the script, built-in
// symbols first.
func (e *emitter) symbolCount() int {
	return len(e.ex.Symbols) + len(e.symbols)
}

func (e *emitter) symbolList() object.Object {
	items := make([]object.Object, 0, len(e.ex.Symbols))
	for _, s := range e.ex.Symbols {
		items = append(items, object.NewMap(map[string]object.Object{
			"local":      object.NewInt(int64(s.Local)),
			"parent":     object.NewInt(int64(s.Parent)),
			"name":       object.NewString(s.Name),
			"kind":       object.NewString(string(s.Kind)),
			"qualifier":  object.NewString(s.Qualifier),
			"visibility": object.NewString(s.Visibility),
			"start_line": object.NewInt(int64(s.Span.Start.Line)),
			"end_line":   object.NewInt(int64(s.Span.End.Line)),
		}))
	}
	return object.NewList(items)
}

// emit_symbol({name, kind, node | start_line.., name_node?, parent?,
// qualifier?, visibility?, signature?}) -> local
func (e *emitter) symbolFn() *object.Builtin {
	return object.NewBuiltin("emit_symbol", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("emit_symbol", 1, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("emit_symbol: %v", err)
		}
		name := getString(m, "name")
		if name == "" {
			return object.Errorf("emit_symbol: name is required")
		}
		kind := lang.Kind(getString(m, "kind"))
		if !kind.Valid() {
			return object.Errorf("emit_symbol: unknown kind %q", kind)
		}
		span, err := e.span(m, "node")
		if err != nil {
			return object.Errorf("emit_symbol: %v", err)
		}
		nameSpan := span
		if _, ok := m["name_node"]; ok {
			if nameSpan, err = e.span(m, "name_node"); err != nil {
				return object.Errorf("emit_symbol: %v", err)
			}
		}
		parent := -1
		if v, ok := getOptionalInt64(m, "parent"); ok {
			parent = int(v)
		}
		if parent < -1 || parent >= e.symbolCount() {
			return object.Errorf("emit_symbol: parent %d out of range", parent)
		}
		sym := lang.Symbol{
			Local:      e.symbolCount(),
			Parent:     parent,
			Name:       name,
			Kind:       kind,
			Qualifier:  getString(m, "qualifier"),
			Visibility: getStringDefault(m, "visibility", "public"),
			Span:       span,
			NameSpan:   nameSpan,
			Signature:  getString(m, "signature"),
		}
		e.symbols = append(e.symbols, sym)
		return object.NewInt(int64(sym.Local))
	})
}

// emit_reference({name, context, node | start_line.., from?, qualifier?})
func (e *emitter) referenceFn() *object.Builtin {
	return object.NewBuiltin("emit_reference", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("emit_reference", 1, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("emit_reference: %v", err)
		}
		name := getString(m, "name")
		if name == "" {
			return object.Errorf("emit_reference: name is required")
		}
		refCtx := lang.RefContext(getStringDefault(m, "context", string(lang.ContextCall)))
		if !refCtx.Valid() {
			return object.Errorf("emit_reference: unknown context %q", refCtx)
		}
		span, err := e.span(m, "node")
		if err != nil {
			return object.Errorf("emit_reference: %v", err)
		}
		from, err := e.local(m, "from", -1)
		if err != nil {
			return object.Errorf("emit_reference: %v", err)
		}
		e.references = append(e.references, lang.Reference{
			From:      from,
			Name:      name,
			Qualifier: getString(m, "qualifier"),
			Context:   refCtx,
			Span:      span,
		})
		return object.Nil
	})
}

// emit_edge({from, to, kind, qualifier?, node | start_line..})
func (e *emitter) edgeFn() *object.Builtin {
	return object.NewBuiltin("emit_edge", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("emit_edge", 1, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("emit_edge: %v", err)
		}
		to := getString(m, "to")
		if to == "" {
			return object.Errorf("emit_edge: to is required")
		}
		kind := lang.EdgeKind(getString(m, "kind"))
		if !kind.Valid() {
			return object.Errorf("emit_edge: unknown kind %q", kind)
		}
		from, err := e.local(m, "from", -2)
		if err != nil {
			return object.Errorf("emit_edge: %v", err)
		}
		if from < 0 {
			return object.Errorf("emit_edge: from is required")
		}
		span, err := e.span(m, "node")
		if err != nil {
			return object.Errorf("emit_edge: %v", err)
		}
		e.edges = append(e.edges, lang.Edge{
			From:        from,
			ToName:      to,
			ToQualifier: getString(m, "qualifier"),
			Kind:        kind,
			Span:        span,
		})
		return object.Nil
	})
}

// emit_include({target, system?, node | start_line..})
func (e *emitter) includeFn() *object.Builtin {
	return object.NewBuiltin("emit_include", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("emit_include", 1, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("emit_include: %v", err)
		}
		target := getString(m, "target")
		if target == "" {
			return object.Errorf("emit_include: target is required")
		}
		span, err := e.span(m, "node")
		if err != nil {
			return object.Errorf("emit_include: %v", err)
		}
		e.includes = append(e.includes, lang.Include{Target: target, System: getBool(m, "system"), Span: span})
		return object.Nil
	})
}

// local reads a symbol local from m, returning def when the key is absent.
func (e *emitter) local(m map[string]object.Object, key string, def int) (int, error) {
	v, ok := getOptionalInt64(m, key)
	if !ok {
		return def, nil
	}
	if v < -1 || int(v) >= e.symbolCount() {
		return 0, fmt.Errorf("%s %d out of range", key, v)
	}
	return int(v), nil
}

// span takes the span from a node proxy under key, or from explicit
// start_line/start_col/end_line/end_col entries.
func (e *emitter) span(m map[string]object.Object, key string) (lang.Span, error) {
	if v, ok := m[key]; ok {
		node, err := proxiedNode(v)
		if err != nil {
			return lang.Span{}, fmt.Errorf("%s: %w", key, err)
		}
		return lang.NodeSpan(e.src, node), nil
	}
	startLine, startCol := getInt(m, "start_line"), getInt(m, "start_col")
	if startLine < 1 || startCol < 1 {
		return lang.Span{}, fmt.Errorf("a node or start_line/start_col is required")
	}
	endLine, endCol := getInt(m, "end_line"), getInt(m, "end_col")
	if endLine == 0 {
		endLine, endCol = startLine, startCol
	}
	start := lang.Position{Line: startLine, Column: startCol, Byte: byteOffset(e.src, startLine, startCol)}
	end := lang.Position{Line: endLine, Column: endCol, Byte: byteOffset(e.src, endLine, endCol) + 1}
	return lang.Span{Start: start, End: end}, nil
}

// byteOffset converts a 1-based line and byte column into an offset,
// clamped to the source.
func byteOffset(src []byte, line, col int) int {
	off := 0
	for l := 1; l < line && off < len(src); off++ {
		if src[off] == '\n' {
			l++
		}
	}
	return min(off+col-1, len(src))
}

// --- Map extraction helpers ---

func extractMap(obj object.Object) (map[string]object.Object, error) {
	m, ok := obj.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("expected map, got %s", obj.Type())
	}
	return m.Value(), nil
}

func getString(m map[string]object.Object, key string) string {
	if s, ok := m[key].(*object.String); ok {
		return s.Value()
	}
	return ""
}

func getStringDefault(m map[string]object.Object, key, def string) string {
	if v := getString(m, key); v != "" {
		return v
	}
	return def
}

func getInt(m map[string]object.Object, key string) int {
	v, _ := getOptionalInt64(m, key)
	return int(v)
}

func getOptionalInt64(m map[string]object.Object, key string) (int64, bool) {
	switch v := m[key].(type) {
	case *object.Int:
		return v.Value(), true
	case *object.Float:
		return int64(v.Value()), true
	}
	return 0, false
}

func getBool(m map[string]object.Object, key string) bool {
	if b, ok := m[key].(*object.Bool); ok {
		return b.Value()
	}
	return false
}
