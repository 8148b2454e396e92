package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

var (
	cGrammar = &grammar{
		separator: ".",
		comments:  map[string]bool{"comment": true},
		declare:   clikeDeclare,
		refer:     clikeRefer,
		include:   clikeInclude,
	}
	cppGrammar = &grammar{
		separator: "::",
		comments:  map[string]bool{"comment": true},
		declare:   clikeDeclare,
		refer:     clikeRefer,
		include:   clikeInclude,
	}
)

var declaratorTypes = []string{
	"identifier", "field_identifier", "function_declarator", "pointer_declarator",
	"init_declarator", "array_declarator", "reference_declarator", "parenthesized_declarator",
}

// declarator is the unwrapped name of a C declarator chain.
type declarator struct {
	name   *sitter.Node
	scope  string // innermost C++ scope for Foo::bar
	isFunc bool
}

func unwrapDeclarator(w *walker, n *sitter.Node) declarator {
	var d declarator
	for n != nil {
		switch n.Type() {
		case "identifier", "field_identifier", "type_identifier", "destructor_name", "operator_name", "primitive_type":
			d.name = n
			return d
		case "qualified_identifier":
			if scope := field(n, "scope"); scope != nil {
				if scope.Type() == "template_type" {
					scope = field(scope, "name")
				}
				d.scope = w.text(scope)
			}
			n = field(n, "name")
		case "function_declarator":
			d.isFunc = true
			n = field(n, "declarator")
		case "pointer_declarator", "init_declarator", "array_declarator", "parenthesized_declarator", "attributed_declarator":
			n = field(n, "declarator")
		case "reference_declarator":
			if n.NamedChildCount() == 0 {
				return d
			}
			n = n.NamedChild(0)
		case "template_function":
			n = field(n, "name")
		default:
			return d
		}
	}
	return d
}

func clikeStatic(w *walker, n *sitter.Node) bool {
	for _, s := range childrenOfType(n, "storage_class_specifier") {
		if w.text(s) == "static" {
			return true
		}
	}
	return false
}

func clikeConst(w *walker, n *sitter.Node) bool {
	for _, q := range childrenOfType(n, "type_qualifier") {
		if w.text(q) == "const" || w.text(q) == "constexpr" {
			return true
		}
	}
	return false
}

// clikeVisibility resolves access for members from the nearest preceding
// access specifier, falling back to the class/struct default.
func clikeVisibility(w *walker, n *sitter.Node) string {
	list := n.Parent()
	if list == nil || list.Type() != "field_declaration_list" {
		if clikeStatic(w, n) {
			return "private"
		}
		return "public"
	}
	for s := n.PrevNamedSibling(); s != nil; s = s.PrevNamedSibling() {
		if s.Type() == "access_specifier" {
			return strings.TrimSpace(w.text(s))
		}
	}
	if owner := list.Parent(); owner != nil && owner.Type() == "class_specifier" {
		return "private"
	}
	return "public"
}

func clikeDeclare(w *walker, n *sitter.Node) []decl {
	switch n.Type() {
	case "function_definition":
		d := unwrapDeclarator(w, field(n, "declarator"))
		kind := KindFunction
		if w.inTypeBody() || d.scope != "" {
			kind = KindMethod
		}
		return []decl{{
			name:       d.name,
			kind:       kind,
			visibility: clikeVisibility(w, n),
			body:       field(n, "body"),
			attachTo:   d.scope,
		}}

	case "field_declaration":
		var out []decl
		typeNode := field(n, "type")
		for _, c := range childrenOfType(n, declaratorTypes...) {
			if typeNode != nil && c.StartByte() == typeNode.StartByte() {
				continue
			}
			d := unwrapDeclarator(w, c)
			kind := KindProperty
			if d.isFunc {
				kind = KindMethod
			}
			out = append(out, decl{name: d.name, kind: kind, visibility: clikeVisibility(w, n)})
		}
		return out

	case "struct_specifier", "class_specifier", "union_specifier":
		body := field(n, "body")
		if body == nil {
			return nil
		}
		kind := KindStruct
		if n.Type() == "class_specifier" {
			kind = KindClass
		}
		return []decl{{
			name:       field(n, "name"),
			kind:       kind,
			visibility: "public",
			body:       body,
			edges:      clikeBases(w, n),
		}}

	case "enum_specifier":
		if field(n, "body") == nil {
			return nil
		}
		return []decl{{name: field(n, "name"), kind: KindEnum, visibility: "public", body: field(n, "body")}}

	case "enumerator":
		return []decl{{name: field(n, "name"), kind: KindEnumMember, visibility: "public"}}

	case "namespace_definition":
		return []decl{{name: field(n, "name"), kind: KindNamespace, visibility: "public", body: field(n, "body")}}

	case "type_definition":
		var out []decl
		typeNode := field(n, "type")
		for _, c := range namedChildren(n) {
			if typeNode != nil && c.StartByte() == typeNode.StartByte() {
				continue
			}
			if d := unwrapDeclarator(w, c); d.name != nil && d.name.Type() == "type_identifier" {
				out = append(out, decl{name: d.name, kind: KindType, visibility: "public"})
			}
		}
		return out

	case "alias_declaration":
		return []decl{{name: field(n, "name"), kind: KindType, visibility: "public"}}

	case "declaration":
		if w.inCallable() {
			return nil
		}
		kind := KindVariable
		if clikeConst(w, n) {
			kind = KindConst
		}
		typeNode := field(n, "type")
		var out []decl
		for _, c := range childrenOfType(n, declaratorTypes...) {
			if typeNode != nil && c.StartByte() == typeNode.StartByte() {
				continue
			}
			d := unwrapDeclarator(w, c)
			// Prototypes are skipped; the definition carries the symbol.
			if d.isFunc || d.name == nil {
				continue
			}
			out = append(out, decl{name: d.name, kind: kind, visibility: clikeVisibility(w, n)})
		}
		return out
	}
	return nil
}

func clikeBases(w *walker, n *sitter.Node) []edgeSite {
	var out []edgeSite
	for _, b := range namedChildren(childOfType(n, "base_class_clause")) {
		switch b.Type() {
		case "type_identifier":
			out = append(out, edgeSite{name: b, kind: EdgeExtends})
		case "qualified_identifier":
			d := unwrapDeclarator(w, b)
			out = append(out, edgeSite{name: d.name, qualifier: d.scope, kind: EdgeExtends})
		case "template_type":
			out = append(out, edgeSite{name: field(b, "name"), kind: EdgeExtends})
		}
	}
	return out
}

func clikeInclude(w *walker, n *sitter.Node) (Include, bool) {
	if n.Type() != "preproc_include" {
		return Include{}, false
	}
	path := field(n, "path")
	if path == nil {
		return Include{}, false
	}
	text := w.text(path)
	inc := Include{Span: w.span(n)}
	switch {
	case strings.HasPrefix(text, "<"):
		inc.System = true
		inc.Target = strings.Trim(text, "<>")
	default:
		inc.Target = strings.Trim(text, `"`)
	}
	if inc.Target == "" {
		return Include{}, false
	}
	return inc, true
}

func clikeRefer(w *walker, n *sitter.Node) []refSite {
	switch n.Type() {
	case "call_expression":
		return clikeCallSite(w, field(n, "function"))
	case "new_expression":
		if t := field(n, "type"); t != nil && t.Type() == "type_identifier" {
			return []refSite{{name: t, ctx: ContextCall}}
		}
	case "type_identifier":
		return []refSite{{name: n, ctx: ContextType}}
	}
	return nil
}

func clikeCallSite(w *walker, fn *sitter.Node) []refSite {
	if fn == nil {
		return nil
	}
	switch fn.Type() {
	case "identifier":
		return []refSite{{name: fn, ctx: ContextCall}}
	case "field_expression":
		arg := field(fn, "argument")
		qual := ""
		if arg != nil && (arg.Type() == "identifier" || arg.Type() == "this") {
			qual = w.text(arg)
		}
		return []refSite{{name: field(fn, "field"), qualifier: qual, member: true, ctx: ContextCall}}
	case "qualified_identifier":
		d := unwrapDeclarator(w, fn)
		return []refSite{{name: d.name, qualifier: d.scope, ctx: ContextCall}}
	case "template_function":
		return clikeCallSite(w, field(fn, "name"))
	}
	return nil
}
