package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// esGrammar serves TypeScript, TSX and JavaScript. The JavaScript grammar is
// a subset of the TypeScript one for everything declared here, apart from
// class heritage which holds a bare expression.
var esGrammar = &grammar{
	separator: ".",
	comments:  map[string]bool{"comment": true},
	declare:   esDeclare,
	refer:     esRefer,
}

func esDeclare(w *walker, n *sitter.Node) []decl {
	switch n.Type() {
	case "function_declaration", "generator_function_declaration", "function_signature":
		name := field(n, "name")
		kind := KindFunction
		if w.inTypeBody() {
			kind = KindMethod
		}
		return []decl{{name: name, kind: kind, visibility: esVisibility(w, n, w.text(name)), body: field(n, "body")}}

	case "class_declaration", "abstract_class_declaration":
		name := field(n, "name")
		return []decl{{
			name:       name,
			kind:       KindClass,
			visibility: esVisibility(w, n, w.text(name)),
			body:       field(n, "body"),
			edges:      esHeritage(w, n),
		}}

	case "interface_declaration":
		name := field(n, "name")
		var edges []edgeSite
		if ext := childOfType(n, "extends_type_clause", "extends_clause"); ext != nil {
			for _, t := range namedChildren(ext) {
				if site, ok := esTypeSite(w, t, EdgeExtends); ok {
					edges = append(edges, site)
				}
			}
		}
		return []decl{{name: name, kind: KindInterface, visibility: esVisibility(w, n, w.text(name)), body: field(n, "body"), edges: edges}}

	case "enum_declaration":
		name := field(n, "name")
		return []decl{{name: name, kind: KindEnum, visibility: esVisibility(w, n, w.text(name)), body: field(n, "body")}}

	case "enum_assignment":
		return []decl{{name: field(n, "name"), kind: KindEnumMember, visibility: "public"}}

	case "property_identifier":
		if hasParentType(n, "enum_body") {
			return []decl{{name: n, kind: KindEnumMember, visibility: "public"}}
		}

	case "type_alias_declaration":
		name := field(n, "name")
		return []decl{{name: name, kind: KindType, visibility: esVisibility(w, n, w.text(name)), body: field(n, "value")}}

	case "internal_module", "module":
		name := field(n, "name")
		if name == nil || name.Type() == "string" {
			return nil
		}
		return []decl{{name: name, kind: KindNamespace, visibility: esVisibility(w, n, w.text(name)), body: field(n, "body")}}

	case "method_definition", "method_signature", "abstract_method_signature":
		name := field(n, "name")
		return []decl{{name: name, kind: KindMethod, visibility: esVisibility(w, n, w.text(name)), body: field(n, "body")}}

	case "public_field_definition", "field_definition", "property_signature":
		name := field(n, "name")
		if name == nil {
			name = field(n, "property")
		}
		d := decl{name: name, kind: KindProperty, visibility: esVisibility(w, n, w.text(name))}
		if v := field(n, "value"); v != nil && esFunctionValue(v) {
			d.kind = KindMethod
			d.body = field(v, "body")
		}
		return []decl{d}

	case "variable_declarator":
		name := field(n, "name")
		if name == nil || name.Type() != "identifier" {
			return nil
		}
		d := decl{name: name, visibility: esVisibility(w, n, w.text(name))}
		value := field(n, "value")
		switch {
		case value != nil && esFunctionValue(value):
			d.kind = KindFunction
			d.body = field(value, "body")
		case value != nil && value.Type() == "class":
			d.kind = KindClass
			d.body = field(value, "body")
			d.edges = esHeritage(w, value)
		case w.inCallable():
			return nil
		case esConst(n):
			d.kind = KindConst
		default:
			d.kind = KindVariable
		}
		return []decl{d}
	}
	return nil
}

func esFunctionValue(n *sitter.Node) bool {
	switch n.Type() {
	case "arrow_function", "function", "function_expression", "generator_function":
		return true
	}
	return false
}

func esConst(declarator *sitter.Node) bool {
	p := declarator.Parent()
	if p == nil || p.Type() != "lexical_declaration" || p.ChildCount() == 0 {
		return false
	}
	return p.Child(0).Type() == "const"
}

func esVisibility(w *walker, n *sitter.Node, name string) string {
	if strings.HasPrefix(name, "#") {
		return "private"
	}
	if m := childOfType(n, "accessibility_modifier"); m != nil {
		return strings.TrimSpace(w.text(m))
	}
	if w.inTypeBody() {
		return "public"
	}
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "export_statement":
			return "public"
		case "lexical_declaration", "variable_declaration", "ambient_declaration":
			continue
		}
		return "private"
	}
	return "private"
}

func esHeritage(w *walker, class *sitter.Node) []edgeSite {
	var out []edgeSite
	heritage := childOfType(class, "class_heritage")
	for _, c := range namedChildren(heritage) {
		switch c.Type() {
		case "extends_clause":
			v := field(c, "value")
			if v == nil && c.NamedChildCount() > 0 {
				v = c.NamedChild(0)
			}
			if site, ok := esTypeSite(w, v, EdgeExtends); ok {
				out = append(out, site)
			}
		case "implements_clause":
			for _, t := range namedChildren(c) {
				if site, ok := esTypeSite(w, t, EdgeImplements); ok {
					out = append(out, site)
				}
			}
		default:
			if site, ok := esTypeSite(w, c, EdgeExtends); ok {
				out = append(out, site)
			}
		}
	}
	return out
}

// esTypeSite finds the name token of a heritage or extends entry.
func esTypeSite(w *walker, n *sitter.Node, kind EdgeKind) (edgeSite, bool) {
	if n == nil {
		return edgeSite{}, false
	}
	switch n.Type() {
	case "identifier", "type_identifier":
		return edgeSite{name: n, kind: kind}, true
	case "generic_type":
		return esTypeSite(w, field(n, "name"), kind)
	case "nested_type_identifier":
		return edgeSite{name: field(n, "name"), qualifier: w.text(field(n, "module")), kind: kind}, true
	case "member_expression":
		return edgeSite{name: field(n, "property"), qualifier: w.text(field(n, "object")), kind: kind}, true
	}
	return edgeSite{}, false
}

func esRefer(w *walker, n *sitter.Node) []refSite {
	switch n.Type() {
	case "call_expression", "new_expression":
		fn := field(n, "function")
		if fn == nil {
			fn = field(n, "constructor")
		}
		if fn == nil {
			return nil
		}
		switch fn.Type() {
		case "identifier":
			return []refSite{{name: fn, ctx: ContextCall}}
		case "member_expression":
			obj := field(fn, "object")
			qual := ""
			if obj != nil && (obj.Type() == "identifier" || obj.Type() == "this") {
				qual = w.text(obj)
			}
			return []refSite{{name: field(fn, "property"), qualifier: qual, member: true, ctx: ContextCall}}
		}
	case "nested_type_identifier":
		return []refSite{{name: field(n, "name"), qualifier: w.text(field(n, "module")), ctx: ContextType}}
	case "type_identifier":
		return []refSite{{name: n, ctx: ContextType}}
	}
	return nil
}
