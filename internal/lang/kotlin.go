package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// The Kotlin grammar exposes almost no field names, so nodes are located by
// type.
var kotlinGrammar = &grammar{
	separator: ".",
	comments:  map[string]bool{"comment": true, "line_comment": true, "multiline_comment": true},
	rootQualifier: func(w *walker, root *sitter.Node) string {
		pkg := childOfType(root, "package_header")
		return w.text(childOfType(pkg, "identifier"))
	},
	declare: kotlinDeclare,
	refer:   kotlinRefer,
}

func kotlinVisibility(w *walker, n *sitter.Node) string {
	mods := childOfType(n, "modifiers")
	if v := childOfType(mods, "visibility_modifier"); v != nil {
		return strings.TrimSpace(w.text(v))
	}
	return "public"
}

func kotlinHasModifier(w *walker, n *sitter.Node, want string) bool {
	mods := childOfType(n, "modifiers")
	for _, m := range namedChildren(mods) {
		if strings.TrimSpace(w.text(m)) == want {
			return true
		}
	}
	return false
}

func kotlinDeclare(w *walker, n *sitter.Node) []decl {
	switch n.Type() {
	case "class_declaration":
		name := childOfType(n, "type_identifier")
		kind := KindClass
		switch {
		case childOfType(n, "interface") != nil:
			kind = KindInterface
		case kotlinHasModifier(w, n, "enum"):
			kind = KindEnum
		}
		return []decl{{
			name:       name,
			kind:       kind,
			visibility: kotlinVisibility(w, n),
			body:       childOfType(n, "class_body", "enum_class_body"),
			edges:      kotlinSupertypes(w, n, kind == KindInterface),
		}}

	case "object_declaration":
		return []decl{{
			name:       childOfType(n, "type_identifier"),
			kind:       KindClass,
			visibility: kotlinVisibility(w, n),
			body:       childOfType(n, "class_body"),
			edges:      kotlinSupertypes(w, n, false),
		}}

	case "function_declaration":
		kind := KindFunction
		if w.inTypeBody() {
			kind = KindMethod
		}
		return []decl{{
			name:       childOfType(n, "simple_identifier"),
			kind:       kind,
			visibility: kotlinVisibility(w, n),
			body:       childOfType(n, "function_body"),
		}}

	case "property_declaration":
		if w.inCallable() {
			return nil
		}
		name := childOfType(childOfType(n, "variable_declaration"), "simple_identifier")
		kind := KindVariable
		switch {
		case w.inTypeBody():
			kind = KindProperty
		case kotlinHasModifier(w, n, "const"):
			kind = KindConst
		}
		return []decl{{name: name, kind: kind, visibility: kotlinVisibility(w, n)}}

	case "class_parameter":
		if childOfType(n, "val", "var") == nil {
			return nil
		}
		return []decl{{name: childOfType(n, "simple_identifier"), kind: KindProperty, visibility: kotlinVisibility(w, n)}}

	case "enum_entry":
		return []decl{{name: childOfType(n, "simple_identifier"), kind: KindEnumMember, visibility: "public"}}

	case "type_alias":
		return []decl{{name: childOfType(n, "type_identifier"), kind: KindType, visibility: kotlinVisibility(w, n)}}
	}
	return nil
}

// kotlinSupertypes reads delegation specifiers. A constructor invocation
// names the superclass; a bare type names an interface.
func kotlinSupertypes(w *walker, n *sitter.Node, iface bool) []edgeSite {
	var out []edgeSite
	specs := childrenOfType(n, "delegation_specifier")
	for _, list := range childrenOfType(n, "delegation_specifiers") {
		specs = append(specs, childrenOfType(list, "delegation_specifier")...)
	}
	for _, spec := range specs {
		kind := EdgeImplements
		ut := childOfType(spec, "user_type")
		if ci := childOfType(spec, "constructor_invocation"); ci != nil {
			kind = EdgeExtends
			ut = childOfType(ci, "user_type")
		}
		if iface {
			kind = EdgeExtends
		}
		if name, qual := kotlinUserType(w, ut); name != nil {
			out = append(out, edgeSite{name: name, qualifier: qual, kind: kind})
		}
	}
	return out
}

func kotlinUserType(w *walker, ut *sitter.Node) (*sitter.Node, string) {
	ids := childrenOfType(ut, "type_identifier")
	if len(ids) == 0 {
		return nil, ""
	}
	parts := make([]string, 0, len(ids)-1)
	for _, id := range ids[:len(ids)-1] {
		parts = append(parts, w.text(id))
	}
	return ids[len(ids)-1], strings.Join(parts, ".")
}

func kotlinRefer(w *walker, n *sitter.Node) []refSite {
	switch n.Type() {
	case "call_expression":
		if n.NamedChildCount() == 0 {
			return nil
		}
		callee := n.NamedChild(0)
		switch callee.Type() {
		case "simple_identifier":
			return []refSite{{name: callee, ctx: ContextCall}}
		case "navigation_expression":
			suffixes := childrenOfType(callee, "navigation_suffix")
			if len(suffixes) == 0 {
				return nil
			}
			name := childOfType(suffixes[len(suffixes)-1], "simple_identifier")
			qual := ""
			if first := callee.NamedChild(0); first != nil && first.Type() == "simple_identifier" {
				qual = w.text(first)
			}
			return []refSite{{name: name, qualifier: qual, member: true, ctx: ContextCall}}
		}
	case "user_type":
		if name, qual := kotlinUserType(w, n); name != nil {
			return []refSite{{name: name, qualifier: qual, ctx: ContextType}}
		}
	}
	return nil
}
