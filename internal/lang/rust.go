package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

var rustGrammar = &grammar{
	separator: "::",
	comments:  map[string]bool{"line_comment": true, "block_comment": true},
	declare:   rustDeclare,
	refer:     rustRefer,
}

func rustVisibility(w *walker, n *sitter.Node) string {
	if m := childOfType(n, "visibility_modifier"); m != nil && strings.HasPrefix(w.text(m), "pub") {
		return "public"
	}
	if f := w.enclosing(); f != nil && (f.kind == KindTrait || f.kind == KindEnum || (f.scope != nil && f.scope.trait != nil)) {
		return "public"
	}
	return "private"
}

func rustDeclare(w *walker, n *sitter.Node) []decl {
	switch n.Type() {
	case "function_item", "function_signature_item":
		kind := KindFunction
		if w.inTypeBody() {
			kind = KindMethod
		}
		return []decl{{name: field(n, "name"), kind: kind, visibility: rustVisibility(w, n), body: field(n, "body")}}

	case "struct_item", "union_item":
		return []decl{{name: field(n, "name"), kind: KindStruct, visibility: rustVisibility(w, n), body: field(n, "body")}}

	case "field_declaration":
		return []decl{{name: field(n, "name"), kind: KindProperty, visibility: rustVisibility(w, n)}}

	case "enum_item":
		return []decl{{name: field(n, "name"), kind: KindEnum, visibility: rustVisibility(w, n), body: field(n, "body")}}

	case "enum_variant":
		return []decl{{name: field(n, "name"), kind: KindEnumMember, visibility: "public"}}

	case "trait_item":
		var edges []edgeSite
		for _, b := range namedChildren(field(n, "bounds")) {
			if name, qual := rustTypeName(w, b); name != nil {
				edges = append(edges, edgeSite{name: name, qualifier: qual, kind: EdgeExtends})
			}
		}
		return []decl{{name: field(n, "name"), kind: KindTrait, visibility: rustVisibility(w, n), body: field(n, "body"), edges: edges}}

	case "type_item", "associated_type":
		return []decl{{name: field(n, "name"), kind: KindType, visibility: rustVisibility(w, n)}}

	case "const_item", "static_item":
		if w.inCallable() {
			return nil
		}
		kind := KindConst
		if n.Type() == "static_item" {
			kind = KindVariable
		}
		return []decl{{name: field(n, "name"), kind: kind, visibility: rustVisibility(w, n)}}

	case "mod_item":
		return []decl{{name: field(n, "name"), kind: KindModule, visibility: rustVisibility(w, n), body: field(n, "body")}}

	case "impl_item":
		typeName, _ := rustTypeName(w, field(n, "type"))
		if typeName == nil {
			return nil
		}
		traitName, traitQual := rustTypeName(w, field(n, "trait"))
		w.openTraitImpl(w.text(typeName), traitName, traitQual)
		return []decl{{scope: &implScope{typeName: w.text(typeName), trait: traitName}}}
	}
	return nil
}

// rustTypeName returns the final name token of a type path and the path
// leading up to it.
func rustTypeName(w *walker, n *sitter.Node) (*sitter.Node, string) {
	if n == nil {
		return nil, ""
	}
	switch n.Type() {
	case "type_identifier":
		return n, ""
	case "scoped_type_identifier":
		return field(n, "name"), w.text(field(n, "path"))
	case "generic_type":
		return rustTypeName(w, field(n, "type"))
	case "reference_type":
		return rustTypeName(w, field(n, "type"))
	}
	return nil, ""
}

func rustRefer(w *walker, n *sitter.Node) []refSite {
	switch n.Type() {
	case "call_expression":
		return rustCallSite(w, field(n, "function"))
	case "scoped_type_identifier":
		return []refSite{{name: field(n, "name"), qualifier: w.text(field(n, "path")), ctx: ContextType}}
	case "type_identifier":
		if w.text(n) == "Self" {
			return nil
		}
		return []refSite{{name: n, ctx: ContextType}}
	}
	return nil
}

func rustCallSite(w *walker, fn *sitter.Node) []refSite {
	if fn == nil {
		return nil
	}
	switch fn.Type() {
	case "identifier":
		return []refSite{{name: fn, ctx: ContextCall}}
	case "field_expression":
		value := field(fn, "value")
		qual := ""
		if value != nil && (value.Type() == "identifier" || value.Type() == "self") {
			qual = w.text(value)
		}
		return []refSite{{name: field(fn, "field"), qualifier: qual, member: true, ctx: ContextCall}}
	case "scoped_identifier":
		return []refSite{{name: field(fn, "name"), qualifier: w.text(field(fn, "path")), ctx: ContextCall}}
	case "generic_function":
		return rustCallSite(w, field(fn, "function"))
	}
	return nil
}
