package lang

import (
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

var goGrammar = &grammar{
	separator: ".",
	comments:  map[string]bool{"comment": true},
	rootQualifier: func(w *walker, root *sitter.Node) string {
		pkg := childOfType(root, "package_clause")
		return w.text(childOfType(pkg, "package_identifier"))
	},
	declare: goDeclare,
	refer:   goRefer,
}

var goPredeclared = map[string]bool{
	"bool": true, "byte": true, "complex64": true, "complex128": true, "error": true,
	"float32": true, "float64": true, "int": true, "int8": true, "int16": true,
	"int32": true, "int64": true, "rune": true, "string": true, "uint": true,
	"uint8": true, "uint16": true, "uint32": true, "uint64": true, "uintptr": true,
	"any": true, "comparable": true,
	"append": true, "cap": true, "clear": true, "close": true, "complex": true,
	"copy": true, "delete": true, "imag": true, "len": true, "make": true,
	"max": true, "min": true, "new": true, "panic": true, "print": true,
	"println": true, "real": true, "recover": true,
}

func goVisibility(name string) string {
	r, _ := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(r) {
		return "public"
	}
	return "private"
}

func goDeclare(w *walker, n *sitter.Node) []decl {
	switch n.Type() {
	case "function_declaration":
		name := field(n, "name")
		return []decl{{name: name, kind: KindFunction, visibility: goVisibility(w.text(name)), body: field(n, "body")}}

	case "method_declaration":
		name := field(n, "name")
		return []decl{{
			name:       name,
			kind:       KindMethod,
			visibility: goVisibility(w.text(name)),
			body:       field(n, "body"),
			attachTo:   goReceiverType(w, field(n, "receiver")),
		}}

	case "type_spec", "type_alias":
		name := field(n, "name")
		typ := field(n, "type")
		d := decl{name: name, kind: KindType, visibility: goVisibility(w.text(name)), body: typ}
		if typ != nil {
			switch typ.Type() {
			case "struct_type":
				d.kind = KindStruct
				d.edges = goStructEmbeds(w, typ)
			case "interface_type":
				d.kind = KindInterface
				d.edges = goInterfaceEmbeds(typ)
			}
		}
		return []decl{d}

	case "method_spec", "method_elem":
		name := field(n, "name")
		return []decl{{name: name, kind: KindMethod, visibility: goVisibility(w.text(name))}}

	case "field_declaration":
		var out []decl
		for _, id := range childrenOfType(n, "field_identifier") {
			out = append(out, decl{name: id, kind: KindProperty, visibility: goVisibility(w.text(id))})
		}
		return out

	case "const_spec", "var_spec":
		if w.inCallable() {
			return nil
		}
		kind := KindVariable
		if n.Type() == "const_spec" {
			kind = KindConst
		}
		var out []decl
		for _, id := range childrenOfType(n, "identifier") {
			if w.text(id) == "_" {
				continue
			}
			out = append(out, decl{name: id, kind: kind, visibility: goVisibility(w.text(id))})
		}
		return out
	}
	return nil
}

// goReceiverType returns the base type name of a method receiver.
func goReceiverType(w *walker, receiver *sitter.Node) string {
	for _, p := range namedChildren(receiver) {
		if p.Type() != "parameter_declaration" {
			continue
		}
		if t := goTypeNameNode(field(p, "type")); t != nil {
			return w.text(t)
		}
	}
	return ""
}

// goTypeNameNode digs the named type out of pointer, generic and qualified
// type expressions.
func goTypeNameNode(n *sitter.Node) *sitter.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "type_identifier":
		return n
	case "pointer_type", "parenthesized_type":
		for _, c := range namedChildren(n) {
			if t := goTypeNameNode(c); t != nil {
				return t
			}
		}
	case "generic_type":
		return goTypeNameNode(field(n, "type"))
	case "qualified_type":
		return field(n, "name")
	}
	return nil
}

func goQualifierOf(w *walker, n *sitter.Node) string {
	if n != nil && n.Type() == "qualified_type" {
		return w.text(field(n, "package"))
	}
	return ""
}

func goStructEmbeds(w *walker, st *sitter.Node) []edgeSite {
	var out []edgeSite
	list := childOfType(st, "field_declaration_list")
	for _, fd := range childrenOfType(list, "field_declaration") {
		if childOfType(fd, "field_identifier") != nil {
			continue
		}
		typ := field(fd, "type")
		if typ != nil && typ.Type() == "pointer_type" && len(namedChildren(typ)) > 0 {
			typ = namedChildren(typ)[0]
		}
		if name := goTypeNameNode(typ); name != nil {
			out = append(out, edgeSite{name: name, qualifier: goQualifierOf(w, typ), kind: EdgeExtends})
		}
	}
	return out
}

func goInterfaceEmbeds(it *sitter.Node) []edgeSite {
	var out []edgeSite
	for _, c := range namedChildren(it) {
		switch c.Type() {
		case "method_spec", "method_elem", "comment":
			continue
		case "type_identifier":
			out = append(out, edgeSite{name: c, kind: EdgeExtends})
		default:
			// constraint_elem, type_elem, interface_type_name, qualified_type
			if ids := descendantsOfType(c, "type_identifier"); len(ids) > 0 {
				out = append(out, edgeSite{name: ids[0], kind: EdgeExtends})
			}
		}
	}
	return out
}

func goRefer(w *walker, n *sitter.Node) []refSite {
	switch n.Type() {
	case "call_expression":
		fn := field(n, "function")
		if fn == nil {
			return nil
		}
		switch fn.Type() {
		case "identifier":
			if goPredeclared[w.text(fn)] {
				return nil
			}
			return []refSite{{name: fn, ctx: ContextCall}}
		case "selector_expression":
			operand := field(fn, "operand")
			qual := ""
			if operand != nil && operand.Type() == "identifier" {
				qual = w.text(operand)
			}
			return []refSite{{name: field(fn, "field"), qualifier: qual, member: true, ctx: ContextCall}}
		}
	case "qualified_type":
		return []refSite{{name: field(n, "name"), qualifier: w.text(field(n, "package")), ctx: ContextType}}
	case "type_identifier":
		if goPredeclared[w.text(n)] {
			return nil
		}
		return []refSite{{name: n, ctx: ContextType}}
	}
	return nil
}
