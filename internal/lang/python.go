package lang

import (
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
)

var pythonGrammar = &grammar{
	separator: ".",
	comments:  map[string]bool{"comment": true},
	declare:   pyDeclare,
	refer:     pyRefer,
}

var pyBuiltins = map[string]bool{
	"print": true, "len": true, "range": true, "str": true, "int": true,
	"float": true, "bool": true, "list": true, "dict": true, "set": true,
	"tuple": true, "isinstance": true, "super": true, "type": true,
	"object": true, "enumerate": true, "zip": true, "open": true,
	"getattr": true, "setattr": true, "hasattr": true, "sorted": true,
	"min": true, "max": true, "sum": true, "any": true, "all": true,
	"map": true, "filter": true, "repr": true, "iter": true, "next": true,
	"bytes": true, "None": true,
}

func pyVisibility(name string) string {
	if strings.HasPrefix(name, "_") && !(strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")) {
		return "private"
	}
	return "public"
}

func pyDeclare(w *walker, n *sitter.Node) []decl {
	switch n.Type() {
	case "function_definition":
		name := field(n, "name")
		kind := KindFunction
		if w.inTypeBody() {
			kind = KindMethod
		}
		return []decl{{name: name, kind: kind, visibility: pyVisibility(w.text(name)), body: field(n, "body")}}

	case "class_definition":
		name := field(n, "name")
		var edges []edgeSite
		for _, arg := range namedChildren(field(n, "superclasses")) {
			switch arg.Type() {
			case "identifier":
				edges = append(edges, edgeSite{name: arg, kind: EdgeExtends})
			case "attribute":
				edges = append(edges, edgeSite{name: field(arg, "attribute"), qualifier: w.text(field(arg, "object")), kind: EdgeExtends})
			}
		}
		return []decl{{name: name, kind: KindClass, visibility: pyVisibility(w.text(name)), body: field(n, "body"), edges: edges}}

	case "assignment":
		if w.inCallable() || !hasParentType(n, "expression_statement") {
			return nil
		}
		left := field(n, "left")
		if left == nil || left.Type() != "identifier" {
			return nil
		}
		name := w.text(left)
		kind := KindVariable
		switch {
		case w.inTypeBody():
			kind = KindProperty
		case isUpperSnake(name):
			kind = KindConst
		}
		return []decl{{name: left, kind: kind, visibility: pyVisibility(name)}}
	}
	return nil
}

func isUpperSnake(s string) bool {
	hasLetter := false
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			hasLetter = true
		case r == '_' || unicode.IsDigit(r):
		default:
			return false
		}
	}
	return hasLetter
}

func pyRefer(w *walker, n *sitter.Node) []refSite {
	switch n.Type() {
	case "call":
		fn := field(n, "function")
		if fn == nil {
			return nil
		}
		switch fn.Type() {
		case "identifier":
			if pyBuiltins[w.text(fn)] {
				return nil
			}
			return []refSite{{name: fn, ctx: ContextCall}}
		case "attribute":
			obj := field(fn, "object")
			qual := ""
			if obj != nil && obj.Type() == "identifier" {
				qual = w.text(obj)
			}
			return []refSite{{name: field(fn, "attribute"), qualifier: qual, member: true, ctx: ContextCall}}
		}
	case "type":
		var out []refSite
		for _, id := range descendantsOfType(n, "identifier", "attribute") {
			if id.Type() == "attribute" {
				out = append(out, refSite{name: field(id, "attribute"), qualifier: w.text(field(id, "object")), ctx: ContextType})
				continue
			}
			if pyBuiltins[w.text(id)] {
				continue
			}
			out = append(out, refSite{name: id, ctx: ContextType})
		}
		return out
	}
	return nil
}
