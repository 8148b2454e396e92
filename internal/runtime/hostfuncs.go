package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"
)

// parsedTree is a tree a script produced with parse_src, together with the
// source and grammar needed to read its nodes back.
type parsedTree struct {
	tree *sitter.Tree
	src  []byte
	lang *sitter.Language
}

// treeRegistry owns the trees of one script run. smacker/go-tree-sitter
// has no Node.Tree(), so trees are keyed by their root node pointer and a
// node finds its tree by climbing Parent() to the root.
type treeRegistry struct {
	mu     sync.RWMutex
	byRoot map[uintptr]*parsedTree
}

func newTreeRegistry() *treeRegistry {
	return &treeRegistry{byRoot: make(map[uintptr]*parsedTree)}
}

func rootKey(node *sitter.Node) uintptr {
	for p := node.Parent(); p != nil; p = node.Parent() {
		node = p
	}
	return uintptr(unsafe.Pointer(node))
}

func (r *treeRegistry) add(pt *parsedTree) {
	r.mu.Lock()
	r.byRoot[uintptr(unsafe.Pointer(pt.tree.RootNode()))] = pt
	r.mu.Unlock()
}

func (r *treeRegistry) lookup(node *sitter.Node) (*parsedTree, bool) {
	key := rootKey(node)
	r.mu.RLock()
	pt, ok := r.byRoot[key]
	r.mu.RUnlock()
	return pt, ok
}

// release closes every tree of the run.
func (r *treeRegistry) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pt := range r.byRoot {
		pt.tree.Close()
	}
	clear(r.byRoot)
}

// --- Argument helpers ---

// proxiedNode unwraps a Risor proxy around a *sitter.Node.
func proxiedNode(arg object.Object) (*sitter.Node, error) {
	p, ok := arg.(*object.Proxy)
	if !ok {
		return nil, fmt.Errorf("expected a node, got %s", arg.Type())
	}
	node, ok := p.Interface().(*sitter.Node)
	if !ok {
		return nil, fmt.Errorf("expected a node, got %T", p.Interface())
	}
	return node, nil
}

func stringArg(arg object.Object, what string) (string, error) {
	s, ok := arg.(*object.String)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %s", what, arg.Type())
	}
	return s.Value(), nil
}

// treeOf resolves the parsed tree that node belongs to.
func (r *treeRegistry) treeOf(arg object.Object) (*sitter.Node, *parsedTree, error) {
	node, err := proxiedNode(arg)
	if err != nil {
		return nil, nil, err
	}
	pt, ok := r.lookup(node)
	if !ok {
		return nil, nil, fmt.Errorf("node does not belong to a tree parsed by this script")
	}
	return node, pt, nil
}

func proxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		return object.Errorf("proxy: %v", err)
	}
	return p
}

// --- Host functions ---

// parse_src(source, language) -> Tree
func (r *treeRegistry) parseFn() *object.Builtin {
	return object.NewBuiltin("parse_src", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("parse_src", 2, len(args))
		}
		src, err := stringArg(args[0], "source")
		if err != nil {
			return object.Errorf("parse_src: %v", err)
		}
		name, err := stringArg(args[1], "language")
		if err != nil {
			return object.Errorf("parse_src: %v", err)
		}
		grammar, ok := grammarFor(name)
		if !ok {
			return object.Errorf("parse_src: unsupported language %q", name)
		}

		parser := sitter.NewParser()
		defer parser.Close()
		parser.SetLanguage(grammar)
		data := []byte(src)
		tree, err := parser.ParseCtx(ctx, nil, data)
		if err != nil {
			return object.Errorf("parse_src: %v", err)
		}
		if tree == nil {
			return object.Errorf("parse_src: no tree produced")
		}
		r.add(&parsedTree{tree: tree, src: data, lang: grammar})
		return proxy(tree)
	})
}

// node_text(node) -> string. Proxies cannot pass a []byte to
// Node.Content, so the source comes from the registry.
func (r *treeRegistry) textFn() *object.Builtin {
	return object.NewBuiltin("node_text", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_text", 1, len(args))
		}
		node, pt, err := r.treeOf(args[0])
		if err != nil {
			return object.Errorf("node_text: %v", err)
		}
		return object.NewString(node.Content(pt.src))
	})
}

// query(pattern, node) -> [{capture: Node}]
func (r *treeRegistry) queryFn() *object.Builtin {
	return object.NewBuiltin("query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("query", 2, len(args))
		}
		pattern, err := stringArg(args[0], "pattern")
		if err != nil {
			return object.Errorf("query: %v", err)
		}
		node, pt, err := r.treeOf(args[1])
		if err != nil {
			return object.Errorf("query: %v", err)
		}
		q, err := sitter.NewQuery([]byte(pattern), pt.lang)
		if err != nil {
			return object.Errorf("query: invalid pattern: %v", err)
		}
		defer q.Close()

		cursor := sitter.NewQueryCursor()
		defer cursor.Close()
		cursor.Exec(q, node)

		matches := []object.Object{}
		for {
			match, ok := cursor.NextMatch()
			if !ok {
				break
			}
			match = cursor.FilterPredicates(match, pt.src)
			captures := make(map[string]object.Object, len(match.Captures))
			for _, c := range match.Captures {
				captures[q.CaptureNameForId(c.Index)] = proxy(c.Node)
			}
			matches = append(matches, object.NewMap(captures))
		}
		return object.NewList(matches)
	})
}

// node_child(node, field) -> Node | nil. A missing field is Risor nil
// rather than a proxied nil pointer.
func nodeChildFn() *object.Builtin {
	return object.NewBuiltin("node_child", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("node_child", 2, len(args))
		}
		node, err := proxiedNode(args[0])
		if err != nil {
			return object.Errorf("node_child: %v", err)
		}
		field, err := stringArg(args[1], "field")
		if err != nil {
			return object.Errorf("node_child: %v", err)
		}
		child := node.ChildByFieldName(field)
		if child == nil {
			return object.Nil
		}
		return proxy(child)
	})
}

// scriptLog is the scripts' log global.
type scriptLog struct {
	logger *slog.Logger
	script string
}

func (l *scriptLog) Info(msg string)  { l.emit(slog.LevelInfo, msg) }
func (l *scriptLog) Warn(msg string)  { l.emit(slog.LevelWarn, msg) }
func (l *scriptLog) Error(msg string) { l.emit(slog.LevelError, msg) }

func (l *scriptLog) emit(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, "script.log", "script", l.script, "text", msg)
}
