package understory

import (
	"fmt"
	"sort"
)

// Graph is the neighborhood of a root symbol along one relation. Nodes and
// edges are bulk-loaded then traversed with BFS, with no recursive SQL or
// N+1 queries.
type Graph struct {
	Root  SymbolResult
	Nodes []GraphNode // reachable symbols, root excluded, each once
	Edges []GraphEdge // every link traversed
}

// GraphNode is a symbol in the graph with its distance from the root.
type GraphNode struct {
	Symbol SymbolResult
	Depth  int
}

// GraphEdge is one call site or relationship edge. From and To follow the
// relation's own direction (caller to callee, subtype to supertype)
// whichever way the graph was walked.
type GraphEdge struct {
	From     int64
	To       int64
	Kind     string // "call" or an edge kind
	Location Location
}

// link is a resolved edge in an adjacency index.
type link struct {
	from, to int64
	kind     string
	loc      Location
}

// adjacency indexes resolved links in both directions.
type adjacency struct {
	forward map[int64][]link // from -> links
	reverse map[int64][]link // to -> links
}

func newAdjacency(links []link) *adjacency {
	a := &adjacency{
		forward: make(map[int64][]link),
		reverse: make(map[int64][]link),
	}
	for _, l := range links {
		a.forward[l.from] = append(a.forward[l.from], l)
		a.reverse[l.to] = append(a.reverse[l.to], l)
	}
	return a
}

// callLinks bulk-loads every call reference and resolves it.
func (q *QueryBuilder) callLinks() ([]link, error) {
	refs, err := q.store.CallReferences()
	if err != nil {
		return nil, err
	}
	r := newResolver(q.store)
	if err := r.preload(); err != nil {
		return nil, err
	}
	var links []link
	for _, ref := range refs {
		dst, err := r.resolve(referenceTarget(ref))
		if err != nil {
			return nil, err
		}
		if dst == nil || dst.ID == *ref.FromSymbolID {
			continue
		}
		links = append(links, link{
			from: *ref.FromSymbolID,
			to:   dst.ID,
			kind: string(ref.Context),
			loc:  spanLocation(ref.Path, ref.Span),
		})
	}
	return links, nil
}

// Callers returns the symbols whose bodies call id: direct callers only,
// or the full transitive closure.
func (q *QueryBuilder) Callers(id int64, transitive bool) (*Graph, error) {
	links, err := q.callLinks()
	if err != nil {
		return nil, fmt.Errorf("callers: %w", err)
	}
	g, err := q.traverse(id, newAdjacency(links), false, transitive)
	if err != nil {
		return nil, fmt.Errorf("callers: %w", err)
	}
	return g, nil
}

// Callees returns the symbols id calls: direct callees only, or the full
// transitive closure.
func (q *QueryBuilder) Callees(id int64, transitive bool) (*Graph, error) {
	links, err := q.callLinks()
	if err != nil {
		return nil, fmt.Errorf("callees: %w", err)
	}
	g, err := q.traverse(id, newAdjacency(links), true, transitive)
	if err != nil {
		return nil, fmt.Errorf("callees: %w", err)
	}
	return g, nil
}

// traverse walks adj from root with BFS, forward along links or in
// reverse. Each node is visited once, so cycles terminate.
func (q *QueryBuilder) traverse(root int64, adj *adjacency, forward, transitive bool) (*Graph, error) {
	rootSym, err := q.SymbolByID(root)
	if err != nil {
		return nil, err
	}

	maxDepth := 1
	if transitive {
		maxDepth = -1
	}

	visited := map[int64]int{root: 0} // symbol ID -> depth
	type bfsEntry struct {
		id    int64
		depth int
	}
	queue := []bfsEntry{{id: root, depth: 0}}
	var traversed []link

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if maxDepth >= 0 && current.depth >= maxDepth {
			continue
		}

		next := adj.reverse[current.id]
		if forward {
			next = adj.forward[current.id]
		}
		for _, l := range next {
			traversed = append(traversed, l)
			neighbor := l.from
			if forward {
				neighbor = l.to
			}
			if _, seen := visited[neighbor]; !seen {
				visited[neighbor] = current.depth + 1
				queue = append(queue, bfsEntry{id: neighbor, depth: current.depth + 1})
			}
		}
	}

	nodeIDs := make([]int64, 0, len(visited)-1)
	for id := range visited {
		if id != root {
			nodeIDs = append(nodeIDs, id)
		}
	}
	syms, err := q.store.SymbolsByIDs(nodeIDs)
	if err != nil {
		return nil, fmt.Errorf("load symbols: %w", err)
	}
	results, err := q.withContainers(syms)
	if err != nil {
		return nil, err
	}

	g := &Graph{Root: *rootSym, Nodes: []GraphNode{}, Edges: []GraphEdge{}}
	for _, sr := range results {
		g.Nodes = append(g.Nodes, GraphNode{Symbol: sr, Depth: visited[sr.ID]})
	}
	// SymbolsByIDs returns the common ordering; keep it within each depth.
	sort.SliceStable(g.Nodes, func(i, j int) bool { return g.Nodes[i].Depth < g.Nodes[j].Depth })

	g.Edges = graphEdges(traversed)
	return g, nil
}

// graphEdges orders links by location and drops repeats.
func graphEdges(links []link) []GraphEdge {
	sort.SliceStable(links, func(i, j int) bool {
		a, b := links[i].loc, links[j].loc
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Start.Line != b.Start.Line {
			return a.Start.Line < b.Start.Line
		}
		return a.Start.Column < b.Start.Column
	})
	type edgeKey struct {
		from, to int64
		file     string
		off      int
	}
	seen := make(map[edgeKey]bool)
	out := []GraphEdge{}
	for _, l := range links {
		k := edgeKey{l.from, l.to, l.loc.File, l.loc.Start.Byte}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, GraphEdge{From: l.from, To: l.to, Kind: l.kind, Location: l.loc})
	}
	return out
}
