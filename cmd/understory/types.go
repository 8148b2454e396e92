package main

import (
	"time"

	"github.com/jward/understory"
	"github.com/jward/understory/internal/daemon"
)

// CLIResult is the top-level JSON envelope for every command.
type CLIResult struct {
	Command     string   `json:"command"`
	Results     any      `json:"results"`
	TotalCount  *int     `json:"total_count,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// CLISymbol is a JSON-friendly symbol. Lines and columns are 1-based.
type CLISymbol struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Qualifier  string `json:"qualifier,omitempty"`
	Visibility string `json:"visibility,omitempty"`
	Signature  string `json:"signature,omitempty"`
	Container  string `json:"container,omitempty"`
	File       string `json:"file"`
	StartLine  int    `json:"start_line"`
	StartCol   int    `json:"start_col"`
	EndLine    int    `json:"end_line"`
	EndCol     int    `json:"end_col"`
}

// CLILocation is a span, optionally tagged with how it was found.
type CLILocation struct {
	File       string `json:"file"`
	StartLine  int    `json:"start_line"`
	StartCol   int    `json:"start_col"`
	EndLine    int    `json:"end_line"`
	EndCol     int    `json:"end_col"`
	Provenance string `json:"provenance,omitempty"`
	Context    string `json:"context,omitempty"`
}

// CLIGraph is a call or type-hierarchy neighborhood.
type CLIGraph struct {
	Root  CLISymbol      `json:"root"`
	Nodes []CLIGraphNode `json:"nodes"`
	Edges []CLIGraphEdge `json:"edges"`
}

type CLIGraphNode struct {
	CLISymbol
	Depth int `json:"depth"`
}

type CLIGraphEdge struct {
	From int64  `json:"from"`
	To   int64  `json:"to"`
	Kind string `json:"kind"`
	File string `json:"file"`
	Line int    `json:"line"`
	Col  int    `json:"col"`
}

type CLIImplementation struct {
	CLISymbol
	Provenance string `json:"provenance"`
}

// CLIEdit is one rename edit. Bytes are half-open offsets; lines and
// columns are inclusive.
type CLIEdit struct {
	File       string `json:"file"`
	StartLine  int    `json:"start_line"`
	StartCol   int    `json:"start_col"`
	EndLine    int    `json:"end_line"`
	EndCol     int    `json:"end_col"`
	StartByte  int    `json:"start_byte"`
	EndByte    int    `json:"end_byte"`
	OldText    string `json:"old_text"`
	NewText    string `json:"new_text"`
	Provenance string `json:"provenance"`
}

type CLIDuplicateGroup struct {
	Hash    string      `json:"hash"`
	Members []CLISymbol `json:"members"`
}

type CLIInclude struct {
	Includer string `json:"includer"`
	Target   string `json:"target"`
	File     string `json:"file,omitempty"`
	Depth    int    `json:"depth"`
	Resolved bool   `json:"resolved"`
	System   bool   `json:"system"`
	Line     int    `json:"line"`
}

type CLIStats struct {
	Files       int            `json:"files"`
	Symbols     int            `json:"symbols"`
	Edges       int            `json:"edges"`
	References  int            `json:"references"`
	Includes    int            `json:"includes"`
	Languages   map[string]int `json:"languages"`
	Kinds       map[string]int `json:"kinds"`
	TestFiles   int            `json:"test_files"`
	SourceFiles int            `json:"source_files"`
	LastUpdate  time.Time      `json:"last_update,omitzero"`
}

type CLIKeyType struct {
	CLISymbol
	MethodCount int `json:"method_count"`
}

type CLIStructureNode struct {
	CLISymbol
	Children []CLIStructureNode `json:"children,omitempty"`
}

type CLIFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type CLIIndexSummary struct {
	Discovered     int          `json:"discovered"`
	Indexed        int          `json:"indexed"`
	Unchanged      int          `json:"unchanged"`
	Removed        int          `json:"removed"`
	Failed         []CLIFailure `json:"failed,omitempty"`
	Symbols        int          `json:"symbols"`
	DurationMs     int64        `json:"duration_ms"`
	FilesPerSecond float64      `json:"files_per_second"`
}

type CLIStatus struct {
	Root       string        `json:"root"`
	DB         string        `json:"db"`
	Indexed    bool          `json:"indexed"`
	Files      int           `json:"files"`
	Symbols    int           `json:"symbols"`
	LastUpdate time.Time     `json:"last_update,omitzero"`
	Daemon     daemon.Status `json:"daemon"`
}

// --- Conversions ---

func symbolToCLI(sr understory.SymbolResult) CLISymbol {
	return CLISymbol{
		ID:         sr.ID,
		Name:       sr.Name,
		Kind:       string(sr.Kind),
		Qualifier:  sr.Qualifier,
		Visibility: sr.Visibility,
		Signature:  sr.Signature,
		Container:  sr.Container,
		File:       sr.Path,
		StartLine:  sr.Span.Start.Line,
		StartCol:   sr.Span.Start.Column,
		EndLine:    sr.Span.End.Line,
		EndCol:     sr.Span.End.Column,
	}
}

func symbolsToCLI(results []understory.SymbolResult) []CLISymbol {
	out := make([]CLISymbol, len(results))
	for i, r := range results {
		out[i] = symbolToCLI(r)
	}
	return out
}

func locationToCLI(loc understory.Location) CLILocation {
	return CLILocation{
		File:      loc.File,
		StartLine: loc.Start.Line,
		StartCol:  loc.Start.Column,
		EndLine:   loc.End.Line,
		EndCol:    loc.End.Column,
	}
}

func graphToCLI(g *understory.Graph) CLIGraph {
	out := CLIGraph{
		Root:  symbolToCLI(g.Root),
		Nodes: make([]CLIGraphNode, len(g.Nodes)),
		Edges: make([]CLIGraphEdge, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = CLIGraphNode{CLISymbol: symbolToCLI(n.Symbol), Depth: n.Depth}
	}
	for i, e := range g.Edges {
		out.Edges[i] = CLIGraphEdge{
			From: e.From,
			To:   e.To,
			Kind: e.Kind,
			File: e.Location.File,
			Line: e.Location.Start.Line,
			Col:  e.Location.Start.Column,
		}
	}
	return out
}

func structureToCLI(nodes []*understory.StructureNode) []CLIStructureNode {
	out := make([]CLIStructureNode, len(nodes))
	for i, n := range nodes {
		out[i] = CLIStructureNode{CLISymbol: symbolToCLI(n.Symbol), Children: structureToCLI(n.Children)}
	}
	return out
}

func summaryToCLI(s *understory.IndexSummary) CLIIndexSummary {
	out := CLIIndexSummary{
		Discovered:     s.Discovered,
		Indexed:        s.Indexed,
		Unchanged:      s.Unchanged,
		Removed:        s.Removed,
		Symbols:        s.Symbols,
		DurationMs:     s.Duration.Milliseconds(),
		FilesPerSecond: s.FilesPerSecond(),
	}
	for _, f := range s.Failed {
		out.Failed = append(out.Failed, CLIFailure{Path: f.Path, Error: f.Err.Error()})
	}
	return out
}
