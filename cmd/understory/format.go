package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
)

// formatSymbolsText formats CLISymbol results as aligned columns.
func formatSymbolsText(w io.Writer, syms []CLISymbol) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tCONTAINER\tFILE\tLINE")
	for _, s := range syms {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n",
			s.ID, s.Name, s.Kind, s.Container, s.File, s.StartLine)
	}
	tw.Flush()
}

// formatLocationsText formats CLILocation results as "file:line:col" lines.
func formatLocationsText(w io.Writer, locs []CLILocation) {
	for _, loc := range locs {
		fmt.Fprintf(w, "%s:%d:%d", loc.File, loc.StartLine, loc.StartCol)
		if loc.Provenance != "" && loc.Provenance != "linked" {
			fmt.Fprintf(w, " (%s)", loc.Provenance)
		}
		fmt.Fprintln(w)
	}
}

func formatGraphText(w io.Writer, g CLIGraph) {
	fmt.Fprintf(w, "%s (%s) %s:%d\n", g.Root.Name, g.Root.Kind, g.Root.File, g.Root.StartLine)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEPTH\tID\tNAME\tKIND\tFILE\tLINE")
	for _, n := range g.Nodes {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%d\n",
			n.Depth, n.ID, n.Name, n.Kind, n.File, n.StartLine)
	}
	tw.Flush()
}

func formatEditsText(w io.Writer, edits []CLIEdit) {
	for _, e := range edits {
		fmt.Fprintf(w, "%s:%d:%d-%d: %s -> %s", e.File, e.StartLine, e.StartCol, e.EndCol, e.OldText, e.NewText)
		if e.Provenance != "linked" {
			fmt.Fprintf(w, " (%s)", e.Provenance)
		}
		fmt.Fprintln(w)
	}
}

func formatImplementationsText(w io.Writer, impls []CLIImplementation) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tFILE\tLINE\tPROVENANCE")
	for _, im := range impls {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			im.ID, im.Name, im.Kind, im.File, im.StartLine, im.Provenance)
	}
	tw.Flush()
}

func formatDuplicatesText(w io.Writer, groups []CLIDuplicateGroup) {
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%d members)\n", g.Hash, len(g.Members))
		for _, m := range g.Members {
			fmt.Fprintf(w, "  %s %s %s:%d\n", m.Kind, m.Name, m.File, m.StartLine)
		}
	}
}

func formatIncludesText(w io.Writer, incs []CLIInclude) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEPTH\tINCLUDER\tLINE\tTARGET\tRESOLVED")
	for _, inc := range incs {
		target := inc.Target
		if inc.System {
			target = "<" + target + ">"
		}
		resolved := inc.File
		if resolved == "" {
			resolved = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", inc.Depth, inc.Includer, inc.Line, target, resolved)
	}
	tw.Flush()
}

func formatStatsText(w io.Writer, st CLIStats) {
	fmt.Fprintln(w, "Index Summary")
	fmt.Fprintln(w, "=============")
	fmt.Fprintf(w, "Files: %d (%d source, %d test)\n", st.Files, st.SourceFiles, st.TestFiles)
	fmt.Fprintf(w, "Symbols: %d\n", st.Symbols)
	fmt.Fprintf(w, "Edges: %d\n", st.Edges)
	fmt.Fprintf(w, "References: %d\n", st.References)
	fmt.Fprintf(w, "Includes: %d\n", st.Includes)
	if !st.LastUpdate.IsZero() {
		fmt.Fprintf(w, "Last update: %s\n", st.LastUpdate.Local().Format("2006-01-02 15:04:05"))
	}
	writeCounts(w, "Languages", st.Languages)
	writeCounts(w, "Symbol Kinds", st.Kinds)
}

func writeCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", title)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %d\n", k, counts[k])
	}
}

func formatKeyTypesText(w io.Writer, types []CLIKeyType) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METHODS\tNAME\tKIND\tFILE\tLINE")
	for _, kt := range types {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", kt.MethodCount, kt.Name, kt.Kind, kt.File, kt.StartLine)
	}
	tw.Flush()
}

func formatStructureText(w io.Writer, nodes []CLIStructureNode, depth int) {
	for _, n := range nodes {
		fmt.Fprintf(w, "%s%s %s  %d-%d\n", strings.Repeat("  ", depth), n.Kind, n.Name, n.StartLine, n.EndLine)
		formatStructureText(w, n.Children, depth+1)
	}
}

func formatSummaryText(w io.Writer, s CLIIndexSummary) {
	fmt.Fprintf(w, "Indexed %d of %d files (%d unchanged, %d removed) in %dms, %.0f files/s\n",
		s.Indexed, s.Discovered, s.Unchanged, s.Removed, s.DurationMs, s.FilesPerSecond)
	fmt.Fprintf(w, "Symbols: %d\n", s.Symbols)
	for _, f := range s.Failed {
		fmt.Fprintf(w, "failed: %s: %s\n", f.Path, f.Error)
	}
}

func formatStatusText(w io.Writer, st CLIStatus) {
	fmt.Fprintf(w, "Root: %s\n", st.Root)
	fmt.Fprintf(w, "Database: %s\n", st.DB)
	if st.Indexed {
		fmt.Fprintf(w, "Files: %d\nSymbols: %d\n", st.Files, st.Symbols)
		if !st.LastUpdate.IsZero() {
			fmt.Fprintf(w, "Last update: %s\n", st.LastUpdate.Local().Format("2006-01-02 15:04:05"))
		}
	} else {
		fmt.Fprintln(w, "Not indexed")
	}
	if st.Daemon.Running {
		fmt.Fprintf(w, "Daemon: %s (pid %d, run %s, version %s)\n",
			st.Daemon.State, st.Daemon.PID, st.Daemon.RunID, st.Daemon.Version)
	} else {
		fmt.Fprintln(w, "Daemon: stopped")
	}
}

// outputResultText dispatches to the text formatter for the result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []CLISymbol:
		formatSymbolsText(w, v)
	case CLISymbol:
		formatSymbolsText(w, []CLISymbol{v})
	case []CLILocation:
		formatLocationsText(w, v)
	case CLIGraph:
		formatGraphText(w, v)
	case []CLIEdit:
		formatEditsText(w, v)
	case []CLIImplementation:
		formatImplementationsText(w, v)
	case []CLIDuplicateGroup:
		formatDuplicatesText(w, v)
	case []CLIInclude:
		formatIncludesText(w, v)
	case CLIStats:
		formatStatsText(w, v)
	case []CLIKeyType:
		formatKeyTypesText(w, v)
	case []CLIStructureNode:
		formatStructureText(w, v, 0)
	case CLIIndexSummary:
		formatSummaryText(w, v)
	case CLIStatus:
		formatStatusText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}

	if result.TotalCount != nil {
		count := *result.TotalCount
		if shown := resultLen(result.Results); shown < count {
			fmt.Fprintf(w, "\nShowing %d of %d results\n", shown, count)
		}
	}
	if len(result.Suggestions) > 0 {
		fmt.Fprintf(w, "\nDid you mean: %s\n", strings.Join(result.Suggestions, ", "))
	}
	return nil
}

// resultLen returns the length of a result slice, or 1 for a single value.
func resultLen(v any) int {
	switch r := v.(type) {
	case []CLISymbol:
		return len(r)
	case []CLILocation:
		return len(r)
	case CLIGraph:
		return len(r.Nodes)
	case []CLIEdit:
		return len(r)
	case []CLIImplementation:
		return len(r)
	case []CLIDuplicateGroup:
		return len(r)
	case []CLIInclude:
		return len(r)
	case []CLIKeyType:
		return len(r)
	case nil:
		return 0
	default:
		return 1
	}
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
