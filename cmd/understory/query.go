package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jward/understory"
)

// queryFlags are shared by every query subcommand.
type queryFlags struct {
	limit  int
	offset int
}

func (c *cli) queryCmd() *cobra.Command {
	qf := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query the index",
		Long:  "Run structural queries against an indexed workspace. Lines and columns are 1-based; columns count bytes.",
	}
	cmd.PersistentFlags().IntVar(&qf.limit, "limit", 0, "pagination limit (default from config, max 500)")
	cmd.PersistentFlags().IntVar(&qf.offset, "offset", 0, "pagination offset")

	cmd.AddCommand(
		c.symbolsCmd(qf),
		c.symbolAtCmd(),
		c.definitionCmd(),
		c.usagesCmd(),
		c.renameCmd(),
		c.graphCmd("callers", "Find the callers of a function", (*understory.QueryBuilder).Callers),
		c.graphCmd("callees", "Find the functions a function calls", (*understory.QueryBuilder).Callees),
		c.graphCmd("supertypes", "Find what a type extends or implements", (*understory.QueryBuilder).Supertypes),
		c.graphCmd("subtypes", "Find what extends or implements a type", (*understory.QueryBuilder).Subtypes),
		c.implementationsCmd(),
		c.duplicatesCmd(),
		c.includeCmd("includes", "List the includes of a file", (*understory.QueryBuilder).Includes),
		c.includeCmd("includers", "List the files including a file", (*understory.QueryBuilder).Includers),
		c.statsCmd(),
		c.keyTypesCmd(),
		c.structureCmd(),
	)
	return cmd
}

// --- Helpers ---

// withQuery opens the existing index and runs fn against its query builder.
func (c *cli) withQuery(command string, fn func(q *understory.QueryBuilder) error) error {
	e, err := c.openEngine(true)
	if err != nil {
		return c.fail(command, err)
	}
	defer e.Close()
	if err := fn(e.Query()); err != nil {
		return c.fail(command, err)
	}
	return nil
}

// resolveFilePath converts a file argument to an absolute path relative to
// the working directory.
func resolveFilePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", file, err)
	}
	return abs, nil
}

// parseIntArg parses a positional argument as a positive integer.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", name, value)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s %q: positions are 1-based", name, value)
	}
	return n, nil
}

// parsePosition parses <file> <line> <col>.
func parsePosition(args []string) (file string, line, col int, err error) {
	if len(args) < 3 {
		return "", 0, 0, fmt.Errorf("requires <file> <line> <col>")
	}
	if file, err = resolveFilePath(args[0]); err != nil {
		return "", 0, 0, err
	}
	if line, err = parseIntArg(args[1], "line"); err != nil {
		return "", 0, 0, err
	}
	if col, err = parseIntArg(args[2], "col"); err != nil {
		return "", 0, 0, err
	}
	return file, line, col, nil
}

// resolveSymbolID takes the --symbol flag, or the symbol at <file> <line>
// <col>.
func resolveSymbolID(cmd *cobra.Command, args []string, q *understory.QueryBuilder) (int64, error) {
	if id, _ := cmd.Flags().GetInt64("symbol"); id != 0 {
		return id, nil
	}
	if len(args) < 3 {
		return 0, fmt.Errorf("requires either <file> <line> <col> arguments or --symbol flag")
	}
	file, line, col, err := parsePosition(args)
	if err != nil {
		return 0, err
	}
	sym, err := q.SymbolAt(file, line, col)
	if err != nil {
		return 0, err
	}
	return sym.ID, nil
}

func (c *cli) output(result CLIResult) error {
	if c.flagFormat == "text" {
		return outputResultText(c.stdout, result)
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// fail writes err in the selected format and returns it so RunE can
// propagate it to cobra. In JSON mode the error goes to stdout inside a
// CLIResult envelope; in text mode it goes to stderr.
func (c *cli) fail(command string, err error) error {
	c.errorHandled = true
	if c.flagFormat == "text" {
		fmt.Fprintf(c.stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

func count(n int) *int { return &n }

func kindsOf(names []string) []understory.Kind {
	kinds := make([]understory.Kind, len(names))
	for i, n := range names {
		kinds[i] = understory.Kind(n)
	}
	return kinds
}

// --- Search ---

func (c *cli) symbolsCmd(qf *queryFlags) *cobra.Command {
	var (
		f         understory.SymbolQuery
		kinds     []string
		container int64
	)
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "Search symbols by name, kind, path and container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery("symbols", func(q *understory.QueryBuilder) error {
				f.Kinds = kindsOf(kinds)
				if container != 0 {
					f.ContainerID = &container
				}
				res, err := q.Symbols(f, understory.Pagination{Offset: qf.offset, Limit: qf.limit})
				if err != nil {
					return err
				}
				return c.output(CLIResult{
					Command:     "symbols",
					Results:     symbolsToCLI(res.Items),
					TotalCount:  count(res.TotalCount),
					Suggestions: res.Suggestions,
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "exact name")
	cmd.Flags().StringVar(&f.Pattern, "pattern", "", "name glob, e.g. 'New*'")
	cmd.Flags().StringVar(&f.Substring, "substring", "", "name substring")
	cmd.Flags().BoolVar(&f.CaseSensitive, "case-sensitive", false, "case-sensitive pattern and substring matching")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "symbol kinds (repeatable)")
	cmd.Flags().StringVar(&f.PathGlob, "path", "", "doublestar glob over file paths")
	cmd.Flags().StringVar(&f.NamespacePrefix, "namespace", "", "qualifier prefix, e.g. 'pkg.Type'")
	cmd.Flags().Int64Var(&container, "container", 0, "direct children of this symbol ID")
	cmd.Flags().StringVar(&f.Visibility, "visibility", "", "public|private|protected|internal")
	return cmd
}

// --- Position ---

func (c *cli) symbolAtCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "symbol-at <file> <line> <col>",
		Short: "Find the innermost symbol at a position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery("symbol-at", func(q *understory.QueryBuilder) error {
				file, line, col, err := parsePosition(args)
				if err != nil {
					return err
				}
				sym, err := q.SymbolAt(file, line, col)
				if err != nil {
					return err
				}
				return c.output(CLIResult{Command: "symbol-at", Results: symbolToCLI(*sym), TotalCount: count(1)})
			})
		},
	}
}

func (c *cli) definitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "definition <file> <line> <col>",
		Short: "Find the definition of the reference at a position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery("definition", func(q *understory.QueryBuilder) error {
				file, line, col, err := parsePosition(args)
				if err != nil {
					return err
				}
				sym, err := q.DefinitionAt(file, line, col)
				if err != nil {
					return err
				}
				return c.output(CLIResult{Command: "definition", Results: symbolToCLI(*sym), TotalCount: count(1)})
			})
		},
	}
}

// --- Usages and rename ---

func (c *cli) usagesCmd() *cobra.Command {
	var linkedOnly bool
	cmd := &cobra.Command{
		Use:   "usages [<file> <line> <col>]",
		Short: "Find the usages of a symbol",
		Long:  "Accepts either <file> <line> <col> positional args or --symbol <id>. With no linked usages, indexed files are scanned for the name.",
		Args:  cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery("usages", func(q *understory.QueryBuilder) error {
				uq := understory.UsageQuery{LinkedOnly: linkedOnly}
				if id, _ := cmd.Flags().GetInt64("symbol"); id != 0 {
					uq.SymbolID = id
				} else {
					file, line, col, err := parsePosition(args)
					if err != nil {
						return err
					}
					uq.File, uq.Line, uq.Col = file, line, col
				}
				usages, err := q.Usages(uq)
				if err != nil {
					return err
				}
				locs := make([]CLILocation, len(usages))
				for i, u := range usages {
					locs[i] = locationToCLI(u.Location)
					locs[i].Provenance = string(u.Provenance)
					locs[i].Context = u.Context
				}
				return c.output(CLIResult{Command: "usages", Results: locs, TotalCount: count(len(locs))})
			})
		},
	}
	cmd.Flags().Int64("symbol", 0, "symbol ID to query")
	cmd.Flags().BoolVar(&linkedOnly, "linked-only", false, "skip the name-scan fallback")
	return cmd
}

func (c *cli) renameCmd() *cobra.Command {
	var nameScan bool
	cmd := &cobra.Command{
		Use:   "rename <file> <line> <col> <new-name>",
		Short: "Compute the edits renaming a symbol",
		Long:  "Prints the edits; no file is modified.",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery("rename", func(q *understory.QueryBuilder) error {
				file, line, col, err := parsePosition(args[:3])
				if err != nil {
					return err
				}
				edits, err := q.Rename(file, line, col, args[3], understory.RenameOptions{IncludeNameScan: nameScan})
				if err != nil {
					return err
				}
				out := make([]CLIEdit, len(edits))
				for i, e := range edits {
					out[i] = CLIEdit{
						File:       e.File,
						StartLine:  e.Start.Line,
						StartCol:   e.Start.Column,
						EndLine:    e.End.Line,
						EndCol:     e.End.Column,
						StartByte:  e.Start.Byte,
						EndByte:    e.End.Byte,
						OldText:    e.OldText,
						NewText:    e.NewText,
						Provenance: string(e.Provenance),
					}
				}
				return c.output(CLIResult{Command: "rename", Results: out, TotalCount: count(len(out))})
			})
		},
	}
	cmd.Flags().BoolVar(&nameScan, "name-scan", false, "also rename unlinked occurrences found by name scan")
	return cmd
}

// --- Graphs ---

type graphQuery func(q *understory.QueryBuilder, id int64, transitive bool) (*understory.Graph, error)

func (c *cli) graphCmd(name, short string, query graphQuery) *cobra.Command {
	var transitive bool
	cmd := &cobra.Command{
		Use:   name + " [<file> <line> <col>]",
		Short: short,
		Long:  "Accepts either <file> <line> <col> positional args or --symbol <id>.",
		Args:  cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery(name, func(q *understory.QueryBuilder) error {
				id, err := resolveSymbolID(cmd, args, q)
				if err != nil {
					return err
				}
				g, err := query(q, id, transitive)
				if err != nil {
					return err
				}
				return c.output(CLIResult{Command: name, Results: graphToCLI(g), TotalCount: count(len(g.Nodes))})
			})
		},
	}
	cmd.Flags().Int64("symbol", 0, "symbol ID to query")
	cmd.Flags().BoolVarP(&transitive, "transitive", "t", false, "follow the relation transitively")
	return cmd
}

func (c *cli) implementationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "implementations [<file> <line> <col>]",
		Short: "Find the implementations of an interface or trait",
		Long:  "Accepts either <file> <line> <col> positional args or --symbol <id>.",
		Args:  cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery("implementations", func(q *understory.QueryBuilder) error {
				id, err := resolveSymbolID(cmd, args, q)
				if err != nil {
					return err
				}
				impls, err := q.Implementations(id)
				if err != nil {
					return err
				}
				out := make([]CLIImplementation, len(impls))
				for i, im := range impls {
					out[i] = CLIImplementation{CLISymbol: symbolToCLI(im.Symbol), Provenance: string(im.Provenance)}
				}
				return c.output(CLIResult{Command: "implementations", Results: out, TotalCount: count(len(out))})
			})
		},
	}
	cmd.Flags().Int64("symbol", 0, "symbol ID to query")
	return cmd
}

// --- Duplicates and includes ---

func (c *cli) duplicatesCmd() *cobra.Command {
	var (
		dq    understory.DuplicateQuery
		kinds []string
	)
	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Find symbols with identical normalized bodies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery("duplicates", func(q *understory.QueryBuilder) error {
				dq.Kinds = kindsOf(kinds)
				groups, err := q.Duplicates(dq)
				if err != nil {
					return err
				}
				out := make([]CLIDuplicateGroup, len(groups))
				for i, g := range groups {
					out[i] = CLIDuplicateGroup{Hash: g.Hash, Members: symbolsToCLI(g.Members)}
				}
				return c.output(CLIResult{Command: "duplicates", Results: out, TotalCount: count(len(out))})
			})
		},
	}
	cmd.Flags().IntVar(&dq.MinCount, "min-count", 0, "smallest group reported (default from config)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "symbol kinds (repeatable)")
	cmd.Flags().StringVar(&dq.PathGlob, "path", "", "doublestar glob over file paths")
	return cmd
}

type includeQuery func(q *understory.QueryBuilder, file string, transitive bool) ([]understory.IncludeResult, error)

func (c *cli) includeCmd(name, short string, query includeQuery) *cobra.Command {
	var transitive bool
	cmd := &cobra.Command{
		Use:   name + " <file>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery(name, func(q *understory.QueryBuilder) error {
				file, err := resolveFilePath(args[0])
				if err != nil {
					return err
				}
				results, err := query(q, file, transitive)
				if err != nil {
					return err
				}
				out := make([]CLIInclude, len(results))
				for i, r := range results {
					out[i] = CLIInclude{
						Includer: r.Includer,
						Target:   r.Target,
						File:     r.File,
						Depth:    r.Depth,
						Resolved: r.Resolved,
						System:   r.System,
						Line:     r.Line,
					}
				}
				return c.output(CLIResult{Command: name, Results: out, TotalCount: count(len(out))})
			})
		},
	}
	cmd.Flags().BoolVarP(&transitive, "transitive", "t", false, "follow includes transitively")
	return cmd
}

// --- Summaries ---

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery("stats", func(q *understory.QueryBuilder) error {
				st, err := q.Stats()
				if err != nil {
					return err
				}
				return c.output(CLIResult{Command: "stats", Results: CLIStats{
					Files:       st.Files,
					Symbols:     st.Symbols,
					Edges:       st.Edges,
					References:  st.References,
					Includes:    st.Includes,
					Languages:   st.Languages,
					Kinds:       st.Kinds,
					TestFiles:   st.TestFiles,
					SourceFiles: st.SourceFiles,
					LastUpdate:  st.LastUpdate,
				}})
			})
		},
	}
}

func (c *cli) keyTypesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "key-types",
		Short: "List types ranked by method count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery("key-types", func(q *understory.QueryBuilder) error {
				types, err := q.KeyTypes(limit)
				if err != nil {
					return err
				}
				out := make([]CLIKeyType, len(types))
				for i, kt := range types {
					out[i] = CLIKeyType{CLISymbol: symbolToCLI(kt.Symbol), MethodCount: kt.MethodCount}
				}
				return c.output(CLIResult{Command: "key-types", Results: out, TotalCount: count(len(out))})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "top", 20, "number of types")
	return cmd
}

func (c *cli) structureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "structure <file>",
		Short: "Show a file's symbol tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withQuery("structure", func(q *understory.QueryBuilder) error {
				file, err := resolveFilePath(args[0])
				if err != nil {
					return err
				}
				roots, err := q.Structure(file)
				if err != nil {
					return err
				}
				return c.output(CLIResult{Command: "structure", Results: structureToCLI(roots)})
			})
		},
	}
}
