package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jward/understory"
	"github.com/jward/understory/internal/config"
	"github.com/jward/understory/internal/daemon"
	"github.com/jward/understory/internal/lang"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK    = 0
	exitMiss  = 1
	exitError = 2
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	if !c.errorHandled {
		fmt.Fprintf(stderr, "Error: %s\n", err)
	}
	if understory.IsMiss(err) {
		return exitMiss
	}
	return exitError
}

// cli holds one invocation's flags and output streams.
type cli struct {
	stdout, stderr io.Writer

	flagRoot    string
	flagDB      string
	flagFormat  string
	flagVerbose bool

	// errorHandled is set by fail so run doesn't double-print.
	errorHandled bool
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "understory",
		Short:         "Local incremental code index",
		Long:          "Understory parses a workspace with tree-sitter into a SQLite index of symbols, references and relationships, keeps it in sync, and answers structural queries.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validateFormat(c.flagFormat)
		},
	}
	root.PersistentFlags().StringVar(&c.flagRoot, "root", "", "workspace root (default: nearest ancestor with .git, else the working directory)")
	root.PersistentFlags().StringVar(&c.flagDB, "db", "", "database path (default: .understory/index.db under the root)")
	root.PersistentFlags().StringVar(&c.flagFormat, "format", "json", "output format: json|text")
	root.PersistentFlags().BoolVarP(&c.flagVerbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(c.indexCmd(), c.daemonCmd(), c.statusCmd(), c.queryCmd())
	return root
}

func (c *cli) logger() *slog.Logger {
	level := slog.LevelWarn
	if c.flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))
}

// workspace resolves the root and database path from flags.
func (c *cli) workspace() (root, dbPath string, err error) {
	root = c.flagRoot
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", "", fmt.Errorf("getting cwd: %w", err)
		}
		root = findRepoRoot(cwd)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return "", "", fmt.Errorf("resolving root %q: %w", root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", "", fmt.Errorf("directory not found: %s", root)
	}
	if !info.IsDir() {
		return "", "", fmt.Errorf("not a directory: %s", root)
	}
	return root, resolveDBPath(c.flagDB, root), nil
}

// openEngine loads the workspace config and opens the index. With mustExist
// a missing database is an error rather than created.
func (c *cli) openEngine(mustExist bool, opts ...understory.Option) (*understory.Engine, error) {
	root, dbPath, err := c.workspace()
	if err != nil {
		return nil, err
	}
	if mustExist {
		if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("database not found: %s (run 'understory index' first)", dbPath)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	opts = append([]understory.Option{
		understory.WithConfig(cfg),
		understory.WithLogger(c.logger()),
	}, opts...)
	return understory.New(dbPath, root, opts...)
}

// --- index ---

func (c *cli) indexCmd() *cobra.Command {
	var (
		rebuild    bool
		languages  string
		scriptsDir string
		workers    int
	)
	cmd := &cobra.Command{
		Use:   "index [root]",
		Short: "Index or refresh the workspace",
		Long:  "Crawls the workspace, re-extracting only files whose content changed, and prunes files that no longer exist.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				c.flagRoot = args[0]
			}
			opts, err := engineOptions(languages, scriptsDir, workers)
			if err != nil {
				return c.fail("index", err)
			}
			e, err := c.openEngine(false, opts...)
			if err != nil {
				return c.fail("index", err)
			}
			defer e.Close()

			var summary *understory.IndexSummary
			if rebuild {
				summary, err = e.Rebuild(cmd.Context())
			} else {
				summary, err = e.IndexWorkspace(cmd.Context())
			}
			if err != nil {
				return c.fail("index", err)
			}
			return c.output(CLIResult{Command: "index", Results: summaryToCLI(summary)})
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "discard the index and rebuild from scratch")
	cmd.Flags().StringVar(&languages, "languages", "", "comma-separated language filter (e.g. go,typescript)")
	cmd.Flags().StringVar(&scriptsDir, "scripts-dir", "", "directory of Risor extraction scripts")
	cmd.Flags().IntVar(&workers, "workers", 0, "extraction workers (default: one per CPU)")
	return cmd
}

func engineOptions(languages, scriptsDir string, workers int) ([]understory.Option, error) {
	var opts []understory.Option
	if languages != "" {
		var langs []understory.Language
		for _, name := range strings.Split(languages, ",") {
			l, ok := lang.Parse(strings.TrimSpace(name))
			if !ok {
				return nil, fmt.Errorf("unknown language %q", name)
			}
			langs = append(langs, l)
		}
		opts = append(opts, understory.WithLanguages(langs...))
	}
	if scriptsDir != "" {
		opts = append(opts, understory.WithScriptsDir(scriptsDir))
	}
	if workers > 0 {
		opts = append(opts, understory.WithWorkers(workers))
	}
	return opts, nil
}

// --- daemon ---

func (c *cli) daemonCmd() *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Keep the index in sync with the workspace",
		Long:  "Crawls once, then watches the workspace and re-indexes changed files until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.openEngine(false)
			if err != nil {
				return c.fail("daemon", err)
			}
			defer e.Close()

			d, err := daemon.New(e, daemon.Options{
				Root:     e.Root(),
				StateDir: filepath.Join(e.Root(), config.StateDirName),
				Debounce: e.Config().Debounce(),
				Logger:   c.logger(),
				Match:    e.Eligible,
				SkipDir:  e.SkipDir,
				Version:  version,
			})
			if err != nil {
				return c.fail("daemon", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				hup := make(chan os.Signal, 1)
				signal.Notify(hup, syscall.SIGHUP)
				defer signal.Stop(hup)
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						d.RequestRebuild()
					}
				}
			}()
			if err := d.Run(ctx, daemon.RunOptions{Rebuild: rebuild}); err != nil {
				return c.fail("daemon", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "discard the index before the initial crawl")
	return cmd
}

// --- status ---

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report daemon liveness and index size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, dbPath, err := c.workspace()
			if err != nil {
				return c.fail("status", err)
			}
			st, err := daemon.ReadStatus(filepath.Join(root, config.StateDirName))
			if err != nil {
				return c.fail("status", err)
			}
			out := CLIStatus{Root: root, DB: dbPath, Daemon: st}
			if _, err := os.Stat(dbPath); err == nil {
				e, err := c.openEngine(true)
				if err != nil {
					return c.fail("status", err)
				}
				defer e.Close()
				is, err := e.Status()
				if err != nil {
					return c.fail("status", err)
				}
				out.Indexed = true
				out.Files = is.Files
				out.Symbols = is.Symbols
				out.LastUpdate = is.LastUpdate
			}
			return c.output(CLIResult{Command: "status", Results: out})
		},
	}
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag or the default.
func resolveDBPath(flag, root string) string {
	if flag != "" {
		if filepath.IsAbs(flag) {
			return flag
		}
		return filepath.Join(root, flag)
	}
	return filepath.Join(root, config.StateDirName, "index.db")
}
