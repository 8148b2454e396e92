// Package understory is a local, incremental code index. It parses source
// files with tree-sitter into symbols, relationship edges, references and
// include directives. The results live in a WAL-mode SQLite store that is
// kept in sync with the workspace, and structural queries are answered
// from it.
//
// # Pipeline
//
// An [Engine] owns one workspace and one store file. Each file passes
// through a small state machine:
//
//	unseen -> hashing -> unchanged (skip)
//	                  -> changed -> parsing -> extracting -> committed
//
// Extraction output for a file is committed in one transaction that deletes
// the file's previous rows and inserts the new ones, so readers never see a
// half-indexed file. Files are processed in parallel and committed by a
// single writer.
//
// # Usage
//
//	e, err := understory.New(".understory/index.db", "path/to/project")
//	if err != nil { ... }
//	defer e.Close()
//
//	summary, err := e.IndexWorkspace(ctx)
//
//	q := e.Query()
//	sym, err := q.SymbolAt("main.go", 10, 5)
//	callers, err := q.Callers(sym.ID, true)
//
// # Query API
//
// The [QueryBuilder] returned by [Engine.Query] answers:
//
//   - [QueryBuilder.Symbols]: filtered, paginated symbol search
//   - [QueryBuilder.SymbolAt] and [QueryBuilder.DefinitionAt]: position resolution
//   - [QueryBuilder.Usages] and [QueryBuilder.Rename]: references, with a name-scan fallback
//   - [QueryBuilder.Callers] and [QueryBuilder.Callees]: call graph, direct or transitive
//   - [QueryBuilder.Supertypes], [QueryBuilder.Subtypes] and [QueryBuilder.Implementations]
//   - [QueryBuilder.Duplicates]: symbols with identical normalized bodies
//   - [QueryBuilder.Includes] and [QueryBuilder.Includers]: the C/C++ include graph
//
// Common misses such as "no symbol at position" are returned as sentinel
// errors; use [IsMiss] to tell them apart from store failures.
//
// Cross-file targets are resolved lazily, by name, at query time. Results
// that come from a name heuristic rather than a recorded link carry a
// [Provenance] saying so.
package understory
