package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jward/understory/internal/lang"
)

// CommitFile replaces everything recorded for f.Path with ex inside a
// single transaction. Extraction locals are remapped to real row IDs, and
// edge and reference targets that are unique within the same file are
// linked on the way in. On error nothing is written.
//
// Insert order respects FK dependencies:
//  1. File row (upsert by path)
//  2. Delete the file's previous rows
//  3. Symbols, parents before children
//  4. Edges and references
//  5. Includes
func (s *Store) CommitFile(f *File, ex *lang.Extraction) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("commit file: begin: %w", err)
	}
	defer tx.Rollback()

	if f.IndexedAt.IsZero() {
		f.IndexedAt = time.Now().UTC()
	}
	fileID, err := upsertFileTx(tx, f)
	if err != nil {
		return 0, fmt.Errorf("commit file %s: %w", f.Path, err)
	}
	if err := deleteOwnedTx(tx, fileID); err != nil {
		return 0, fmt.Errorf("commit file %s: %w", f.Path, err)
	}

	if ex != nil {
		if err := insertExtractionTx(tx, fileID, ex); err != nil {
			return 0, fmt.Errorf("commit file %s: %w", f.Path, err)
		}
	}
	if err := stampLastUpdate(tx); err != nil {
		return 0, fmt.Errorf("commit file %s: %w", f.Path, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit file %s: commit: %w", f.Path, err)
	}
	f.ID = fileID
	return fileID, nil
}

func upsertFileTx(tx *sql.Tx, f *File) (int64, error) {
	_, err := tx.Exec(
		`INSERT INTO files (path, language, hash, mtime, size, line_count, is_test, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   language = excluded.language, hash = excluded.hash, mtime = excluded.mtime,
		   size = excluded.size, line_count = excluded.line_count, is_test = excluded.is_test,
		   indexed_at = excluded.indexed_at`,
		f.Path, f.Language, f.Hash, f.Mtime, f.Size, f.LineCount, f.IsTest, f.IndexedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert file: %w", err)
	}
	var id int64
	if err := tx.QueryRow("SELECT id FROM files WHERE path = ?", f.Path).Scan(&id); err != nil {
		return 0, fmt.Errorf("file id: %w", err)
	}
	return id, nil
}

func deleteOwnedTx(tx *sql.Tx, fileID int64) error {
	for _, q := range []string{
		"DELETE FROM includes WHERE file_id = ?",
		"DELETE FROM references_ WHERE file_id = ?",
		"DELETE FROM edges WHERE file_id = ?",
		"DELETE FROM symbols WHERE file_id = ?",
	} {
		if _, err := tx.Exec(q, fileID); err != nil {
			return fmt.Errorf("delete previous rows: %w", err)
		}
	}
	return nil
}

func insertExtractionTx(tx *sql.Tx, fileID int64, ex *lang.Extraction) error {
	localToReal := make([]int64, len(ex.Symbols))
	byName := make(map[string][]int)

	symStmt, err := tx.Prepare(
		`INSERT INTO symbols (file_id, parent_id, name, kind, qualifier, visibility,
			start_line, start_col, start_byte, end_line, end_col, end_byte,
			name_start_line, name_start_col, name_start_byte, name_end_line, name_end_col, name_end_byte,
			signature, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare symbol insert: %w", err)
	}
	defer symStmt.Close()

	for i, sym := range ex.Symbols {
		var parent *int64
		if sym.Parent >= 0 {
			if sym.Parent >= i {
				return fmt.Errorf("symbol %q: parent %d is not declared before it", sym.Name, sym.Parent)
			}
			parent = &localToReal[sym.Parent]
		}
		args := []any{fileID, parent, sym.Name, string(sym.Kind), sym.Qualifier, sym.Visibility}
		args = append(args, spanArgs(sym.Span)...)
		args = append(args, spanArgs(sym.NameSpan)...)
		args = append(args, sym.Signature, sym.ContentHash)
		res, err := symStmt.Exec(args...)
		if err != nil {
			return fmt.Errorf("symbol %q: %w", sym.Name, err)
		}
		if localToReal[i], err = res.LastInsertId(); err != nil {
			return fmt.Errorf("symbol %q: last insert id: %w", sym.Name, err)
		}
		byName[sym.Name] = append(byName[sym.Name], i)
	}

	// sameFile links name to the only compatible local declaration, if there
	// is exactly one. self is never its own target.
	sameFile := func(name, qualifier string, accepts func(lang.Kind) bool, self int) *int64 {
		var all, qualified []int
		for _, local := range byName[name] {
			if local == self || !accepts(ex.Symbols[local].Kind) {
				continue
			}
			all = append(all, local)
			if lang.QualifierMatches(ex.Symbols[local].Qualifier, qualifier) {
				qualified = append(qualified, local)
			}
		}
		if len(qualified) > 0 {
			all = qualified
		}
		if len(all) != 1 {
			return nil
		}
		id := localToReal[all[0]]
		return &id
	}

	edgeStmt, err := tx.Prepare(
		`INSERT INTO edges (file_id, src_symbol_id, dst_symbol_id, dst_name, dst_qualifier, kind,
			start_line, start_col, start_byte, end_line, end_col, end_byte)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()

	for _, e := range ex.Edges {
		if e.From < 0 || e.From >= len(localToReal) {
			return fmt.Errorf("edge to %q: source %d out of range", e.ToName, e.From)
		}
		dst := sameFile(e.ToName, e.ToQualifier, e.Kind.Accepts, e.From)
		args := []any{fileID, localToReal[e.From], dst, e.ToName, e.ToQualifier, string(e.Kind)}
		args = append(args, spanArgs(e.Span)...)
		if _, err := edgeStmt.Exec(args...); err != nil {
			return fmt.Errorf("edge to %q: %w", e.ToName, err)
		}
	}

	refStmt, err := tx.Prepare(
		`INSERT INTO references_ (file_id, from_symbol_id, target_symbol_id, name, qualifier, context,
			start_line, start_col, start_byte, end_line, end_col, end_byte)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare reference insert: %w", err)
	}
	defer refStmt.Close()

	for _, r := range ex.References {
		var from *int64
		if r.From >= 0 {
			if r.From >= len(localToReal) {
				return fmt.Errorf("reference %q: source %d out of range", r.Name, r.From)
			}
			from = &localToReal[r.From]
		}
		target := sameFile(r.Name, r.Qualifier, r.Context.Accepts, r.From)
		args := []any{fileID, from, target, r.Name, r.Qualifier, string(r.Context)}
		args = append(args, spanArgs(r.Span)...)
		if _, err := refStmt.Exec(args...); err != nil {
			return fmt.Errorf("reference %q: %w", r.Name, err)
		}
	}

	for _, inc := range ex.Includes {
		_, err := tx.Exec(
			"INSERT INTO includes (file_id, target, system, line, col) VALUES (?, ?, ?, ?, ?)",
			fileID, inc.Target, inc.System, inc.Span.Start.Line, inc.Span.Start.Column,
		)
		if err != nil {
			return fmt.Errorf("include %q: %w", inc.Target, err)
		}
	}
	return nil
}

// DeleteFile removes the file at path and, through cascades, every row it
// owns. It reports whether a file was removed.
func (s *Store) DeleteFile(path string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("delete file: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM files WHERE path = ?", path)
	if err != nil {
		return false, fmt.Errorf("delete file %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete file %s: %w", path, err)
	}
	if n == 0 {
		return false, nil
	}
	if err := stampLastUpdate(tx); err != nil {
		return false, fmt.Errorf("delete file %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete file %s: commit: %w", path, err)
	}
	return true, nil
}

// TouchFile records a new mtime for a file whose content did not change.
func (s *Store) TouchFile(path string, mtime int64) error {
	if _, err := s.db.Exec("UPDATE files SET mtime = ? WHERE path = ?", mtime, path); err != nil {
		return fmt.Errorf("touch file %s: %w", path, err)
	}
	return nil
}
