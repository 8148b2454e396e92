package store

import (
	"strings"

	"github.com/jward/understory/internal/lang"
)

// maxBoundIDs caps the ids bound into one IN list, well under SQLite's
// host parameter limit.
const maxBoundIDs = 500

// chunkIDs splits ids into slices of at most maxBoundIDs, dropping
// duplicates.
func chunkIDs(ids []int64) [][]int64 {
	seen := make(map[int64]bool, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	var chunks [][]int64
	for len(unique) > maxBoundIDs {
		chunks = append(chunks, unique[:maxBoundIDs])
		unique = unique[maxBoundIDs:]
	}
	if len(unique) > 0 {
		chunks = append(chunks, unique)
	}
	return chunks
}

// placeholderList returns "?,?,?" for n placeholders.
func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// int64sToArgs converts []int64 to []any for use with database/sql.
func int64sToArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// spanArgs flattens a span into its six column values.
func spanArgs(sp lang.Span) []any {
	return []any{sp.Start.Line, sp.Start.Column, sp.Start.Byte, sp.End.Line, sp.End.Column, sp.End.Byte}
}

// spanDest returns scan destinations for the six span columns.
func spanDest(sp *lang.Span) []any {
	return []any{&sp.Start.Line, &sp.Start.Column, &sp.Start.Byte, &sp.End.Line, &sp.End.Column, &sp.End.Byte}
}

// containsPosition is the WHERE fragment matching rows of table alias a
// whose inclusive line/column span covers a position. Bind it with
// positionArgs.
func containsPosition(a string) string {
	return "(" + a + ".start_line < ? OR (" + a + ".start_line = ? AND " + a + ".start_col <= ?))" +
		" AND (" + a + ".end_line > ? OR (" + a + ".end_line = ? AND " + a + ".end_col >= ?))"
}

func positionArgs(line, col int) []any {
	return []any{line, line, col, line, line, col}
}
