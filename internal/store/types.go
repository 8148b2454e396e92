package store

import (
	"time"

	"github.com/jward/understory/internal/lang"
)

// File is one indexed source file. Mtime is in Unix nanoseconds.
type File struct {
	ID        int64
	Path      string
	Language  string
	Hash      string
	Mtime     int64
	Size      int64
	LineCount int
	IsTest    bool
	IndexedAt time.Time
}

// Symbol is a persisted declaration. Path is filled from the owning file
// on every read.
type Symbol struct {
	ID          int64
	FileID      int64
	Path        string
	ParentID    *int64
	Name        string
	Kind        lang.Kind
	Qualifier   string
	Visibility  string
	Span        lang.Span
	NameSpan    lang.Span
	Signature   string
	ContentHash string
}

// Edge is a persisted relationship. DstSymbolID is set only when the
// target was unique in the same file at commit time.
type Edge struct {
	ID           int64
	FileID       int64
	Path         string
	SrcSymbolID  int64
	DstSymbolID  *int64
	DstName      string
	DstQualifier string
	Kind         lang.EdgeKind
	Span         lang.Span
}

// Reference is a persisted usage occurrence.
type Reference struct {
	ID             int64
	FileID         int64
	Path           string
	FromSymbolID   *int64
	TargetSymbolID *int64
	Name           string
	Qualifier      string
	Context        lang.RefContext
	Span           lang.Span
}

// Include is a persisted C/C++ include directive.
type Include struct {
	ID     int64
	FileID int64
	Path   string
	Target string
	System bool
	Line   int
	Col    int
}

// Counts is the size of the index.
type Counts struct {
	Files      int
	Symbols    int
	Edges      int
	References int
	Includes   int
}
