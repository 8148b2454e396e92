package understory

import "errors"

// Query misses. They are ordinary outcomes, not failures.
var (
	ErrNoSymbolAtPosition    = errors.New("no symbol at position")
	ErrSymbolNotFound        = errors.New("symbol not found")
	ErrNoReferenceAtPosition = errors.New("no reference at position")
	ErrUnresolvedReference   = errors.New("reference is unresolved")
	ErrFileNotIndexed        = errors.New("file is not indexed")
)

// IsMiss reports whether err is one of the query miss sentinels.
func IsMiss(err error) bool {
	return errors.Is(err, ErrNoSymbolAtPosition) ||
		errors.Is(err, ErrSymbolNotFound) ||
		errors.Is(err, ErrNoReferenceAtPosition) ||
		errors.Is(err, ErrUnresolvedReference) ||
		errors.Is(err, ErrFileNotIndexed)
}
