package runtime

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/understory/internal/lang"
)

// grammarFor maps a script-facing language name such as "go" or "tsx" to
// its tree-sitter grammar.
func grammarFor(name string) (*sitter.Language, bool) {
	l, ok := lang.Parse(name)
	if !ok {
		return nil, false
	}
	return lang.Grammar(l)
}
