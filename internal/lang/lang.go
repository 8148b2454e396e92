// Package lang holds the grammar adapters: one walker per supported
// language turning a tree-sitter parse tree into symbols, relationship
// edges, references and includes.
package lang

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language is one of the closed set of supported languages.
type Language string

const (
	Go         Language = "go"
	TypeScript Language = "typescript"
	TSX        Language = "tsx"
	JavaScript Language = "javascript"
	Python     Language = "python"
	Rust       Language = "rust"
	Kotlin     Language = "kotlin"
	C          Language = "c"
	CPP        Language = "cpp"
)

var extToLanguage = map[string]Language{
	".go":  Go,
	".ts":  TypeScript,
	".mts": TypeScript,
	".cts": TypeScript,
	".tsx": TSX,
	".js":  JavaScript,
	".jsx": JavaScript,
	".mjs": JavaScript,
	".cjs": JavaScript,
	".py":  Python,
	".pyi": Python,
	".rs":  Rust,
	".kt":  Kotlin,
	".kts": Kotlin,
	".c":   C,
	".h":   C,
	".cc":  CPP,
	".cpp": CPP,
	".cxx": CPP,
	".c++": CPP,
	".hpp": CPP,
	".hh":  CPP,
	".hxx": CPP,
	".h++": CPP,
}

var (
	grammars     map[Language]*sitter.Language
	grammarsOnce sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		grammars = map[Language]*sitter.Language{
			Go:         golang.GetLanguage(),
			TypeScript: ts.GetLanguage(),
			TSX:        tsx.GetLanguage(),
			JavaScript: javascript.GetLanguage(),
			Python:     python.GetLanguage(),
			Rust:       rust.GetLanguage(),
			Kotlin:     kotlin.GetLanguage(),
			C:          c.GetLanguage(),
			CPP:        cpp.GetLanguage(),
		}
	})
}

// ForPath returns the language for a file path based on its extension.
func ForPath(path string) (Language, bool) {
	l, ok := extToLanguage[strings.ToLower(filepath.Ext(path))]
	return l, ok
}

// Parse returns the language for a canonical name such as "rust".
func Parse(name string) (Language, bool) {
	l := Language(strings.ToLower(name))
	_, ok := adapters[l]
	return l, ok
}

// Grammar returns the tree-sitter grammar for lang.
func Grammar(lang Language) (*sitter.Language, bool) {
	initGrammars()
	g, ok := grammars[lang]
	return g, ok
}

// Supported returns every supported language, sorted.
func Supported() []Language {
	out := make([]Language, 0, len(adapters))
	for l := range adapters {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
