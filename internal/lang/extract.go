package lang

import (
	"bytes"
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	uerrors "github.com/jward/understory/internal/errors"
)

// DefaultMinBodyBytes is the smallest normalized body that gets a content
// hash.
const DefaultMinBodyBytes = 10

var adapters = map[Language]*grammar{
	Go:         goGrammar,
	TypeScript: esGrammar,
	TSX:        esGrammar,
	JavaScript: esGrammar,
	Python:     pythonGrammar,
	Rust:       rustGrammar,
	Kotlin:     kotlinGrammar,
	C:          cGrammar,
	CPP:        cppGrammar,
}

// Options tunes extraction.
type Options struct {
	// MinBodyBytes overrides DefaultMinBodyBytes when positive.
	MinBodyBytes int
}

// Extract parses src as language and returns everything the file
// contributes. Syntax errors yield a partial extraction with HasErrors set;
// an error is returned only when no tree could be produced at all.
func Extract(ctx context.Context, language Language, src []byte, opts Options) (*Extraction, error) {
	out := &Extraction{Language: language, LineCount: countLines(src)}

	g, ok := adapters[language]
	if !ok {
		return out, uerrors.New(uerrors.TypeParse, "extract", fmt.Errorf("unsupported language %q", language))
	}
	grammar, _ := Grammar(language)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return out, uerrors.New(uerrors.TypeParse, "parse", err)
	}
	if tree == nil {
		return out, uerrors.New(uerrors.TypeParse, "parse", fmt.Errorf("no tree produced"))
	}
	defer tree.Close()

	root := tree.RootNode()
	out.HasErrors = root.HasError()

	minBody := opts.MinBodyBytes
	if minBody <= 0 {
		minBody = DefaultMinBodyBytes
	}
	newWalker(src, g, minBody, out).run(root)
	return out, nil
}

func countLines(src []byte) int {
	if len(src) == 0 {
		return 0
	}
	n := bytes.Count(src, []byte{'\n'})
	if src[len(src)-1] != '\n' {
		n++
	}
	return n
}
