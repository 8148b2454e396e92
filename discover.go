package understory

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"

	uerrors "github.com/jward/understory/internal/errors"
	"github.com/jward/understory/internal/lang"
)

// IsTestPath reports whether a root-relative path looks like test code:
// it sits under a test, tests, __tests__ or spec directory, or its name
// follows a _test., .test., .spec. or test_ pattern.
func IsTestPath(rel string) bool {
	rel = filepath.ToSlash(rel)
	dir, name := path.Split(rel)
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		switch seg {
		case "test", "tests", "__tests__", "spec":
			return true
		}
	}
	if strings.HasPrefix(name, "test_") {
		return true
	}
	for _, marker := range []string{"_test.", ".test.", ".spec."} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// discover lists every indexable root-relative path, sorted and without
// duplicates. It prefers git's view of the tree and falls back to a walk.
func (e *Engine) discover(ctx context.Context) ([]string, error) {
	var (
		paths []string
		err   error
	)
	if e.cfg.Index.UseGit {
		paths, err = gitListFiles(ctx, e.root)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Debug("discover.git.unavailable", "root", e.root, "err", err)
			paths = nil
		}
	}
	if paths == nil {
		paths, err = e.walkListFiles(ctx)
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, rel := range paths {
		if seen[rel] || !e.eligible(rel) {
			continue
		}
		seen[rel] = true
		out = append(out, rel)
	}
	sort.Strings(out)
	e.logger.Debug("discover.done", "root", e.root, "files", len(out))
	return out, nil
}

// gitListFiles asks git for tracked and untracked-but-not-ignored files.
// It fails when root is not inside a git work tree or git is missing.
func gitListFiles(ctx context.Context, root string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard", "-z")
	cmd.Dir = root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.New(msg)
		}
		return nil, err
	}

	paths := []string{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	sc.Split(splitNUL)
	for sc.Scan() {
		if p := sc.Text(); p != "" {
			paths = append(paths, filepath.ToSlash(p))
		}
	}
	return paths, sc.Err()
}

func splitNUL(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// walkListFiles walks the tree, pruning hidden, excluded and gitignored
// directories.
func (e *Engine) walkListFiles(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(e.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == e.root {
				return err
			}
			e.logger.Debug("discover.walk.skip", "path", p, "err", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == e.root {
			return nil
		}
		rel, ok := e.relPath(p)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if e.skipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, uerrors.New(uerrors.TypeIO, "walk", err).WithPath(e.root)
	}
	return paths, nil
}

// Eligible reports whether the file at path would be indexed: it lies
// under the root, has a supported extension in an enabled language, and is
// neither excluded, gitignored nor inside a hidden directory.
func (e *Engine) Eligible(p string) bool {
	rel, ok := e.relPath(p)
	return ok && e.eligible(rel)
}

// SkipDir reports whether the directory at path and everything beneath it
// is left out of the index.
func (e *Engine) SkipDir(p string) bool {
	rel, ok := e.relPath(p)
	if !ok {
		return true
	}
	return e.skipDir(rel)
}

// InvalidateIgnores drops cached .gitignore rules so edits to them take
// effect.
func (e *Engine) InvalidateIgnores() {
	e.ignores.reset()
}

func (e *Engine) eligible(rel string) bool {
	language, ok := lang.ForPath(rel)
	if !ok || !e.languageEnabled(language) {
		return false
	}
	if e.cfg.Excluded(rel, false) {
		return false
	}
	if dir := path.Dir(rel); dir != "." && e.skipDirChain(dir) {
		return false
	}
	return !e.ignores.ignored(rel, false)
}

func (e *Engine) skipDir(rel string) bool {
	if strings.HasPrefix(path.Base(rel), ".") {
		return true
	}
	if e.cfg.Excluded(rel, true) {
		return true
	}
	return e.ignores.ignored(rel, true)
}

// skipDirChain reports whether rel or any of its ancestors is skipped.
func (e *Engine) skipDirChain(rel string) bool {
	for d := rel; d != "." && d != "/" && d != ""; d = path.Dir(d) {
		if e.skipDir(d) {
			return true
		}
	}
	return false
}

// ignoreSet caches the compiled .gitignore of each directory under root.
type ignoreSet struct {
	root string

	mu       sync.Mutex
	matchers map[string]*ignore.GitIgnore // dir -> rules; nil when absent
}

func newIgnoreSet(root string) *ignoreSet {
	return &ignoreSet{root: root, matchers: make(map[string]*ignore.GitIgnore)}
}

func (s *ignoreSet) reset() {
	s.mu.Lock()
	s.matchers = make(map[string]*ignore.GitIgnore)
	s.mu.Unlock()
}

// ignored applies the .gitignore of every ancestor directory of rel,
// each against the path relative to that directory.
func (s *ignoreSet) ignored(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	dir := path.Dir(rel)
	for {
		if dir == "." {
			dir = ""
		}
		if m := s.matcher(dir); m != nil {
			sub := rel
			if dir != "" {
				sub = strings.TrimPrefix(rel, dir+"/")
			}
			if isDir {
				sub += "/"
			}
			if m.MatchesPath(sub) {
				return true
			}
		}
		if dir == "" {
			return false
		}
		dir = path.Dir(dir)
	}
}

func (s *ignoreSet) matcher(dir string) *ignore.GitIgnore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.matchers[dir]; ok {
		return m
	}
	file := filepath.Join(s.root, filepath.FromSlash(dir), ".gitignore")
	var m *ignore.GitIgnore
	if _, err := os.Stat(file); err == nil {
		if compiled, err := ignore.CompileIgnoreFile(file); err == nil {
			m = compiled
		}
	}
	s.matchers[dir] = m
	return m
}
