package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRepoRoot_DirectGitDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	assert.Equal(t, root, findRepoRoot(root))
}

func TestFindRepoRoot_NestedSubdirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	deep := filepath.Join(root, "sub", "deep")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	assert.Equal(t, root, findRepoRoot(deep))
}

func TestFindRepoRoot_NoGitAncestor(t *testing.T) {
	t.Parallel()
	// TempDir has no .git directory anywhere in its ancestry
	// (unless /tmp itself is a repo, which would be unusual).
	dir := t.TempDir()

	assert.Equal(t, dir, findRepoRoot(dir))
}

func TestResolveDBPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, filepath.Join("/ws", ".understory", "index.db"), resolveDBPath("", "/ws"))
	assert.Equal(t, filepath.Join("/ws", "custom.db"), resolveDBPath("custom.db", "/ws"))
	assert.Equal(t, "/elsewhere/x.db", resolveDBPath("/elsewhere/x.db", "/ws"))
}

func TestParseIntArg(t *testing.T) {
	t.Parallel()
	n, err := parseIntArg("12", "line")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	for _, bad := range []string{"0", "-3", "x"} {
		_, err := parseIntArg(bad, "line")
		assert.Error(t, err, bad)
	}
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.Error(t, validateFormat("yaml"))
}

func TestEngineOptions_UnknownLanguage(t *testing.T) {
	t.Parallel()
	_, err := engineOptions("go, cobol", "", 0)
	assert.ErrorContains(t, err, "cobol")

	opts, err := engineOptions("go,python", "scripts", 2)
	require.NoError(t, err)
	assert.Len(t, opts, 3)
}
