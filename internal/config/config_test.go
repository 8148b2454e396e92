package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uerrors "github.com/jward/understory/internal/errors"
)

func writeConfig(t *testing.T, root, body string) {
	t.Helper()
	dir := filepath.Join(root, StateDirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 300*time.Millisecond, cfg.Debounce())
}

func TestLoad_OverlaysFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeConfig(t, root, `
[index]
languages = ["go", "rust"]
workers = 2

[daemon]
debounce_ms = 50

[duplicates]
min_count = 3
`)
	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "rust"}, cfg.Index.Languages)
	assert.Equal(t, 2, cfg.Index.Workers)
	assert.Equal(t, 50*time.Millisecond, cfg.Debounce())
	assert.Equal(t, 3, cfg.Duplicates.MinCount)
	// Untouched fields keep their defaults.
	assert.Equal(t, 10, cfg.Duplicates.MinBodyBytes)
	assert.True(t, cfg.Index.UseGit)
	assert.Equal(t, Default().Index.Exclude, cfg.Index.Exclude)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"negative debounce", "[daemon]\ndebounce_ms = -1\n"},
		{"negative workers", "[index]\nworkers = -4\n"},
		{"bad glob", "[index]\nexclude = [\"a/[b\"]\n"},
		{"not toml", "this is = = not toml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			writeConfig(t, root, tt.body)
			_, err := Load(root)
			require.Error(t, err)
			assert.True(t, uerrors.Is(err, uerrors.TypeConfig))
		})
	}
}

func TestExcluded(t *testing.T) {
	t.Parallel()
	cfg := Default()

	tests := []struct {
		rel   string
		isDir bool
		want  bool
	}{
		{"node_modules", true, true},
		{"web/node_modules/lib/index.js", false, true},
		{".git", true, true},
		{".understory/index.db", false, true},
		{"src/main.go", false, false},
		{"src", true, false},
		{".", true, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Excluded(tt.rel, tt.isDir), tt.rel)
	}
}

func TestLanguageEnabled(t *testing.T) {
	t.Parallel()
	cfg := Default()
	assert.True(t, cfg.LanguageEnabled("go"))

	cfg.Index.Languages = []string{"python"}
	assert.True(t, cfg.LanguageEnabled("python"))
	assert.False(t, cfg.LanguageEnabled("go"))
}
