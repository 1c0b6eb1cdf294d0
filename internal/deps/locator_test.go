package deps

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("not a module"), 0o644))
	return path
}

func TestFileLocator(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	shared1 := touch(t, first, "shared.dll")
	touch(t, second, "shared.dll")
	only2 := touch(t, second, "only2.dll")
	asm := touch(t, second, "Widgets.Core.dll")
	tool := touch(t, first, "tool.exe")
	mixed := touch(t, first, "MixedCase.DLL")
	require.NoError(t, os.Mkdir(filepath.Join(first, "folder.dll"), 0o755))

	l, err := NewFileLocator([]string{first, second}, 16)
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, l.Paths())

	tests := []struct {
		name  string
		want  string
		found bool
	}{
		{"shared.dll", shared1, true},
		{"only2.dll", only2, true},
		{"Widgets.Core", asm, true},
		{"tool", tool, true},
		{"mixedcase.dll", mixed, true},
		{"MIXEDCASE.DLL", mixed, true},
		{"folder.dll", "", false},
		{"missing.dll", "", false},
		{"missing", "", false},
		{only2, only2, true},
		{filepath.Join(first, "only2.dll"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := l.Find(tt.name)
			assert.Equal(t, tt.found, ok)
			// Case-insensitive filesystems return the probed spelling.
			assert.True(t, strings.EqualFold(tt.want, got), "Find(%q) = %q, want %q", tt.name, got, tt.want)
		})
	}
}

func TestFileLocatorCache(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "cached.dll")

	l, err := NewFileLocator([]string{dir}, 0)
	require.NoError(t, err)

	got, ok := l.Find("cached.dll")
	require.True(t, ok)
	assert.Equal(t, path, got)

	require.NoError(t, os.Remove(path))
	got, ok = l.Find("CACHED.dll")
	assert.True(t, ok)
	assert.Equal(t, path, got)
}

func TestCandidateNames(t *testing.T) {
	assert.Equal(t, []string{"a.dll"}, candidateNames("a.dll"))
	assert.Equal(t, []string{"b.EXE"}, candidateNames("b.EXE"))
	assert.Equal(t, []string{"x.pyd"}, candidateNames("x.pyd"))
	assert.Equal(t, []string{"System.Core", "System.Core.dll", "System.Core.exe"}, candidateNames("System.Core"))
}
