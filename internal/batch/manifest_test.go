package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifestLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "files.txt")
	require.NoError(t, os.WriteFile(path, []byte("# inputs\none.wav\n\n  /abs/two.mp3  \n"), 0o644))

	got, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "one.wav"), "/abs/two.mp3"}, got)
}

func TestLoadManifestYAML(t *testing.T) {
	dir := t.TempDir()

	list := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(list, []byte("- a.wav\n- b.wav\n"), 0o644))
	got, err := LoadManifest(list)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.wav")}, got)

	mapping := filepath.Join(dir, "map.yml")
	require.NoError(t, os.WriteFile(mapping, []byte("files:\n  - c.wav\n"), 0o644))
	got, err = LoadManifest(mapping)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "c.wav")}, got)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("files: [unterminated\n"), 0o644))
	_, err = LoadManifest(bad)
	assert.Error(t, err)
}

func TestDiscoverAndExpand(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.mp3", "a.wav", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.wav"), 0o755))

	got, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.mp3")}, got)

	got, err = Expand([]string{"missing.wav", dir})
	require.NoError(t, err)
	assert.Equal(t, []string{"missing.wav", filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.mp3")}, got)

	_, err = Discover(filepath.Join(dir, "nope"))
	assert.Error(t, err)
}
