package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/types"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newManager(t *testing.T) (*Manager, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2024, 3, 1, 14, 30, 5, 0, time.UTC)}
	m, err := New(filepath.Join(t.TempDir(), "output"), logger.Nop(), WithClock(c.now))
	require.NoError(t, err)
	return m, c
}

func request(t *testing.T, mode types.Mode, formats ...types.Format) *types.Request {
	t.Helper()
	r, err := types.NewRequest(types.Options{
		AudioPath: "/audio/sample_small.wav",
		Model:     types.ModelSmall,
		Mode:      mode,
		Formats:   formats,
	})
	require.NoError(t, err)
	return r
}

func result(text string, segs ...types.Segment) *types.Result {
	return types.Succeeded(types.MethodAPI, text, "en", segs)
}

func TestPaths(t *testing.T) {
	m, _ := newManager(t)

	prod := m.Path(request(t, types.ModeProduction), types.FormatTXT)
	assert.Equal(t, filepath.Join(m.Root(), "production", "sample_small_small_20240301_143005.txt"), prod)

	dev := m.Path(request(t, types.ModeDevelopment), types.FormatSRT)
	assert.Equal(t, filepath.Join(m.Root(), "development", "sample_small_small.srt"), dev)
}

func TestWriteCreatesTree(t *testing.T) {
	m, _ := newManager(t)
	res := result("hi")
	require.NoError(t, m.Write(request(t, types.ModeProduction), res))

	for _, d := range Dirs {
		fi, err := os.Stat(filepath.Join(m.Root(), d))
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
	for _, p := range res.OutputFiles {
		assert.True(t, strings.HasPrefix(p, m.Root()))
		assert.True(t, filepath.IsAbs(p))
	}
}

func TestTXTRoundTrip(t *testing.T) {
	texts := []string{"hello world", "héllo wörld 日本語", "line one\nline two", ""}
	for _, text := range texts {
		m, _ := newManager(t)
		res := result(text)
		require.NoError(t, m.Write(request(t, types.ModeDevelopment), res))

		got, err := os.ReadFile(res.OutputFiles[types.FormatTXT])
		require.NoError(t, err)
		assert.Equal(t, text+"\n", string(got))
	}
}

func TestDevelopmentOverwritesAndIsIdempotent(t *testing.T) {
	m, c := newManager(t)
	req := request(t, types.ModeDevelopment, types.FormatTXT, types.FormatSRT, types.FormatJSON)
	res := result("hello", types.Segment{Start: 0, End: 1.25, Text: "hello"})

	require.NoError(t, m.Write(req, res))
	first := readAll(t, res.OutputFiles)

	c.t = c.t.Add(time.Hour)
	require.NoError(t, m.Write(req, res))
	second := readAll(t, res.OutputFiles)
	assert.Equal(t, first, second)

	entries, err := os.ReadDir(filepath.Join(m.Root(), DirDevelopment))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestProductionProducesDistinctPaths(t *testing.T) {
	m, c := newManager(t)
	req := request(t, types.ModeProduction)

	r1 := result("one")
	require.NoError(t, m.Write(req, r1))
	c.t = c.t.Add(time.Second)
	r2 := result("two")
	require.NoError(t, m.Write(req, r2))

	assert.NotEqual(t, r1.OutputFiles[types.FormatTXT], r2.OutputFiles[types.FormatTXT])
	files, err := m.List(DirProduction, "*.txt")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestEmptySegmentsSkipSubtitles(t *testing.T) {
	m, _ := newManager(t)
	res := result("no timing")
	require.NoError(t, m.Write(request(t, types.ModeDevelopment, types.FormatTXT, types.FormatSRT, types.FormatVTT), res))

	assert.Contains(t, res.OutputFiles, types.FormatTXT)
	assert.NotContains(t, res.OutputFiles, types.FormatSRT)
	assert.NotContains(t, res.OutputFiles, types.FormatVTT)
	assert.Len(t, res.Warnings, 2)
	assert.True(t, res.Success)

	// a second write does not repeat the warnings
	require.NoError(t, m.Write(request(t, types.ModeDevelopment, types.FormatSRT), res))
	assert.Len(t, res.Warnings, 2)
}

func TestWriteRejectsFailedResult(t *testing.T) {
	m, _ := newManager(t)
	assert.Error(t, m.Write(request(t, types.ModeDevelopment), types.Failed(assert.AnError)))
}

func TestWriteErrorIsReturned(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.EnsureTree())
	// a directory at the destination makes the rename fail
	dest := m.Path(request(t, types.ModeDevelopment), types.FormatTXT)
	require.NoError(t, os.Mkdir(dest, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "x"), []byte("x"), 0o644))

	err := m.Write(request(t, types.ModeDevelopment), result("hi"))
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file %s left behind", e.Name())
	}
}

func TestJSONOmitsOutputFiles(t *testing.T) {
	m, _ := newManager(t)
	req := request(t, types.ModeDevelopment, types.FormatJSON)
	res := result("hi", types.Segment{Start: 0, End: 1, Text: "hi"})
	require.NoError(t, m.Write(req, res))

	data, err := os.ReadFile(res.OutputFiles[types.FormatJSON])
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.NotContains(t, doc, "output_files")
	assert.Equal(t, "hi", doc["text"])
	assert.Equal(t, "en", doc["language_detected"])
	reqDoc, ok := doc["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "small", reqDoc["model"])
	assert.Len(t, doc["segments"], 1)
}

func TestListAndCleanup(t *testing.T) {
	m, c := newManager(t)
	dev := filepath.Join(m.Root(), DirDevelopment)
	require.NoError(t, m.EnsureTree())

	old := filepath.Join(dev, "old.txt")
	fresh := filepath.Join(dev, "fresh.txt")
	require.NoError(t, os.WriteFile(old, []byte("o"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("f"), 0o644))
	require.NoError(t, os.Chtimes(old, c.t.Add(-48*time.Hour), c.t.Add(-48*time.Hour)))
	require.NoError(t, os.Chtimes(fresh, c.t, c.t))

	files, err := m.List(DirDevelopment, "*.txt")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, fresh, files[0].Path)

	removed, err := m.Cleanup(DirDevelopment, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{old}, removed)
	assert.FileExists(t, fresh)

	_, err = m.Cleanup(DirProduction, time.Hour)
	assert.Error(t, err)
	_, err = m.List("elsewhere", "")
	assert.Error(t, err)
}

func TestWriteBatchSummary(t *testing.T) {
	m, _ := newManager(t)
	path, err := m.WriteBatchSummary(map[string]int{"total": 3})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Root(), DirBatch, "batch_summary_20240301_143005.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":3}`, string(data))
}

func readAll(t *testing.T, files map[types.Format]string) map[types.Format]string {
	t.Helper()
	out := make(map[types.Format]string, len(files))
	for f, p := range files {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		out[f] = string(data)
	}
	return out
}
