// Package output writes transcription results into the output tree.
package output

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/types"
)

// Subdirectories of the output root.
const (
	DirProduction  = "production"
	DirDevelopment = "development"
	DirTestResults = "test_results"
	DirBatch       = "batch_processing"
)

// Dirs lists every subdirectory of the output tree.
var Dirs = []string{DirProduction, DirDevelopment, DirTestResults, DirBatch}

// TimestampLayout is the production file name timestamp.
const TimestampLayout = "20060102_150405"

// Manager owns the output tree below Root. It never writes outside of it.
type Manager struct {
	root string
	now  func() time.Time
	log  zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, e.g. in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New returns a Manager rooted at root. The directory is created on the
// first write.
func New(root string, log zerolog.Logger, opts ...Option) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	m := &Manager{root: abs, now: time.Now, log: logger.Component(log, "output")}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Root returns the absolute output root.
func (m *Manager) Root() string { return m.root }

// EnsureTree creates every subdirectory of the output tree.
func (m *Manager) EnsureTree() error {
	for _, d := range Dirs {
		if err := os.MkdirAll(filepath.Join(m.root, d), 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	return nil
}

// Path returns the destination for one format of req.
func (m *Manager) Path(req *types.Request, f types.Format) string {
	return m.path(req, f, m.now())
}

func (m *Manager) path(req *types.Request, f types.Format, ts time.Time) string {
	name := fmt.Sprintf("%s_%s", req.Stem(), req.Model())
	dir := DirDevelopment
	if req.Mode() == types.ModeProduction {
		dir = DirProduction
		name += "_" + ts.Format(TimestampLayout)
	}
	return filepath.Join(m.root, dir, name+"."+f.Extension())
}

// Write serializes every requested format of a successful result and records
// the written paths in res.OutputFiles. srt and vtt are skipped with a warning
// when the result has no segments. Any I/O failure is returned.
func (m *Manager) Write(req *types.Request, res *types.Result) error {
	if res == nil || !res.Success {
		return fmt.Errorf("write output: result is not successful")
	}
	if err := m.EnsureTree(); err != nil {
		return err
	}

	// one timestamp for all formats of this request
	ts := m.now()
	formats := req.Formats()
	for _, f := range formats {
		if (f == types.FormatSRT || f == types.FormatVTT) && len(res.Segments) == 0 {
			msg := fmt.Sprintf("%s output skipped: backend returned no segments", f)
			if !slices.Contains(res.Warnings, msg) {
				res.Warn(msg)
			}
		}
	}

	files := make(map[types.Format]string, len(formats))
	for _, f := range formats {
		var (
			data []byte
			err  error
		)
		switch f {
		case types.FormatTXT:
			data = FormatTXT(res)
		case types.FormatSRT:
			if len(res.Segments) == 0 {
				continue
			}
			data = FormatSRT(res.Segments)
		case types.FormatVTT:
			if len(res.Segments) == 0 {
				continue
			}
			data = FormatVTT(res.Segments)
		case types.FormatJSON:
			data, err = FormatJSON(req, res)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("write output: unsupported format %q", f)
		}

		path := m.path(req, f, ts)
		if err := WriteFileAtomic(path, data, 0o644); err != nil {
			return err
		}
		files[f] = path
		m.log.Debug().Str(logger.FieldFile, path).Str("format", string(f)).Msg("wrote output")
	}
	res.OutputFiles = files
	return nil
}

// WriteBatchSummary stores v as JSON in the batch_processing directory and
// returns the file path.
func (m *Manager) WriteBatchSummary(v any) (string, error) {
	if err := m.EnsureTree(); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode batch summary: %w", err)
	}
	path := filepath.Join(m.root, DirBatch, "batch_summary_"+m.now().Format(TimestampLayout)+".json")
	if err := WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// File is an entry returned by List.
type File struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// List returns the files in dir (one of Dirs) matching the glob pattern,
// newest first. A missing directory yields no files.
func (m *Manager) List(dir, pattern string) ([]File, error) {
	if err := checkDir(dir); err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "*"
	}
	matches, err := filepath.Glob(filepath.Join(m.root, dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}

	files := make([]File, 0, len(matches))
	for _, p := range matches {
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		files = append(files, File{Path: p, Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModTime.After(files[j].ModTime) })
	return files, nil
}

// Cleanup removes regular files in dir last modified before now-olderThan and
// returns their paths. Production outputs are archival and cannot be cleaned.
func (m *Manager) Cleanup(dir string, olderThan time.Duration) ([]string, error) {
	if err := checkDir(dir); err != nil {
		return nil, err
	}
	if dir == DirProduction {
		return nil, fmt.Errorf("clean outputs: %s outputs are archival", dir)
	}

	cutoff := m.now().Add(-olderThan)
	entries, err := os.ReadDir(filepath.Join(m.root, dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("clean outputs: %w", err)
	}

	var removed []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(m.root, dir, e.Name())
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("clean outputs: %w", err)
		}
		removed = append(removed, p)
	}
	if len(removed) > 0 {
		m.log.Info().Str("dir", dir).Int("removed", len(removed)).Msg("cleaned outputs")
	}
	return removed, nil
}

func checkDir(dir string) error {
	if !slices.Contains(Dirs, dir) {
		return fmt.Errorf("unknown output dir %q", dir)
	}
	return nil
}

// WriteFileAtomic writes data to a temp file next to path, syncs it and
// renames it into place. The temp file is removed on failure.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
