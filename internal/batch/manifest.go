package batch

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/embano1/transcribe/internal/types"
)

type yamlManifest struct {
	Files []string `yaml:"files"`
}

// LoadManifest reads an input list. YAML manifests hold either a sequence of
// paths or a mapping with a "files" key; any other file is read as one path
// per line, skipping blanks and # comments. Relative paths are resolved
// against the manifest's directory.
func LoadManifest(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var files []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &files); err != nil {
			var m yamlManifest
			if err2 := yaml.Unmarshal(data, &m); err2 != nil {
				return nil, fmt.Errorf("parse manifest: %w", err)
			}
			files = m.Files
		}
	default:
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			files = append(files, line)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
	}

	base := filepath.Dir(path)
	out := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !filepath.IsAbs(f) {
			f = filepath.Join(base, f)
		}
		out = append(out, f)
	}
	return out, nil
}

// Discover returns the audio files directly inside dir, sorted by name.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && types.IsAudioFile(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Expand replaces directory arguments with their audio files. Other
// arguments, including missing paths, are kept as given so that they are
// reported per file.
func Expand(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		fi, err := os.Stat(a)
		if err == nil && fi.IsDir() {
			files, err := Discover(a)
			if err != nil {
				return nil, err
			}
			out = append(out, files...)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
