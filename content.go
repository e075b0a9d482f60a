package memo

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Content arguments fingerprint as the bytes they point at rather than as
// their path, so editing an input file moves the call to a new slot.
// Each one is also a fmt.Stringer naming its path, which lets Compare use it.

// FileContent is an argument fingerprinted by the content of one file.
type FileContent struct {
	Path string
	Fs   afero.Fs // nil means the OS filesystem
}

// File returns a FileContent for path on the OS filesystem.
func File(path string) FileContent {
	return FileContent{Path: path}
}

// Fingerprint implements Fingerprintable.
func (f FileContent) Fingerprint() (string, error) {
	sum, err := hashFiles(fsOrOs(f.Fs), []string{f.Path})
	if err != nil {
		return "", err
	}
	return "file:" + f.Path + ":" + sum, nil
}

func (f FileContent) String() string {
	return f.Path
}

// GlobContent is an argument fingerprinted by every file matching Pattern.
// The pattern supports "**" for any number of directories. No match is not
// an error and fingerprints as the empty set.
type GlobContent struct {
	Pattern string
	Fs      afero.Fs
}

// Glob returns a GlobContent for pattern on the OS filesystem.
func Glob(pattern string) GlobContent {
	return GlobContent{Pattern: pattern}
}

// Fingerprint implements Fingerprintable.
func (g GlobContent) Fingerprint() (string, error) {
	fs := fsOrOs(g.Fs)
	matches, err := expandGlob(g.Pattern, fs)
	if err != nil {
		return "", fmt.Errorf("glob %s: %w", g.Pattern, err)
	}
	sum, err := hashFiles(fs, matches)
	if err != nil {
		return "", err
	}
	return "glob:" + g.Pattern + ":" + sum, nil
}

func (g GlobContent) String() string {
	return g.Pattern
}

// DirContent is an argument fingerprinted by every file below Path whose
// base name matches none of the Exclude patterns.
type DirContent struct {
	Path    string
	Exclude []string
	Fs      afero.Fs
}

// Dir returns a DirContent for path on the OS filesystem.
func Dir(path string, exclude ...string) DirContent {
	return DirContent{Path: path, Exclude: exclude}
}

// Fingerprint implements Fingerprintable.
func (d DirContent) Fingerprint() (string, error) {
	fs := fsOrOs(d.Fs)
	var files []string
	err := afero.Walk(fs, d.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		// Exclusions match the base name only
		for _, pattern := range d.Exclude {
			matched, err := filepath.Match(pattern, filepath.Base(path))
			if err != nil {
				return fmt.Errorf("invalid exclude pattern %s: %w", pattern, err)
			}
			if matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("dir %s: %w", d.Path, err)
	}

	sum, err := hashFiles(fs, files)
	if err != nil {
		return "", err
	}
	if len(d.Exclude) == 0 {
		return "dir:" + d.Path + ":" + sum, nil
	}
	return "dir:" + d.Path + "(exclude:" + strings.Join(d.Exclude, ",") + "):" + sum, nil
}

func (d DirContent) String() string {
	return d.Path
}

func fsOrOs(fs afero.Fs) afero.Fs {
	if fs == nil {
		return afero.NewOsFs()
	}
	return fs
}

// hashFiles hashes the count, then each path and its content, in sorted order.
func hashFiles(fs afero.Fs, paths []string) (string, error) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	h := sha256.New()
	fmt.Fprintf(h, "%d", len(sorted))
	for _, path := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(filepath.ToSlash(path)))
		h.Write([]byte{0})

		f, err := fs.Open(path)
		if err != nil {
			return "", fmt.Errorf("file %s: %w", path, err)
		}
		err = hashReader(f, h)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("file %s: %w", path, err)
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// expandGlob expands a glob pattern (supporting **) and returns matching file paths.
func expandGlob(pattern string, fs afero.Fs) ([]string, error) {
	hasRecursive := strings.Contains(pattern, "**")

	// Determine base directory
	var baseDir string
	if hasRecursive {
		prefix, _, _ := strings.Cut(pattern, "**")
		baseDir = filepath.Dir(prefix)
		if baseDir == "." && prefix != "" && !strings.HasSuffix(prefix, "/") && !strings.HasSuffix(prefix, string(filepath.Separator)) {
			baseDir = prefix
		}
	} else {
		baseDir = filepath.Dir(pattern)
	}
	if baseDir != "." {
		exists, err := afero.DirExists(fs, baseDir)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, nil
		}
	}

	var matches []string
	err := afero.Walk(fs, baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		if hasRecursive {
			if matchesGlobPattern(path, pattern) {
				matches = append(matches, path)
			}
			return nil
		}
		if filepath.Dir(path) != filepath.Dir(pattern) {
			return nil
		}
		matched, err := filepath.Match(filepath.Base(pattern), filepath.Base(path))
		if err != nil {
			return err
		}
		if matched {
			matches = append(matches, path)
		}
		return nil
	})
	return matches, err
}

// matchesGlobPattern checks if a path matches a pattern with ** support.
func matchesGlobPattern(path, pattern string) bool {
	patternParts := strings.Split(filepath.ToSlash(pattern), "/")
	pathParts := strings.Split(filepath.ToSlash(path), "/")
	return matchGlobParts(pathParts, patternParts)
}

// matchGlobParts matches path segments against pattern segments, where a
// "**" segment stands for zero or more path segments.
func matchGlobParts(path, pattern []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		if matchGlobParts(path, pattern[1:]) {
			return true
		}
		return len(path) > 0 && matchGlobParts(path[1:], pattern)
	}
	if len(path) == 0 {
		return false
	}
	matched, err := filepath.Match(pattern[0], path[0])
	return err == nil && matched && matchGlobParts(path[1:], pattern[1:])
}

var (
	_ Fingerprintable = FileContent{}
	_ Fingerprintable = GlobContent{}
	_ Fingerprintable = DirContent{}
)
