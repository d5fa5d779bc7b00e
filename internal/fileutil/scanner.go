package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions are the spectrum file extensions recognized by scans.
// Order matters: longer (double) extensions are checked first so
// "spec.fits.gz" strips to "spec", not "spec.fits".
var DefaultExtensions = []string{".fits.gz", ".fits", ".fit"}

// ScanOptions configures the directory scanning behavior
type ScanOptions struct {
	// Extensions is a list of file extensions to include; nil means
	// DefaultExtensions. Double extensions like ".fits.gz" are matched as
	// name suffixes.
	Extensions []string
	// ExcludeDirs is a list of directory names to exclude in addition to
	// dot-directories
	ExcludeDirs []string
	// MaxDepth limits recursion depth (0 = unlimited, 1 = top dir only)
	MaxDepth int
}

// ScanResult contains the results of a directory scan
type ScanResult struct {
	// Files contains the absolute paths of all matched files, sorted
	Files []string
	// Errors contains any errors encountered during scanning
	Errors []error
}

// ScanSpectra recursively scans a directory for spectrum files matching the
// provided options. Unreadable entries are collected into ScanResult.Errors
// and the walk continues.
func ScanSpectra(dir string, opts ScanOptions) (*ScanResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	excludeMap := make(map[string]bool)
	for _, name := range opts.ExcludeDirs {
		excludeMap[name] = true
	}

	result := &ScanResult{
		Files:  make([]string, 0),
		Errors: make([]error, 0),
	}

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("error accessing %s: %w", path, err))
			return nil // Continue walking
		}

		// Skip the root directory itself
		if path == dir {
			return nil
		}

		if d.IsDir() {
			if excludeMap[d.Name()] || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}

			if opts.MaxDepth > 0 {
				relPath, _ := filepath.Rel(dir, path)
				depth := strings.Count(relPath, string(filepath.Separator)) + 1
				if depth >= opts.MaxDepth {
					return filepath.SkipDir
				}
			}

			return nil
		}

		if !hasAnyExt(d.Name(), exts) {
			return nil
		}

		absPath, err := filepath.Abs(path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to resolve path %s: %w", path, err))
			return nil
		}

		result.Files = append(result.Files, absPath)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	// Sort files for consistent output
	sort.Strings(result.Files)

	return result, nil
}

// hasAnyExt reports whether name ends with one of the extensions,
// case-insensitively.
func hasAnyExt(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// Stem returns the basename of path with its spectrum extension removed.
// Double extensions strip fully: "spec-123.fits.gz" yields "spec-123".
// Unrecognized extensions strip once: "spec-123.dat" yields "spec-123".
func Stem(path string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, ext := range DefaultExtensions {
		if strings.HasSuffix(lower, ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// MatchesTargetID reports whether the file's stem ends in "-<id>", the
// survey naming convention (spec-<field>-<mjd>-<catalogid>).
func MatchesTargetID(path, id string) bool {
	if id == "" {
		return false
	}
	return strings.HasSuffix(Stem(path), "-"+id)
}
