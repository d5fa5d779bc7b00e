// Package inputs resolves the fit command's input selection (explicit
// paths, list files, target IDs, directory scans) into the final ordered
// list of spectrum files.
package inputs

import (
	"fmt"
	"os"
	"strings"

	"github.com/astrid/sdssfit/internal/fileutil"
)

// Request carries the raw input-selection flags of a fit invocation.
type Request struct {
	// Paths are explicit spectrum files (positional arguments)
	Paths []string

	// ListFile is a file with one spectrum path per line
	ListFile string

	// TargetIDs are survey target identifiers
	TargetIDs []string

	// TargetIDFile is a file with one target ID per line
	TargetIDFile string

	// SpectraDir is a directory scanned recursively for spectrum files
	SpectraDir string
}

// Resolution is the outcome of input resolution.
type Resolution struct {
	// Files are the resolved spectrum paths, deduplicated in first-seen
	// order: positional paths, then list-file entries, then scan results
	Files []string

	// MissingIDs are target IDs that matched no file, in first-seen order
	MissingIDs []string
}

// Resolve applies the selection rules: target IDs filter the union of file
// sources when any are present, and select over the spectra directory
// otherwise. Explicit paths must exist and be regular files. An empty
// resolution is an error.
func Resolve(req Request) (*Resolution, error) {
	ids, err := resolveTargetIDs(req)
	if err != nil {
		return nil, err
	}

	candidates, err := resolveCandidates(req)
	if err != nil {
		return nil, err
	}

	if len(ids) > 0 && len(candidates) == 0 {
		return nil, fmt.Errorf("target IDs given but no spectrum source; provide --spectra-dir or explicit files")
	}

	res := &Resolution{}
	if len(ids) > 0 {
		matched := make(map[string]bool, len(ids))
		for _, file := range candidates {
			for _, id := range ids {
				if fileutil.MatchesTargetID(file, id) {
					res.Files = append(res.Files, file)
					matched[id] = true
					break
				}
			}
		}
		for _, id := range ids {
			if !matched[id] {
				res.MissingIDs = append(res.MissingIDs, id)
			}
		}
	} else {
		res.Files = candidates
	}

	if err := verifyRegular(res.Files); err != nil {
		return nil, err
	}

	if len(res.Files) == 0 {
		return nil, fmt.Errorf("no input spectra resolved")
	}

	return res, nil
}

// resolveTargetIDs merges --targetid values and the --targetid-file,
// deduplicated in first-seen order.
func resolveTargetIDs(req Request) ([]string, error) {
	ids := append([]string(nil), req.TargetIDs...)

	if req.TargetIDFile != "" {
		fromFile, err := readLines(req.TargetIDFile)
		if err != nil {
			return nil, fmt.Errorf("--targetid-file: %w", err)
		}
		ids = append(ids, fromFile...)
	}

	return dedupe(ids), nil
}

// resolveCandidates builds the union of file sources in source order:
// positional paths, list-file entries, spectra-dir scan.
func resolveCandidates(req Request) ([]string, error) {
	var candidates []string

	candidates = append(candidates, req.Paths...)

	if req.ListFile != "" {
		fromList, err := readLines(req.ListFile)
		if err != nil {
			return nil, fmt.Errorf("--input-list: %w", err)
		}
		candidates = append(candidates, fromList...)
	}

	if req.SpectraDir != "" {
		scan, err := fileutil.ScanSpectra(req.SpectraDir, fileutil.ScanOptions{})
		if err != nil {
			return nil, fmt.Errorf("--spectra-dir: %w", err)
		}
		candidates = append(candidates, scan.Files...)
	}

	return dedupe(candidates), nil
}

// verifyRegular checks every resolved path exists and is a regular file,
// aggregating all offenders into one error.
func verifyRegular(files []string) error {
	var bad []string
	for _, file := range files {
		info, err := os.Stat(file)
		switch {
		case err != nil:
			bad = append(bad, fmt.Sprintf("%s: %v", file, err))
		case !info.Mode().IsRegular():
			bad = append(bad, fmt.Sprintf("%s: not a regular file", file))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("unusable input spectra:\n  %s", strings.Join(bad, "\n  "))
	}
	return nil
}

// readLines reads non-blank lines from a file; # starts a comment,
// whole-line or trailing.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
