package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScanSpectra(t *testing.T) {
	// Create a temporary test directory structure
	tmpDir := t.TempDir()

	// tmpDir/
	//   spec-015078-59187-100.fits
	//   spec-015078-59187-101.fits.gz
	//   spec-015078-59187-102.FIT (case-insensitive)
	//   notes.txt
	//   redux.log
	//   015079/
	//     spec-015079-59190-200.fits
	//     deep/
	//       spec-015079-59191-201.fits
	//   .hidden/
	//     spec-000000-00000-999.fits
	//   calib/
	//     arc-lamp.fits

	testFiles := []string{
		"spec-015078-59187-100.fits",
		"spec-015078-59187-101.fits.gz",
		"spec-015078-59187-102.FIT",
		"notes.txt",
		"redux.log",
		"015079/spec-015079-59190-200.fits",
		"015079/deep/spec-015079-59191-201.fits",
		".hidden/spec-000000-00000-999.fits",
		"calib/arc-lamp.fits",
	}

	for _, f := range testFiles {
		path := filepath.Join(tmpDir, f)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, []byte("test content"), 0644); err != nil {
			t.Fatalf("failed to create file: %v", err)
		}
	}

	t.Run("default extensions recursive", func(t *testing.T) {
		result, err := ScanSpectra(tmpDir, ScanOptions{})
		if err != nil {
			t.Fatalf("ScanSpectra() error = %v", err)
		}

		want := []string{
			"spec-015079-59190-200.fits",
			"spec-015079-59191-201.fits",
			"arc-lamp.fits",
			"spec-015078-59187-100.fits",
			"spec-015078-59187-101.fits.gz",
			"spec-015078-59187-102.FIT",
		}
		if len(result.Files) != len(want) {
			t.Fatalf("got %d files, want %d: %v", len(result.Files), len(want), result.Files)
		}
		for _, name := range want {
			if !containsBase(result.Files, name) {
				t.Errorf("expected %s in results", name)
			}
		}
		if containsBase(result.Files, "notes.txt") || containsBase(result.Files, "redux.log") {
			t.Error("non-spectrum files must be excluded")
		}
		if containsBase(result.Files, "spec-000000-00000-999.fits") {
			t.Error("hidden directories must be excluded")
		}
	})

	t.Run("results are sorted absolute paths", func(t *testing.T) {
		result, err := ScanSpectra(tmpDir, ScanOptions{})
		if err != nil {
			t.Fatalf("ScanSpectra() error = %v", err)
		}
		for i, f := range result.Files {
			if !filepath.IsAbs(f) {
				t.Errorf("path %s is not absolute", f)
			}
			if i > 0 && result.Files[i-1] > f {
				t.Errorf("results not sorted: %s before %s", result.Files[i-1], f)
			}
		}
	})

	t.Run("max depth limits recursion", func(t *testing.T) {
		result, err := ScanSpectra(tmpDir, ScanOptions{MaxDepth: 1})
		if err != nil {
			t.Fatalf("ScanSpectra() error = %v", err)
		}
		if containsBase(result.Files, "spec-015079-59190-200.fits") {
			t.Error("MaxDepth 1 must not descend into subdirectories")
		}
		if !containsBase(result.Files, "spec-015078-59187-100.fits") {
			t.Error("MaxDepth 1 must still include top-level files")
		}
	})

	t.Run("exclude dirs", func(t *testing.T) {
		result, err := ScanSpectra(tmpDir, ScanOptions{ExcludeDirs: []string{"calib"}})
		if err != nil {
			t.Fatalf("ScanSpectra() error = %v", err)
		}
		if containsBase(result.Files, "arc-lamp.fits") {
			t.Error("excluded directory calib/ must be skipped")
		}
	})

	t.Run("custom extensions", func(t *testing.T) {
		result, err := ScanSpectra(tmpDir, ScanOptions{Extensions: []string{".txt"}})
		if err != nil {
			t.Fatalf("ScanSpectra() error = %v", err)
		}
		if len(result.Files) != 1 || !containsBase(result.Files, "notes.txt") {
			t.Errorf("expected only notes.txt, got %v", result.Files)
		}
	})
}

func TestScanSpectraErrors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		if _, err := ScanSpectra("/nonexistent/spectra", ScanOptions{}); err == nil {
			t.Error("expected error for missing directory")
		}
	})

	t.Run("path is a file", func(t *testing.T) {
		tmpDir := t.TempDir()
		file := filepath.Join(tmpDir, "spec.fits")
		if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := ScanSpectra(file, ScanOptions{}); err == nil {
			t.Error("expected error when path is not a directory")
		}
	})
}

func TestStem(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"spec-015078-59187-100.fits", "spec-015078-59187-100"},
		{"/data/redux/spec-015078-59187-100.fits.gz", "spec-015078-59187-100"},
		{"spec-1.FIT", "spec-1"},
		{"Spec-1.FITS.GZ", "Spec-1"},
		{"table.dat", "table"},
		{"noext", "noext"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := Stem(tt.path); got != tt.want {
				t.Errorf("Stem(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatchesTargetID(t *testing.T) {
	tests := []struct {
		path string
		id   string
		want bool
	}{
		{"spec-015078-59187-4592320451.fits", "4592320451", true},
		{"/data/spec-015078-59187-4592320451.fits.gz", "4592320451", true},
		{"spec-015078-59187-14592320451.fits", "4592320451", false}, // prefix digit
		{"spec-015078-59187-4592320451.fits", "459232", false},      // partial id
		{"spec-4592320451-59187-100.fits", "4592320451", false},     // id not last
		{"spec-015078-59187-4592320451.fits", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path+"/"+tt.id, func(t *testing.T) {
			if got := MatchesTargetID(tt.path, tt.id); got != tt.want {
				t.Errorf("MatchesTargetID(%q, %q) = %v, want %v", tt.path, tt.id, got, tt.want)
			}
		})
	}
}

func TestHasAnyExt(t *testing.T) {
	if !hasAnyExt("spec.fits", []string{".fits"}) {
		t.Error("expected .fits to match")
	}
	if !hasAnyExt("spec.FITS.GZ", []string{".fits.gz"}) {
		t.Error("expected case-insensitive double extension to match")
	}
	// Extensions may be given without the leading dot.
	if !hasAnyExt("spec.fits", []string{"fits"}) {
		t.Error("expected dotless extension spec to match")
	}
	if hasAnyExt("spec.txt", []string{".fits", ".fit"}) {
		t.Error("expected .txt to be rejected")
	}
}

func containsBase(paths []string, base string) bool {
	for _, p := range paths {
		if filepath.Base(p) == base {
			return true
		}
	}
	return false
}
