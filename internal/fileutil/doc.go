// Package fileutil provides spectrum-file scanning and the filename
// conventions shared across sdssfit.
//
// This package is the single source of truth for how spectrum files are
// recognized on disk: which extensions count as spectra, how a file's stem
// is computed for output naming, and how survey target IDs map onto
// filenames.
//
// # Key features
//
//   - Recursive directory scanning with configurable depth limits
//   - Case-insensitive extension filtering with double-extension support
//     (".fits.gz" strips as one unit)
//   - Automatic exclusion of hidden directories (starting with ".")
//   - Sorted, deterministic output (alphabetically sorted absolute paths)
//   - Error tolerance (non-fatal errors collected, scanning continues)
//
// # Main components
//
// ScanOptions configures a scan (extensions, excluded directories, max
// depth). ScanResult carries the matched absolute paths plus any non-fatal
// errors. ScanSpectra walks a directory tree with those options.
//
// Stem and MatchesTargetID implement the survey filename convention: a
// coadded spectrum is named spec-<field>-<mjd>-<catalogid> plus an
// extension, so a target ID selects files whose stem ends in "-<id>".
//
// # Usage
//
// Scanning a reduction directory for spectra:
//
//	result, err := fileutil.ScanSpectra("/data/spectro", fileutil.ScanOptions{})
//	if err != nil {
//	    return err
//	}
//	for _, file := range result.Files {
//	    fmt.Println(file)
//	}
//	if len(result.Errors) > 0 {
//	    log.Printf("%d entries were unreadable", len(result.Errors))
//	}
//
// Matching a target ID against a candidate file:
//
//	fileutil.MatchesTargetID("spec-015078-59187-4592320451.fits", "4592320451") // true
//
// # Error tolerance
//
// The scanner collects non-fatal errors (e.g., permission denied on a
// subdirectory) and continues. Only fatal errors (the root directory doesn't
// exist or isn't a directory) cause immediate failure.
package fileutil
