// Package tables writes per-spectrum output tables and computes the
// output paths shared by the table writer, the skip logic, and the
// model/figure paths handed to the engine.
package tables

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/astrid/sdssfit/internal/filelock"
	"github.com/astrid/sdssfit/internal/fileutil"
	"github.com/astrid/sdssfit/internal/models"
)

// ErrOutputExists reports an output table already on disk. Callers decide
// whether that means skip (--skip-existing), rewrite (--overwrite), or a
// per-input failure.
var ErrOutputExists = errors.New("output table exists")

// Columns is the output table column order.
var Columns = []string{
	"targetid", "vrad", "vrad_err", "teff", "logg", "feh",
	"alpha", "vsini", "chisq", "sn", "arms",
}

// Layout computes the output paths for one run. All products of one input
// spectrum share the same stem; prefixes tell them apart.
type Layout struct {
	OutputDir string // root for tables and models
	TabPrefix string // table filename prefix, e.g. outtab_
	ModPrefix string // best-fit model filename prefix, e.g. mod_
	FigDir    string // figure root; empty means <OutputDir>/figs
	FigPrefix string // figure filename prefix, e.g. fig_
	Subdirs   bool   // mirror each input's parent directory name
}

// TablePath returns where the output table for input goes.
func (l Layout) TablePath(input string) string {
	return l.product(l.OutputDir, l.TabPrefix, input, ".csv")
}

// ModelPath returns where the engine writes the best-fit model for input.
func (l Layout) ModelPath(input string) string {
	return l.product(l.OutputDir, l.ModPrefix, input, ".fits")
}

// FigurePath returns where the engine writes the diagnostic figure for
// input.
func (l Layout) FigurePath(input string) string {
	return l.product(l.figDir(), l.FigPrefix, input, ".png")
}

// EnsureDirs creates the table/model directories for input, and the
// figure directory when figures are being made.
func (l Layout) EnsureDirs(input string, doplot bool) error {
	if err := os.MkdirAll(filepath.Dir(l.TablePath(input)), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if doplot {
		if err := os.MkdirAll(filepath.Dir(l.FigurePath(input)), 0755); err != nil {
			return fmt.Errorf("create figure directory: %w", err)
		}
	}
	return nil
}

func (l Layout) figDir() string {
	if l.FigDir != "" {
		return l.FigDir
	}
	return filepath.Join(l.OutputDir, "figs")
}

// product renders <root>[/<input-parent>]/<prefix><stem><ext>.
func (l Layout) product(root, prefix, input, ext string) string {
	dir := root
	if l.Subdirs {
		if parent := filepath.Base(filepath.Dir(input)); parent != "." && parent != string(filepath.Separator) {
			dir = filepath.Join(root, parent)
		}
	}
	return filepath.Join(dir, prefix+fileutil.Stem(input)+ext)
}

// Render encodes rows as CSV in the output column order.
func Render(rows []models.FitRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(Columns); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			row.TargetID,
			formatFloat(row.Vrad),
			formatFloat(row.VradErr),
			formatFloat(row.Teff),
			formatFloat(row.Logg),
			formatFloat(row.Feh),
			formatFloat(row.Alpha),
			formatFloat(row.Vsini),
			formatFloat(row.Chisq),
			formatFloat(row.SN),
			row.Arms,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write renders rows and writes the table atomically at path, creating
// parent directories as needed.
func Write(path string, rows []models.FitRow) error {
	data, err := Render(rows)
	if err != nil {
		return fmt.Errorf("render table %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := filelock.AtomicWrite(path, data); err != nil {
		return fmt.Errorf("write table %s: %w", path, err)
	}
	return nil
}

// Exists reports whether the output table is already on disk.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
