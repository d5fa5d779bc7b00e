package tables

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astrid/sdssfit/internal/models"
)

func TestLayoutPaths(t *testing.T) {
	tests := []struct {
		name    string
		layout  Layout
		input   string
		wantTab string
		wantMod string
		wantFig string
	}{
		{
			name: "flat layout",
			layout: Layout{
				OutputDir: "out",
				TabPrefix: "outtab_",
				ModPrefix: "mod_",
				FigPrefix: "fig_",
			},
			input:   "/data/4501/spec-101-59465-123.fits",
			wantTab: "out/outtab_spec-101-59465-123.csv",
			wantMod: "out/mod_spec-101-59465-123.fits",
			wantFig: "out/figs/fig_spec-101-59465-123.png",
		},
		{
			name: "subdirs mirror the input parent",
			layout: Layout{
				OutputDir: "out",
				TabPrefix: "outtab_",
				ModPrefix: "mod_",
				FigPrefix: "fig_",
				Subdirs:   true,
			},
			input:   "/data/4501/spec-101-59465-123.fits",
			wantTab: "out/4501/outtab_spec-101-59465-123.csv",
			wantMod: "out/4501/mod_spec-101-59465-123.fits",
			wantFig: "out/figs/4501/fig_spec-101-59465-123.png",
		},
		{
			name: "explicit figure directory",
			layout: Layout{
				OutputDir: "out",
				TabPrefix: "outtab_",
				ModPrefix: "mod_",
				FigDir:    "plots",
				FigPrefix: "fig_",
			},
			input:   "spec-1.fits",
			wantTab: "out/outtab_spec-1.csv",
			wantMod: "out/mod_spec-1.fits",
			wantFig: "plots/fig_spec-1.png",
		},
		{
			name: "compressed input keeps a clean stem",
			layout: Layout{
				OutputDir: ".",
				TabPrefix: "outtab_",
				ModPrefix: "mod_",
				FigPrefix: "fig_",
			},
			input:   "spec-101-59465-123.fits.gz",
			wantTab: "outtab_spec-101-59465-123.csv",
			wantMod: "mod_spec-101-59465-123.fits",
			wantFig: "figs/fig_spec-101-59465-123.png",
		},
		{
			name: "subdirs with a bare filename",
			layout: Layout{
				OutputDir: "out",
				TabPrefix: "outtab_",
				ModPrefix: "mod_",
				FigPrefix: "fig_",
				Subdirs:   true,
			},
			input:   "spec-1.fits",
			wantTab: "out/outtab_spec-1.csv",
			wantMod: "out/mod_spec-1.fits",
			wantFig: "out/figs/fig_spec-1.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.layout.TablePath(tt.input); got != filepath.FromSlash(tt.wantTab) {
				t.Errorf("TablePath() = %q, want %q", got, tt.wantTab)
			}
			if got := tt.layout.ModelPath(tt.input); got != filepath.FromSlash(tt.wantMod) {
				t.Errorf("ModelPath() = %q, want %q", got, tt.wantMod)
			}
			if got := tt.layout.FigurePath(tt.input); got != filepath.FromSlash(tt.wantFig) {
				t.Errorf("FigurePath() = %q, want %q", got, tt.wantFig)
			}
		})
	}
}

func TestRender(t *testing.T) {
	rows := []models.FitRow{
		{
			TargetID: "4592320451",
			Arms:     "b,r",
			Vrad:     -42.137,
			VradErr:  0.513,
			Teff:     5777,
			Logg:     4.44,
			Feh:      -0.02,
			Alpha:    0.05,
			Vsini:    2.1,
			Chisq:    1.03,
			SN:       31.5,
			Success:  true,
		},
		{
			TargetID: "4592320452",
			Arms:     "b",
			Vrad:     118.4,
			VradErr:  1.9,
			Teff:     4810,
			Logg:     2.3,
			Feh:      -1.4,
			Alpha:    0.31,
			Vsini:    0,
			Chisq:    0.97,
			SN:       12.2,
			Success:  true,
		},
	}

	data, err := Render(rows)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows", len(lines))
	}

	wantHeader := "targetid,vrad,vrad_err,teff,logg,feh,alpha,vsini,chisq,sn,arms"
	if lines[0] != wantHeader {
		t.Errorf("header = %q, want %q", lines[0], wantHeader)
	}

	// The multi-arm value must survive CSV quoting.
	wantRow := `4592320451,-42.137,0.513,5777,4.44,-0.02,0.05,2.1,1.03,31.5,"b,r"`
	if lines[1] != wantRow {
		t.Errorf("row = %q, want %q", lines[1], wantRow)
	}
	if !strings.HasSuffix(lines[2], ",b") {
		t.Errorf("row = %q, want unquoted single arm", lines[2])
	}
}

func TestRenderEmptyRows(t *testing.T) {
	data, err := Render(nil)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 1 {
		t.Errorf("got %d lines, want header only", len(lines))
	}
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "field", "outtab_spec-1.csv")

	rows := []models.FitRow{{TargetID: "1", Arms: "b", Vrad: 5.5}}
	if err := Write(path, rows); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if !Exists(path) {
		t.Error("Exists() = false after Write")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.HasPrefix(string(data), "targetid,") {
		t.Errorf("table = %q, want header first", string(data))
	}
	if !strings.Contains(string(data), "5.5") {
		t.Error("table should carry the row values")
	}

	// No leftover temp files from the atomic write.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d files in output dir, want 1", len(entries))
	}
}

func TestWriteReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outtab_spec-1.csv")

	if err := Write(path, []models.FitRow{{TargetID: "old"}}); err != nil {
		t.Fatal(err)
	}
	if err := Write(path, []models.FitRow{{TargetID: "new"}}); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "old") {
		t.Error("rewrite should replace the previous table")
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()

	if Exists(filepath.Join(dir, "missing.csv")) {
		t.Error("Exists() = true for a missing file")
	}
	if Exists(dir) {
		t.Error("Exists() = true for a directory")
	}
}

func TestEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	layout := Layout{
		OutputDir: filepath.Join(dir, "out"),
		TabPrefix: "outtab_",
		ModPrefix: "mod_",
		FigPrefix: "fig_",
		Subdirs:   true,
	}

	input := "/data/4501/spec-1.fits"
	if err := layout.EnsureDirs(input, true); err != nil {
		t.Fatalf("EnsureDirs() error = %v", err)
	}

	for _, want := range []string{
		filepath.Join(dir, "out", "4501"),
		filepath.Join(dir, "out", "figs", "4501"),
	} {
		info, err := os.Stat(want)
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", want)
		}
	}
}

func TestEnsureDirsNoPlot(t *testing.T) {
	dir := t.TempDir()
	layout := Layout{OutputDir: filepath.Join(dir, "out"), TabPrefix: "outtab_"}

	if err := layout.EnsureDirs("spec-1.fits", false); err != nil {
		t.Fatalf("EnsureDirs() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "figs")); !os.IsNotExist(err) {
		t.Error("figure directory should not be created without doplot")
	}
}
