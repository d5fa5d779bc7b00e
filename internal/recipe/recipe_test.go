package recipe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     Format
	}{
		{
			name:     "YAML .yaml extension",
			filename: "sdss.yaml",
			want:     FormatYAML,
		},
		{
			name:     "YAML .yml extension",
			filename: "sdss.yml",
			want:     FormatYAML,
		},
		{
			name:     "markdown .md extension",
			filename: "sdss.md",
			want:     FormatMarkdown,
		},
		{
			name:     "markdown .markdown extension",
			filename: "sdss.markdown",
			want:     FormatMarkdown,
		},
		{
			name:     "uppercase extension",
			filename: "SDSS.YAML",
			want:     FormatYAML,
		},
		{
			name:     "unknown extension",
			filename: "sdss.txt",
			want:     FormatUnknown,
		},
		{
			name:     "no extension",
			filename: "recipe",
			want:     FormatUnknown,
		},
		{
			name:     "path with directories",
			filename: "/data/recipes/sdss.md",
			want:     FormatMarkdown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectFormat(tt.filename)
			if got != tt.want {
				t.Errorf("DetectFormat(%q) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestFormatString(t *testing.T) {
	if FormatYAML.String() != "yaml" {
		t.Errorf("FormatYAML.String() = %q", FormatYAML.String())
	}
	if FormatMarkdown.String() != "markdown" {
		t.Errorf("FormatMarkdown.String() = %q", FormatMarkdown.String())
	}
	if FormatUnknown.String() != "unknown" {
		t.Errorf("FormatUnknown.String() = %q", FormatUnknown.String())
	}
}

const yamlRecipe = `name: sdss-dr18
grid_dir: /grids/phoenix
output_dir: /templ/sdss
revision: v2026.1
every: 30
vsinis: [0, 10, 100]
setups:
  - name: sdss1
    lambda0: 4500
    lambda1: 5500
    step: 0.5
    resolution: 2000
  - name: sdss2
    lambda0: 5500
    lambda1: 6500
    step: 0.5
    resolution: 2200
`

func TestParseYAML(t *testing.T) {
	rec, err := Parse(strings.NewReader(yamlRecipe), FormatYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if rec.Name != "sdss-dr18" {
		t.Errorf("Name = %q, want %q", rec.Name, "sdss-dr18")
	}
	if rec.GridDir != "/grids/phoenix" {
		t.Errorf("GridDir = %q", rec.GridDir)
	}
	if rec.OutputDir != "/templ/sdss" {
		t.Errorf("OutputDir = %q", rec.OutputDir)
	}
	if rec.Revision != "v2026.1" {
		t.Errorf("Revision = %q", rec.Revision)
	}
	if rec.Every != 30 {
		t.Errorf("Every = %d, want 30", rec.Every)
	}
	if len(rec.Vsinis) != 3 || rec.Vsinis[2] != 100 {
		t.Errorf("Vsinis = %v", rec.Vsinis)
	}

	if len(rec.Setups) != 2 {
		t.Fatalf("len(Setups) = %d, want 2", len(rec.Setups))
	}
	s := rec.Setups[0]
	if s.Name != "sdss1" || s.Lambda0 != 4500 || s.Lambda1 != 5500 || s.Step != 0.5 || s.Resol != 2000 {
		t.Errorf("Setups[0] = %+v", s)
	}
}

func TestParseYAMLUnknownKey(t *testing.T) {
	_, err := Parse(strings.NewReader("name: x\ngriddir: /g\n"), FormatYAML)
	if err == nil {
		t.Fatal("Parse() should reject unknown keys")
	}
}

func TestParseYAMLEmpty(t *testing.T) {
	rec, err := Parse(strings.NewReader(""), FormatYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rec.Setups) != 0 || rec.Name != "" {
		t.Errorf("empty input should give a zero recipe, got %+v", rec)
	}
}

const markdownRecipe = `---
name: sdss-dr18
grid_dir: /grids/phoenix
output_dir: /templ/sdss
revision: v2026.1
every: 30
vsinis: [0, 10, 100]
---

# SDSS template library

Build notes for the DR18 run.

## Setup sdss1

Blue arm of the BOSS spectrograph.

**Lambda0**: 4500
**Lambda1**: 5500
**Step**: 0.5
**Resolution**: 2000

## Setup sdss2

- **Lambda0**: 5500
- **Lambda1**: 6500
- **Step**: 0.5
- **Resolution**: 2200

## Notes

**Lambda0**: 9999
`

func TestParseMarkdown(t *testing.T) {
	rec, err := Parse(strings.NewReader(markdownRecipe), FormatMarkdown)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if rec.Name != "sdss-dr18" {
		t.Errorf("Name = %q, want %q", rec.Name, "sdss-dr18")
	}
	if rec.GridDir != "/grids/phoenix" {
		t.Errorf("GridDir = %q", rec.GridDir)
	}
	if rec.Every != 30 {
		t.Errorf("Every = %d, want 30", rec.Every)
	}
	if len(rec.Vsinis) != 3 {
		t.Errorf("Vsinis = %v", rec.Vsinis)
	}

	if len(rec.Setups) != 2 {
		t.Fatalf("len(Setups) = %d, want 2 (the Notes section is not a setup)", len(rec.Setups))
	}

	first := rec.Setups[0]
	if first.Name != "sdss1" {
		t.Errorf("Setups[0].Name = %q", first.Name)
	}
	if first.Lambda0 != 4500 || first.Lambda1 != 5500 || first.Step != 0.5 || first.Resol != 2000 {
		t.Errorf("plain field lines: Setups[0] = %+v", first)
	}

	second := rec.Setups[1]
	if second.Name != "sdss2" {
		t.Errorf("Setups[1].Name = %q", second.Name)
	}
	if second.Lambda0 != 5500 || second.Lambda1 != 6500 || second.Step != 0.5 || second.Resol != 2200 {
		t.Errorf("bulleted field lines: Setups[1] = %+v", second)
	}
}

func TestParseMarkdownNoFrontMatter(t *testing.T) {
	input := `## Setup halo

**Lambda0**: 3800
**Lambda1**: 9200
**Step**: 1
**Resolution**: 1800
`
	rec, err := Parse(strings.NewReader(input), FormatMarkdown)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if rec.Name != "" || rec.GridDir != "" {
		t.Errorf("recipe without front matter should have empty metadata, got %+v", rec)
	}
	if len(rec.Setups) != 1 || rec.Setups[0].Lambda1 != 9200 {
		t.Errorf("Setups = %+v", rec.Setups)
	}
}

func TestParseMarkdownIgnoresCodeBlocks(t *testing.T) {
	input := "## Setup sdss1\n\n```\nLambda0: 1111\n```\n\n**Lambda0**: 4500\n**Lambda1**: 5500\n**Step**: 0.5\n**Resolution**: 2000\n"

	rec, err := Parse(strings.NewReader(input), FormatMarkdown)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rec.Setups) != 1 {
		t.Fatalf("len(Setups) = %d", len(rec.Setups))
	}
	if rec.Setups[0].Lambda0 != 4500 {
		t.Errorf("Lambda0 = %g, code block should not set fields", rec.Setups[0].Lambda0)
	}
}

func TestParseMarkdownIgnoresProseColons(t *testing.T) {
	input := `## Setup sdss1

Note: wavelengths are in vacuum.

**Lambda0**: 4500
**Lambda1**: 5500
**Step**: 0.5
**Resolution**: 2000
`
	rec, err := Parse(strings.NewReader(input), FormatMarkdown)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if rec.Setups[0].Lambda0 != 4500 {
		t.Errorf("Setups[0] = %+v", rec.Setups[0])
	}
}

func TestParseMarkdownBadFieldValue(t *testing.T) {
	input := `## Setup sdss1

**Lambda0**: not-a-number
`
	_, err := Parse(strings.NewReader(input), FormatMarkdown)
	if err == nil {
		t.Fatal("Parse() should reject unparsable field values")
	}
	if !strings.Contains(err.Error(), "lambda0") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestParseMarkdownUnknownFrontMatterKey(t *testing.T) {
	input := `---
name: x
grd_dir: /grids
---

## Setup sdss1
`
	_, err := Parse(strings.NewReader(input), FormatMarkdown)
	if err == nil {
		t.Fatal("Parse() should reject unknown front matter keys")
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "sdss.yaml")
	if err := os.WriteFile(yamlPath, []byte(yamlRecipe), 0644); err != nil {
		t.Fatal(err)
	}
	rec, err := ParseFile(yamlPath)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if !filepath.IsAbs(rec.FilePath) {
		t.Errorf("FilePath = %q, want absolute", rec.FilePath)
	}
	if len(rec.Setups) != 2 {
		t.Errorf("len(Setups) = %d", len(rec.Setups))
	}

	mdPath := filepath.Join(dir, "sdss.md")
	if err := os.WriteFile(mdPath, []byte(markdownRecipe), 0644); err != nil {
		t.Fatal(err)
	}
	rec, err = ParseFile(mdPath)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if rec.Name != "sdss-dr18" || len(rec.Setups) != 2 {
		t.Errorf("markdown recipe = %+v", rec)
	}

	if _, err := ParseFile(filepath.Join(dir, "recipe.txt")); err == nil {
		t.Error("ParseFile() should reject unknown extensions")
	}
	if _, err := ParseFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("ParseFile() should report missing files")
	}
}

func TestParseEquivalence(t *testing.T) {
	yamlRec, err := Parse(strings.NewReader(yamlRecipe), FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	mdRec, err := Parse(strings.NewReader(markdownRecipe), FormatMarkdown)
	if err != nil {
		t.Fatal(err)
	}

	if yamlRec.Name != mdRec.Name || yamlRec.GridDir != mdRec.GridDir ||
		yamlRec.OutputDir != mdRec.OutputDir || yamlRec.Revision != mdRec.Revision ||
		yamlRec.Every != mdRec.Every {
		t.Errorf("metadata differs: yaml %+v vs markdown %+v", yamlRec, mdRec)
	}
	if len(yamlRec.Setups) != len(mdRec.Setups) {
		t.Fatalf("setup counts differ: %d vs %d", len(yamlRec.Setups), len(mdRec.Setups))
	}
	for i := range yamlRec.Setups {
		if yamlRec.Setups[i] != mdRec.Setups[i] {
			t.Errorf("setup %d differs: %+v vs %+v", i, yamlRec.Setups[i], mdRec.Setups[i])
		}
	}
}

func TestFindSetup(t *testing.T) {
	rec := &Recipe{Setups: []Setup{
		{Name: "sdss1"},
		{Name: "sdss2"},
	}}

	if s := rec.FindSetup("sdss2"); s == nil || s.Name != "sdss2" {
		t.Errorf("FindSetup(sdss2) = %+v", s)
	}
	if s := rec.FindSetup("nope"); s != nil {
		t.Errorf("FindSetup(nope) = %+v, want nil", s)
	}
}

func validRecipe(t *testing.T) *Recipe {
	t.Helper()
	return &Recipe{
		Name:      "test",
		GridDir:   t.TempDir(),
		OutputDir: "/templ/out",
		Setups: []Setup{
			{Name: "sdss1", Lambda0: 4500, Lambda1: 5500, Step: 0.5, Resol: 2000},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Recipe)
		wantErr string
	}{
		{
			name:   "valid recipe",
			mutate: func(r *Recipe) {},
		},
		{
			name:    "empty grid_dir",
			mutate:  func(r *Recipe) { r.GridDir = "" },
			wantErr: "grid_dir",
		},
		{
			name:    "missing grid_dir",
			mutate:  func(r *Recipe) { r.GridDir = "/nonexistent/grid" },
			wantErr: "grid_dir",
		},
		{
			name:    "empty output_dir",
			mutate:  func(r *Recipe) { r.OutputDir = "" },
			wantErr: "output_dir",
		},
		{
			name:    "no setups",
			mutate:  func(r *Recipe) { r.Setups = nil },
			wantErr: "no setups",
		},
		{
			name:    "unnamed setup",
			mutate:  func(r *Recipe) { r.Setups[0].Name = "" },
			wantErr: "no name",
		},
		{
			name: "duplicate setup names",
			mutate: func(r *Recipe) {
				r.Setups = append(r.Setups, r.Setups[0])
			},
			wantErr: "duplicate",
		},
		{
			name:    "lambda range inverted",
			mutate:  func(r *Recipe) { r.Setups[0].Lambda0 = 6000 },
			wantErr: "lambda0",
		},
		{
			name:    "zero step",
			mutate:  func(r *Recipe) { r.Setups[0].Step = 0 },
			wantErr: "step",
		},
		{
			name:    "negative resolution",
			mutate:  func(r *Recipe) { r.Setups[0].Resol = -100 },
			wantErr: "resolution",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecipe(t)
			tt.mutate(rec)

			err := rec.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateGridDirIsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "grid")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	rec := validRecipe(t)
	rec.GridDir = file
	err := rec.Validate()
	if err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("Validate() error = %v, want not-a-directory", err)
	}
}
