// Package recipe parses template-preparation recipes. A recipe names a
// synthetic spectral grid, an output directory, and the arm setups to build
// templates for. Recipes are written in YAML or in Markdown with a YAML
// front matter block and one "## Setup <name>" section per arm.
package recipe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// Format represents the format of a recipe file.
type Format int

const (
	// FormatUnknown represents an unknown or unsupported file format
	FormatUnknown Format = iota
	// FormatYAML represents a YAML (.yaml, .yml) recipe file
	FormatYAML
	// FormatMarkdown represents a Markdown (.md, .markdown) recipe file
	FormatMarkdown
)

// String returns the string representation of the Format.
func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatMarkdown:
		return "markdown"
	default:
		return "unknown"
	}
}

// Setup describes one spectrograph arm configuration: the wavelength range
// the templates cover, the sampling step, and the spectral resolution.
type Setup struct {
	Name    string  `yaml:"name"`
	Lambda0 float64 `yaml:"lambda0"`
	Lambda1 float64 `yaml:"lambda1"`
	Step    float64 `yaml:"step"`
	Resol   float64 `yaml:"resolution"`
}

// Recipe describes one template library build.
type Recipe struct {
	// Name labels the library build in logs
	Name string `yaml:"name"`

	// GridDir is the synthetic spectral grid the templates are read from
	GridDir string `yaml:"grid_dir"`

	// OutputDir is where the template library is written
	OutputDir string `yaml:"output_dir"`

	// Revision stamps the CCF templates; overridable from the command line
	Revision string `yaml:"revision"`

	// Every keeps every N-th template when building CCF FFTs (0 = default)
	Every int `yaml:"every"`

	// Vsinis are rotation velocities for CCF templates
	Vsinis []float64 `yaml:"vsinis"`

	Setups []Setup `yaml:"setups"`

	// FilePath is where the recipe was loaded from
	FilePath string `yaml:"-"`
}

// FindSetup returns the named setup, or nil when the recipe has none by
// that name.
func (r *Recipe) FindSetup(name string) *Setup {
	for i := range r.Setups {
		if r.Setups[i].Name == name {
			return &r.Setups[i]
		}
	}
	return nil
}

// DetectFormat detects the recipe format from the file extension.
// Supported extensions:
//   - .yaml, .yml -> FormatYAML
//   - .md, .markdown -> FormatMarkdown
//   - all others -> FormatUnknown
func DetectFormat(filename string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".yaml", ".yml":
		return FormatYAML
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatUnknown
	}
}

// ParseFile reads a recipe from disk, auto-detecting the format from the
// extension, and stores the absolute path in Recipe.FilePath.
func ParseFile(path string) (*Recipe, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unknown recipe format: %s (supported: .yaml, .yml, .md, .markdown)", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipe: %w", err)
	}
	defer file.Close()

	rec, err := Parse(file, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recipe %s: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	rec.FilePath = absPath
	return rec, nil
}

// Parse reads a recipe in the given format from r.
func Parse(r io.Reader, format Format) (*Recipe, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	switch format {
	case FormatYAML:
		return parseYAML(content)
	case FormatMarkdown:
		return parseMarkdown(content)
	default:
		return nil, fmt.Errorf("unsupported format: %v", format)
	}
}

// parseYAML decodes a whole-file YAML recipe. Decoding is strict: a
// misspelled key is an error, not a silently dropped setting.
func parseYAML(content []byte) (*Recipe, error) {
	rec := &Recipe{}
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(rec); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return rec, nil
}

// recipeMeta is the front matter of a Markdown recipe: the same top-level
// fields as the YAML format, minus the setups (those come from the
// "## Setup" sections).
type recipeMeta struct {
	Name      string    `yaml:"name"`
	GridDir   string    `yaml:"grid_dir"`
	OutputDir string    `yaml:"output_dir"`
	Revision  string    `yaml:"revision"`
	Every     int       `yaml:"every"`
	Vsinis    []float64 `yaml:"vsinis"`
}

var setupHeadingRegex = regexp.MustCompile(`^Setup\s+(.+)$`)

// parseMarkdown extracts the front matter and walks the Markdown AST for
// "## Setup <name>" sections. Field lines inside a section ("**Lambda0**:
// 4500", plain or bulleted) fill in that setup; prose is ignored.
func parseMarkdown(content []byte) (*Recipe, error) {
	rec := &Recipe{}

	content, frontmatter := extractFrontmatter(content)
	if frontmatter != nil {
		var meta recipeMeta
		dec := yaml.NewDecoder(bytes.NewReader(frontmatter))
		dec.KnownFields(true)
		if err := dec.Decode(&meta); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse front matter: %w", err)
		}
		rec.Name = meta.Name
		rec.GridDir = meta.GridDir
		rec.OutputDir = meta.OutputDir
		rec.Revision = meta.Revision
		rec.Every = meta.Every
		rec.Vsinis = meta.Vsinis
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(content))

	var setups []*Setup
	var current *Setup

	walkErr := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			if node.Level == 2 {
				if matches := setupHeadingRegex.FindStringSubmatch(nodeText(node, content)); len(matches) == 2 {
					current = &Setup{Name: strings.TrimSpace(matches[1])}
					setups = append(setups, current)
				} else {
					// Some other section, stop collecting fields.
					current = nil
				}
			}
			return ast.WalkSkipChildren, nil

		case *ast.Paragraph, *ast.TextBlock:
			if current != nil {
				if err := applySetupFields(current, nodeText(n, content)); err != nil {
					return ast.WalkStop, err
				}
			}
			return ast.WalkSkipChildren, nil
		}

		return ast.WalkContinue, nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	for _, s := range setups {
		rec.Setups = append(rec.Setups, *s)
	}
	return rec, nil
}

var fieldLineRegex = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9]*)\s*:\s*(.+)$`)

// applySetupFields parses "Field: value" lines (emphasis markers already
// stripped by the AST walk). Unrecognized field names are prose and are
// skipped; a recognized field with an unparsable value is an error.
func applySetupFields(setup *Setup, section string) error {
	for _, line := range strings.Split(section, "\n") {
		matches := fieldLineRegex.FindStringSubmatch(strings.TrimSpace(line))
		if len(matches) != 3 {
			continue
		}
		name := strings.ToLower(matches[1])
		value := strings.TrimSpace(matches[2])

		var target *float64
		switch name {
		case "lambda0":
			target = &setup.Lambda0
		case "lambda1":
			target = &setup.Lambda1
		case "step":
			target = &setup.Step
		case "resolution":
			target = &setup.Resol
		default:
			continue
		}

		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("setup %s: invalid %s value %q", setup.Name, name, value)
		}
		*target = parsed
	}
	return nil
}

// nodeText extracts the plain text of a node and its descendants. Soft and
// hard line breaks become newlines so multi-line paragraphs keep their
// line structure.
func nodeText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := child.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

// extractFrontmatter splits YAML front matter from markdown content.
// Returns the content without front matter and the front matter bytes,
// or nil when the document has none.
func extractFrontmatter(content []byte) ([]byte, []byte) {
	lines := bytes.Split(content, []byte("\n"))

	if len(lines) < 3 || !bytes.Equal(bytes.TrimSpace(lines[0]), []byte("---")) {
		return content, nil
	}

	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte("---")) {
			frontmatter := bytes.Join(lines[1:i], []byte("\n"))
			body := bytes.Join(lines[i+1:], []byte("\n"))
			return body, frontmatter
		}
	}

	return content, nil
}

// Validate checks the recipe before any prep stage runs. Returns an error
// for the first problem found.
func (r *Recipe) Validate() error {
	if r.GridDir == "" {
		return fmt.Errorf("grid_dir cannot be empty")
	}
	if info, err := os.Stat(r.GridDir); err != nil {
		return fmt.Errorf("grid_dir %s: %w", r.GridDir, err)
	} else if !info.IsDir() {
		return fmt.Errorf("grid_dir %s is not a directory", r.GridDir)
	}
	if r.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}
	if len(r.Setups) == 0 {
		return fmt.Errorf("recipe has no setups")
	}

	seen := make(map[string]bool)
	for i, s := range r.Setups {
		if s.Name == "" {
			return fmt.Errorf("setup %d has no name", i+1)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate setup name %q", s.Name)
		}
		seen[s.Name] = true

		if s.Lambda0 >= s.Lambda1 {
			return fmt.Errorf("setup %s: lambda0 (%g) must be < lambda1 (%g)", s.Name, s.Lambda0, s.Lambda1)
		}
		if s.Step <= 0 {
			return fmt.Errorf("setup %s: step must be > 0, got %g", s.Name, s.Step)
		}
		if s.Resol <= 0 {
			return fmt.Errorf("setup %s: resolution must be > 0, got %g", s.Name, s.Resol)
		}
	}

	return nil
}
