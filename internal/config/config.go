// Package config loads sdssfit configuration from YAML and resolves the
// sdssfit home directory where state (config, logs, results database) lives.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can use strings like "45m"
// or "12h" instead of nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// FitConfig configures the fitting engine invocation.
type FitConfig struct {
	// Engine is the fitting engine binary name or path
	Engine string `yaml:"engine"`

	// TemplateLib is the template library directory the engine fits against
	TemplateLib string `yaml:"template_lib"`

	// CCFContinuumNormalize toggles continuum normalization during the
	// cross-correlation stage
	CCFContinuumNormalize bool `yaml:"ccf_continuum_normalize"`
}

// OutputConfig controls where tables, models, and figures are written.
type OutputConfig struct {
	// Dir is the root directory for output tables and models
	Dir string `yaml:"dir"`

	// TabPrefix is the output table filename prefix
	TabPrefix string `yaml:"tab_prefix"`

	// ModPrefix is the best-fit model filename prefix
	ModPrefix string `yaml:"mod_prefix"`

	// FigDir is the figure directory; empty means <dir>/figs
	FigDir string `yaml:"fig_dir"`

	// FigPrefix is the figure filename prefix
	FigPrefix string `yaml:"fig_prefix"`

	// Subdirs mirrors each input's parent directory under Dir
	Subdirs bool `yaml:"subdirs"`
}

// ResultsConfig configures the local results database.
type ResultsConfig struct {
	// Enabled records fit results into the database
	Enabled bool `yaml:"enabled"`

	// DBPath is the database path; empty means <home>/results.db
	DBPath string `yaml:"db_path"`

	// KeepRuns is how many recent runs PruneRuns retains (0 = keep all)
	KeepRuns int `yaml:"keep_runs"`
}

// PrepConfig names the template-preparation tool binaries and their
// CCF-stage defaults.
type PrepConfig struct {
	ReadGridTool     string `yaml:"read_grid_tool"`
	MakeInterpolTool string `yaml:"make_interpol_tool"`
	MakeNDTool       string `yaml:"make_nd_tool"`
	MakeCCFTool      string `yaml:"make_ccf_tool"`

	// Every keeps every N-th template when building CCF FFTs, used when a
	// recipe doesn't set its own
	Every int `yaml:"every"`

	// Vsinis are rotation velocities for CCF templates, used when a recipe
	// doesn't set its own
	Vsinis []float64 `yaml:"vsinis"`
}

// LogConfig configures logging destinations.
type LogConfig struct {
	// Level sets verbosity (trace, debug, info, warn, error)
	Level string `yaml:"level"`

	// Dir is the run-log directory; empty means <home>/logs
	Dir string `yaml:"dir"`
}

// Config represents sdssfit configuration options.
type Config struct {
	// NThreads is the worker pool size for fit runs
	NThreads int `yaml:"nthreads"`

	// NPoly is the polynomial order for the continuum correction
	NPoly int `yaml:"npoly"`

	// Timeout is the per-spectrum engine timeout
	Timeout Duration `yaml:"timeout"`

	// Arms are the spectrograph arm setups to fit
	Arms []string `yaml:"arms"`

	// MinSN skips objects below this signal-to-noise (0 = engine decides)
	MinSN float64 `yaml:"min_sn"`

	Fit     FitConfig     `yaml:"fit"`
	Output  OutputConfig  `yaml:"output"`
	Results ResultsConfig `yaml:"results"`
	Prep    PrepConfig    `yaml:"prep"`
	Log     LogConfig     `yaml:"log"`
}

// DefaultConfig returns a Config with the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		NThreads: 1,
		NPoly:    10,
		Timeout:  Duration(time.Hour),
		Arms:     []string{"b", "r"},
		MinSN:    0,
		Fit: FitConfig{
			Engine:                "rvsfit",
			CCFContinuumNormalize: true,
		},
		Output: OutputConfig{
			Dir:       ".",
			TabPrefix: "outtab_",
			ModPrefix: "mod_",
			FigPrefix: "fig_",
		},
		Results: ResultsConfig{
			Enabled:  true,
			KeepRuns: 50,
		},
		Prep: PrepConfig{
			ReadGridTool:     "rvs_read_grid",
			MakeInterpolTool: "rvs_make_interpol",
			MakeNDTool:       "rvs_make_nd",
			MakeCCFTool:      "rvs_make_ccf",
			Every:            30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the given file path, overlaying file values
// on the defaults. A missing file returns the defaults without error; a
// malformed file or one with unknown keys returns an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Strict decoding: a misspelled key is an error, not a silent default.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromHome loads configuration from <home>/config.yaml.
func LoadFromHome() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Validate checks the configuration values. Returns an error for the first
// invalid value found.
func (c *Config) Validate() error {
	if c.NThreads <= 0 {
		return fmt.Errorf("nthreads must be > 0, got %d", c.NThreads)
	}
	if c.NPoly <= 0 {
		return fmt.Errorf("npoly must be > 0, got %d", c.NPoly)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", c.Timeout.Std())
	}
	if c.MinSN < 0 {
		return fmt.Errorf("min_sn must be >= 0, got %g", c.MinSN)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level %q, must be one of: trace, debug, info, warn, error", c.Log.Level)
	}

	if c.Fit.Engine == "" {
		return fmt.Errorf("fit.engine cannot be empty")
	}
	if len(c.Arms) == 0 {
		return fmt.Errorf("arms cannot be empty")
	}

	if c.Results.Enabled && c.Results.KeepRuns < 0 {
		return fmt.Errorf("results.keep_runs must be >= 0, got %d", c.Results.KeepRuns)
	}

	if c.Prep.Every <= 0 {
		return fmt.Errorf("prep.every must be > 0, got %d", c.Prep.Every)
	}
	for _, tool := range []struct {
		key   string
		value string
	}{
		{"prep.read_grid_tool", c.Prep.ReadGridTool},
		{"prep.make_interpol_tool", c.Prep.MakeInterpolTool},
		{"prep.make_nd_tool", c.Prep.MakeNDTool},
		{"prep.make_ccf_tool", c.Prep.MakeCCFTool},
	} {
		if tool.value == "" {
			return fmt.Errorf("%s cannot be empty", tool.key)
		}
	}

	return nil
}
