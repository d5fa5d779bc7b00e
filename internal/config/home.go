package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Home returns the sdssfit home directory.
// Priority order:
//  1. SDSSFIT_HOME environment variable (if set)
//  2. An existing .sdssfit directory found by walking up from the
//     working directory (project-local state)
//  3. ~/.sdssfit
//
// The directory is created if it doesn't exist.
func Home() (string, error) {
	if home := os.Getenv("SDSSFIT_HOME"); home != "" {
		if err := os.MkdirAll(home, 0755); err != nil {
			return "", fmt.Errorf("create sdssfit home directory: %w", err)
		}
		return home, nil
	}

	if local := findLocalHome(); local != "" {
		return local, nil
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home directory: %w", err)
	}
	home := filepath.Join(userHome, ".sdssfit")
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create sdssfit home directory: %w", err)
	}
	return home, nil
}

// findLocalHome walks up from the working directory looking for an existing
// .sdssfit directory, so runs inside a reduction directory keep their state
// local. Returns "" when none is found.
func findLocalHome() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	current := cwd
	for {
		candidate := filepath.Join(current, ".sdssfit")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached filesystem root
			break
		}
		current = parent
	}

	return ""
}

// ConfigPath returns the path of the active config file:
// <home>/config.yaml.
func ConfigPath() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "config.yaml"), nil
}

// LogsDir returns the run-log directory, honoring log.dir when set.
// The directory is created if it doesn't exist.
func (c *Config) LogsDir() (string, error) {
	dir := c.Log.Dir
	if dir == "" {
		home, err := Home()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "logs")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	return dir, nil
}

// ResultsDBPath returns the absolute path of the results database,
// honoring results.db_path when set.
func (c *Config) ResultsDBPath() (string, error) {
	if c.Results.DBPath != "" {
		return c.Results.DBPath, nil
	}
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "results.db"), nil
}

// InitHome creates the home directory skeleton: the home directory itself,
// the logs subdirectory, and a commented default config.yaml if none exists.
// Returns the home path.
func InitHome() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Join(home, "logs"), 0755); err != nil {
		return "", fmt.Errorf("create logs directory: %w", err)
	}

	configPath := filepath.Join(home, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0644); err != nil {
			return "", fmt.Errorf("write default config: %w", err)
		}
	}

	return home, nil
}

// defaultConfigYAML is the commented skeleton written by InitHome. Every key
// is commented out, so the effective configuration stays the built-in
// defaults until the user edits the file.
var defaultConfigYAML = strings.TrimLeft(`
# sdssfit configuration. Uncomment and edit to override the defaults.

# nthreads: 1              # worker pool size for sdssfit fit
# npoly: 10                # continuum polynomial order
# timeout: 1h              # per-spectrum engine timeout
# arms: [b, r]             # spectrograph arm setups to fit
# min_sn: 0                # skip objects below this signal-to-noise

# fit:
#   engine: rvsfit         # fitting engine binary
#   template_lib: ""       # template library directory (required for fitting)
#   ccf_continuum_normalize: true

# output:
#   dir: .
#   tab_prefix: outtab_
#   mod_prefix: mod_
#   fig_dir: ""            # default <output dir>/figs
#   fig_prefix: fig_
#   subdirs: false

# results:
#   enabled: true
#   db_path: ""            # default <home>/results.db
#   keep_runs: 50

# prep:
#   read_grid_tool: rvs_read_grid
#   make_interpol_tool: rvs_make_interpol
#   make_nd_tool: rvs_make_nd
#   make_ccf_tool: rvs_make_ccf
#   every: 30              # keep every N-th template for CCF FFTs
#   vsinis: []             # rotation velocities for CCF templates

# log:
#   level: info            # trace, debug, info, warn, error
#   dir: ""                # default <home>/logs
`, "\n")
