// Package priors resolves per-star Gaussian priors from CLI flags or files
// into parameter sets aligned with the resolved input spectra.
package priors

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// Parameter names, in engine argument order.
const (
	ParamTeff  = "teff"
	ParamLogg  = "logg"
	ParamFeh   = "feh"
	ParamAlpha = "alpha"
)

// Params lists the four physical parameters that accept priors.
var Params = []string{ParamTeff, ParamLogg, ParamFeh, ParamAlpha}

// Gaussian is a per-star prior on one physical parameter.
type Gaussian struct {
	Mean float64
	Std  float64
}

// Set holds the optional priors for one star. A nil field means no prior
// on that parameter.
type Set struct {
	Teff  *Gaussian
	Logg  *Gaussian
	Feh   *Gaussian
	Alpha *Gaussian
}

// Empty reports whether the set carries no priors at all.
func (s Set) Empty() bool {
	return s.Teff == nil && s.Logg == nil && s.Feh == nil && s.Alpha == nil
}

// Get returns the prior for the named parameter.
func (s Set) Get(param string) *Gaussian {
	switch param {
	case ParamTeff:
		return s.Teff
	case ParamLogg:
		return s.Logg
	case ParamFeh:
		return s.Feh
	case ParamAlpha:
		return s.Alpha
	}
	return nil
}

func (s *Set) put(param string, g *Gaussian) {
	switch param {
	case ParamTeff:
		s.Teff = g
	case ParamLogg:
		s.Logg = g
	case ParamFeh:
		s.Feh = g
	case ParamAlpha:
		s.Alpha = g
	}
}

// Values is one half of a prior specification (the means or the stdevs):
// an inline list or a file of one value per line, mutually exclusive.
type Values struct {
	// Inline is a comma- or whitespace-separated list of floats
	Inline string
	// File is a path to a file with one float per line; # starts a comment
	File string
}

func (v Values) given() bool {
	return v.Inline != "" || v.File != ""
}

// ParamSpec is the raw CLI specification of one parameter's prior.
type ParamSpec struct {
	// Param is one of teff, logg, feh, alpha
	Param string
	Mean  Values
	Std   Values
}

// Defined reports whether any prior value was supplied at all. Used to
// reject priors in queue mode before resolution.
func Defined(specs []ParamSpec) bool {
	for _, spec := range specs {
		if spec.Mean.given() || spec.Std.given() {
			return true
		}
	}
	return false
}

// Resolve parses the parameter specs and returns one prior Set per input
// star, aligned with the resolved input spectra. Enforces, per parameter:
// inline/file exclusivity, mean/std pairing, list length == nInputs, and
// positive stdevs.
func Resolve(specs []ParamSpec, nInputs int) ([]Set, error) {
	sets := make([]Set, nInputs)

	for _, spec := range specs {
		if !validParam(spec.Param) {
			return nil, fmt.Errorf("unknown prior parameter %q", spec.Param)
		}

		if !spec.Mean.given() && !spec.Std.given() {
			continue
		}
		if spec.Mean.given() != spec.Std.given() {
			return nil, fmt.Errorf("--%s-prior-mean and --%s-prior-std must be given together",
				spec.Param, spec.Param)
		}

		means, err := resolveValues(spec.Param, "mean", spec.Mean)
		if err != nil {
			return nil, err
		}
		stds, err := resolveValues(spec.Param, "std", spec.Std)
		if err != nil {
			return nil, err
		}

		if len(means) != nInputs {
			return nil, fmt.Errorf("--%s-prior-mean has %d values for %d input spectra",
				spec.Param, len(means), nInputs)
		}
		if len(stds) != nInputs {
			return nil, fmt.Errorf("--%s-prior-std has %d values for %d input spectra",
				spec.Param, len(stds), nInputs)
		}

		for i := range sets {
			if stds[i] <= 0 {
				return nil, fmt.Errorf("--%s-prior-std value %g at position %d: stdev must be positive",
					spec.Param, stds[i], i+1)
			}
			sets[i].put(spec.Param, &Gaussian{Mean: means[i], Std: stds[i]})
		}
	}

	return sets, nil
}

// resolveValues parses one flag pair (inline or file) into floats. Error
// messages carry the exact flag spelling, e.g. "--teff-prior-mean".
func resolveValues(param, kind string, v Values) ([]float64, error) {
	flag := fmt.Sprintf("--%s-prior-%s", param, kind)

	if v.Inline != "" && v.File != "" {
		return nil, fmt.Errorf("%s and %s-file are mutually exclusive", flag, flag)
	}

	if v.Inline != "" {
		values, err := parseFloatList(v.Inline)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", flag, err)
		}
		return values, nil
	}

	values, err := readFloatFile(v.File)
	if err != nil {
		return nil, fmt.Errorf("%s-file: %w", flag, err)
	}
	return values, nil
}

// parseFloatList splits a comma- or whitespace-separated list of floats.
func parseFloatList(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty value list")
	}

	values := make([]float64, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q", field)
		}
		values = append(values, v)
	}
	return values, nil
}

// readFloatFile reads one float per line. Blank lines are skipped and #
// starts a comment, whole-line or trailing.
func readFloatFile(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var values []float64
	for lineNo, line := range strings.Split(string(data), "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: invalid float %q", path, lineNo+1, line)
		}
		values = append(values, v)
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("%s: no values", path)
	}
	return values, nil
}

func validParam(param string) bool {
	for _, p := range Params {
		if p == param {
			return true
		}
	}
	return false
}
