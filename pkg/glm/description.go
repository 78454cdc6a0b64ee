// Package glm loads the description of a previously specified first-level
// model: global timing, basis set and noise settings plus, per session, the
// scans, conditions and nuisance covariates.
package glm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"betaseries/internal/models"
)

// Timing holds the global timing parameters of the model
type Timing struct {
	// RT is the repetition time in seconds
	RT float64 `yaml:"rt"`

	// MicrotimeResolution is the number of time bins per scan
	MicrotimeResolution int `yaml:"microtimeResolution"`

	// MicrotimeOnset is the reference time bin
	MicrotimeOnset int `yaml:"microtimeOnset"`

	// Units of onsets and durations: "secs" or "scans"
	Units string `yaml:"units"`
}

// Basis describes the hemodynamic basis set
type Basis struct {
	Name        string `yaml:"name"`
	Derivatives [2]int `yaml:"derivatives"`
}

// ConditionSpec is a condition as written in the description file. A scalar
// Duration is used for every onset when Durations is omitted.
type ConditionSpec struct {
	Name      string    `yaml:"name"`
	Onsets    []float64 `yaml:"onsets"`
	Durations []float64 `yaml:"durations,omitempty"`
	Duration  *float64  `yaml:"duration,omitempty"`
}

// SessionSpec is a session as written in the description file
type SessionSpec struct {
	// Scans lists functional volumes explicitly
	Scans []string `yaml:"scans,omitempty"`

	// ScanPattern is a glob expanded in lexical order when Scans is empty
	ScanPattern string `yaml:"scanPattern,omitempty"`

	// Covariates is an .npy or whitespace-separated text matrix
	Covariates string `yaml:"covariates,omitempty"`

	HighPass   float64         `yaml:"highPass"`
	Conditions []ConditionSpec `yaml:"conditions"`
}

// Description is the full model description
type Description struct {
	Timing     Timing        `yaml:"timing"`
	Basis      Basis         `yaml:"basis"`
	Mask       string        `yaml:"mask,omitempty"`
	NoiseModel string        `yaml:"noiseModel"`
	Sessions   []SessionSpec `yaml:"sessions"`

	// dir resolves relative paths
	dir string
}

// Load reads a model description. Relative paths inside the file are
// resolved against the file's directory and returned as absolute paths.
func Load(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("model description %s: %w", path, models.ErrMissingInput)
		}
		return nil, fmt.Errorf("error reading model description: %w", err)
	}

	d := &Description{
		Timing:     Timing{MicrotimeResolution: 16, MicrotimeOnset: 8, Units: "secs"},
		Basis:      Basis{Name: "hrf"},
		NoiseModel: "AR(1)",
	}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("error parsing model description: %w", err)
	}
	if d.dir, err = filepath.Abs(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("model description %s: %w", path, err)
	}

	if d.Timing.RT <= 0 {
		return nil, fmt.Errorf("repetition time must be positive, got %g: %w", d.Timing.RT, models.ErrInvalidInput)
	}
	if len(d.Sessions) == 0 {
		return nil, fmt.Errorf("model description has no sessions: %w", models.ErrInvalidInput)
	}
	return d, nil
}

// Resolve returns path made absolute relative to the description file
func (d *Description) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(d.dir, path)
}

// MaskPath returns the explicit mask, or "" when none is set
func (d *Description) MaskPath() string {
	return d.Resolve(d.Mask)
}

// Session builds the validated session i (0-based), loading its covariates
// and checking that every scan exists.
func (d *Description) Session(i int) (models.Session, error) {
	if i < 0 || i >= len(d.Sessions) {
		return models.Session{}, fmt.Errorf("session index %d out of range: %w", i, models.ErrInvalidInput)
	}
	spec := d.Sessions[i]

	s := models.Session{HighPass: spec.HighPass}
	for _, c := range spec.Conditions {
		cond := models.Condition{
			Name:      c.Name,
			Onsets:    append([]float64(nil), c.Onsets...),
			Durations: append([]float64(nil), c.Durations...),
		}
		if len(c.Durations) == 0 && c.Duration != nil {
			cond.Durations = make([]float64, len(c.Onsets))
			for k := range cond.Durations {
				cond.Durations[k] = *c.Duration
			}
		}
		if err := cond.Validate(); err != nil {
			return models.Session{}, fmt.Errorf("session %d: %w", i+1, err)
		}
		s.Conditions = append(s.Conditions, cond)
	}

	scans, err := d.scans(spec)
	if err != nil {
		return models.Session{}, fmt.Errorf("session %d: %w", i+1, err)
	}
	s.Scans = scans

	if spec.Covariates != "" {
		cov, err := ReadMatrix(d.Resolve(spec.Covariates))
		if err != nil {
			return models.Session{}, fmt.Errorf("session %d: %w", i+1, err)
		}
		if rows, _ := cov.Dims(); len(scans) > 0 && rows != len(scans) {
			return models.Session{}, fmt.Errorf("session %d: covariates have %d rows for %d scans: %w",
				i+1, rows, len(scans), models.ErrInvalidInput)
		}
		s.Covariates = cov
	}

	return s, nil
}

func (d *Description) scans(spec SessionSpec) ([]string, error) {
	var scans []string
	if len(spec.Scans) > 0 {
		for _, scan := range spec.Scans {
			scans = append(scans, d.Resolve(scan))
		}
	} else if spec.ScanPattern != "" {
		matches, err := filepath.Glob(d.Resolve(spec.ScanPattern))
		if err != nil {
			return nil, fmt.Errorf("scan pattern %q: %w", spec.ScanPattern, models.ErrInvalidInput)
		}
		sort.Strings(matches)
		scans = matches
	}

	if len(scans) == 0 {
		return nil, fmt.Errorf("no scans listed: %w", models.ErrMissingInput)
	}
	for _, scan := range scans {
		if _, err := os.Stat(scan); err != nil {
			return nil, fmt.Errorf("scan %s: %w", scan, models.ErrMissingInput)
		}
	}
	return scans, nil
}
