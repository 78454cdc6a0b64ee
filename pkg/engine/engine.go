// Package engine hands model specifications to the external statistical
// estimation engine and collects what it produces.
//
// The engine is opaque: it receives a job file describing the regressors,
// scans, covariates and timing of one model, estimates the model in the
// job's output directory, and leaves one beta image per regressor (named by
// a printf pattern over the 1-based regressor index), a residual variance
// image and a model artifact behind.
package engine

import (
	"context"

	"betaseries/internal/models"
)

// Timing mirrors the global timing parameters of the model description
type Timing struct {
	RT                  float64 `yaml:"rt"`
	MicrotimeResolution int     `yaml:"microtimeResolution"`
	MicrotimeOnset      int     `yaml:"microtimeOnset"`
	Units               string  `yaml:"units"`
}

// Basis mirrors the basis-function settings of the model description
type Basis struct {
	Name        string `yaml:"name"`
	Derivatives [2]int `yaml:"derivatives"`
}

// Job is everything the engine needs to build and estimate one model
type Job struct {
	// Name identifies the model in logs, e.g. "sess01/face_003"
	Name string `yaml:"name"`

	// OutputDir receives the job file, engine log and all engine outputs
	OutputDir string `yaml:"outputDir"`

	Scans          []string            `yaml:"scans"`
	Regressors     models.RegressorSet `yaml:"regressors"`
	CovariatesFile string              `yaml:"covariates,omitempty"`
	Timing         Timing              `yaml:"timing"`
	Basis          Basis               `yaml:"basis"`
	HighPass       float64             `yaml:"highPass"`
	Mask           string              `yaml:"mask,omitempty"`
	NoiseModel     string              `yaml:"noiseModel"`
}

// FittedModel locates the outputs of an estimated model
type FittedModel struct {
	// Dir is the model directory
	Dir string

	// Artifact is the engine's persisted model file
	Artifact string

	// BetaImages has one entry per task regressor, in regressor order
	BetaImages []string

	// ResidualVariance is the residual mean-square image
	ResidualVariance string
}

// Beta returns the beta image of the named regressor
func (m *FittedModel) Beta(regressors models.RegressorSet, name string) (string, bool) {
	i := regressors.Index(name)
	if i < 0 || i >= len(m.BetaImages) {
		return "", false
	}
	return m.BetaImages[i], true
}

// Estimator builds and estimates one model
type Estimator interface {
	// Estimate runs the engine for job and returns its outputs
	Estimate(ctx context.Context, job Job) (*FittedModel, error)

	// Resolve locates the outputs of a model estimated earlier in dir with
	// n task regressors
	Resolve(dir string, n int) (*FittedModel, error)
}
