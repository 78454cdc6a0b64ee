// Package pipeline drives trial-level estimation for a first-level model.
//
// For every session of the model description the pipeline partitions the
// conditions into regressor sets, asks the estimation engine to fit each
// resulting model, gathers the trial-level beta images and concatenates them
// into one 4D image per condition. Models whose artifact already exists are
// not re-estimated unless overwriting is requested.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"betaseries/internal/models"
	"betaseries/pkg/engine"
	"betaseries/pkg/glm"
	"betaseries/pkg/nifti"
	"betaseries/pkg/partition"
	"betaseries/pkg/roi"
)

// Params holds the run configuration
type Params struct {
	// ModelFile is the model description (see package glm)
	ModelFile string

	// OutputDir receives every model directory and concatenated image
	OutputDir string

	// Strategy selects multi-regressor or multi-model estimation
	Strategy partition.Strategy

	// Ignore lists conditions that are never split into trials
	Ignore []string

	// Overwrite re-estimates models whose artifact already exists
	Overwrite bool

	// TrialLog is the CSV trial log path, relative to OutputDir
	TrialLog string

	// ROIMask, when set, is summarized against each model's residual image
	ROIMask       string
	ROIThreshold  float64
	Interpolation roi.Interpolation
}

// ArtifactChecker reports whether an output already exists
type ArtifactChecker interface {
	Exists(path string) bool
}

// FileChecker checks artifacts on the local filesystem
type FileChecker struct{}

// Exists implements ArtifactChecker
func (FileChecker) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Summary describes a completed run
type Summary struct {
	RunID     string
	Sessions  int
	Estimated int
	Skipped   int
	Trials    int

	// Images lists the concatenated per-condition images in creation order
	Images []string

	// ROIMeans maps model names to the ROI mean of their residual variance
	ROIMeans map[string]float64

	// TrialLog is the path of the written trial log
	TrialLog string
}

// Pipeline runs the estimation loop
type Pipeline struct {
	params    *Params
	estimator engine.Estimator
	concat    nifti.Concatenator
	checker   ArtifactChecker
	logger    *log.Entry

	desc      *glm.Description
	outputDir string
	trials    *models.TrialLog
	roiMask   *models.Volume
	summary   Summary
}

// NewPipeline creates a pipeline. A nil checker checks the filesystem and a
// nil concatenator uses nifti.Concatenate.
func NewPipeline(params *Params, estimator engine.Estimator, concat nifti.Concatenator, checker ArtifactChecker) *Pipeline {
	if concat == nil {
		concat = nifti.FileConcatenator{}
	}
	if checker == nil {
		checker = FileChecker{}
	}
	runID := uuid.New().String()
	return &Pipeline{
		params:    params,
		estimator: estimator,
		concat:    concat,
		checker:   checker,
		logger:    log.WithField("run", runID),
		trials:    models.NewTrialLog(),
		summary:   Summary{RunID: runID, ROIMeans: make(map[string]float64)},
	}
}

// Process runs the complete pipeline and stops at the first error.
func (p *Pipeline) Process(ctx context.Context) error {
	switch p.params.Strategy {
	case partition.MultiRegressor, partition.MultiModel:
	default:
		return fmt.Errorf("strategy %v: %w", p.params.Strategy, models.ErrUnsupportedStrategy)
	}

	p.logger.Info("Step 1: Loading model description...")
	desc, err := glm.Load(p.params.ModelFile)
	if err != nil {
		return fmt.Errorf("failed to load model description: %w", err)
	}
	p.desc = desc

	if mask := desc.MaskPath(); mask != "" && !p.checker.Exists(mask) {
		return fmt.Errorf("explicit mask %s: %w", mask, models.ErrMissingInput)
	}
	if p.params.ROIMask != "" {
		if p.roiMask, err = nifti.Read(p.params.ROIMask); err != nil {
			return fmt.Errorf("failed to load ROI mask: %w", err)
		}
	}

	if p.outputDir, err = filepath.Abs(p.params.OutputDir); err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}
	if err := os.MkdirAll(p.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"sessions": len(desc.Sessions),
		"strategy": p.params.Strategy,
	}).Info("Step 2: Estimating trial models...")

	part := partition.New(p.params.Ignore)
	switch p.params.Strategy {
	case partition.MultiRegressor:
		err = p.runMultiRegressor(ctx, part)
	case partition.MultiModel:
		err = p.runMultiModel(ctx, part)
	}
	if err != nil {
		return err
	}

	p.logger.Info("Step 3: Writing trial log...")
	logPath := filepath.Join(p.outputDir, p.params.TrialLog)
	if err := WriteTrialLog(logPath, p.trials.Records()); err != nil {
		return fmt.Errorf("failed to write trial log: %w", err)
	}
	p.summary.TrialLog = logPath
	p.summary.Trials = p.trials.Len()
	p.summary.Sessions = len(desc.Sessions)

	p.logger.WithFields(log.Fields{
		"estimated": p.summary.Estimated,
		"skipped":   p.summary.Skipped,
		"images":    len(p.summary.Images),
	}).Info("Pipeline completed")
	return nil
}

// ROIModels returns the names of the models with an ROI mean, sorted
func (s Summary) ROIModels() []string {
	names := make([]string, 0, len(s.ROIMeans))
	for name := range s.ROIMeans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSummary returns the outcome of the last Process call
func (p *Pipeline) GetSummary() Summary {
	return p.summary
}

// runMultiRegressor fits one model per session and concatenates each
// condition's trial betas across sessions.
func (p *Pipeline) runMultiRegressor(ctx context.Context, part *partition.Partitioner) error {
	type group struct {
		name  string
		betas []string
	}
	var groups []*group
	byName := make(map[string]*group)
	changed := false

	for i := range p.desc.Sessions {
		session, err := p.desc.Session(i)
		if err != nil {
			return err
		}
		set, err := part.MultiRegressor(i+1, session, p.trials)
		if err != nil {
			return err
		}

		dir := filepath.Join(p.sessionDir(i), "multi-regressor")
		job, err := p.newJob(fmt.Sprintf("sess%02d/multi-regressor", i+1), dir, session, set)
		if err != nil {
			return err
		}
		fitted, estimated, err := p.fit(ctx, job)
		if err != nil {
			return err
		}
		changed = changed || estimated

		for _, c := range session.Conditions {
			if part.Ignored(c.Name) {
				continue
			}
			g, ok := byName[c.Name]
			if !ok {
				g = &group{name: c.Name}
				byName[c.Name] = g
				groups = append(groups, g)
			}
			for k := 1; k <= c.Trials(); k++ {
				beta, ok := fitted.Beta(set, fmt.Sprintf("%s_%d", c.Name, k))
				if !ok {
					return fmt.Errorf("no beta image for %s_%d in %s: %w", c.Name, k, dir, models.ErrMissingInput)
				}
				g.betas = append(g.betas, beta)
			}
		}
	}

	for _, g := range groups {
		if len(g.betas) == 0 {
			continue
		}
		out := filepath.Join(p.outputDir, g.name+".nii")
		if err := p.concatenate(g.betas, out, changed); err != nil {
			return err
		}
	}
	return nil
}

// runMultiModel fits one model per trial and concatenates each condition's
// single-trial betas per session.
func (p *Pipeline) runMultiModel(ctx context.Context, part *partition.Partitioner) error {
	for i := range p.desc.Sessions {
		session, err := p.desc.Session(i)
		if err != nil {
			return err
		}
		trials, err := part.MultiModel(i+1, session, p.trials)
		if err != nil {
			return err
		}

		sessDir := p.sessionDir(i)
		betaDir := filepath.Join(sessDir, "betas")
		changed := false

		for _, tm := range trials {
			dir := filepath.Join(sessDir, "models", tm.Name)
			job, err := p.newJob(fmt.Sprintf("sess%02d/%s", i+1, tm.Name), dir, session, tm.Regressors)
			if err != nil {
				return err
			}
			fitted, estimated, err := p.fit(ctx, job)
			if err != nil {
				return err
			}

			trialBeta := filepath.Join(betaDir, tm.Name+".nii")
			if estimated || p.params.Overwrite || !p.checker.Exists(trialBeta) {
				src, ok := fitted.Beta(tm.Regressors, tm.Name)
				if !ok {
					return fmt.Errorf("no beta image for %s in %s: %w", tm.Name, dir, models.ErrMissingInput)
				}
				if err := copyFile(src, trialBeta); err != nil {
					return fmt.Errorf("failed to collect beta for %s: %w", tm.Name, err)
				}
				changed = true
			}
		}

		for _, c := range session.Conditions {
			if part.Ignored(c.Name) || c.Trials() == 0 {
				continue
			}
			betas, err := ListTrialImages(betaDir, c.Name)
			if err != nil {
				return err
			}
			if len(betas) != c.Trials() {
				p.logger.WithFields(log.Fields{
					"session":   i + 1,
					"condition": c.Name,
					"images":    len(betas),
					"trials":    c.Trials(),
				}).Warn("Trial image count does not match the trial log, stale images may be included")
			}
			out := filepath.Join(sessDir, c.Name+".nii")
			if err := p.concatenate(betas, out, changed); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) sessionDir(i int) string {
	return filepath.Join(p.outputDir, fmt.Sprintf("sess%02d", i+1))
}

// newJob assembles the engine job, writing session covariates next to the model
func (p *Pipeline) newJob(name, dir string, s models.Session, set models.RegressorSet) (engine.Job, error) {
	job := engine.Job{
		Name:       name,
		OutputDir:  dir,
		Scans:      s.Scans,
		Regressors: set,
		Timing: engine.Timing{
			RT:                  p.desc.Timing.RT,
			MicrotimeResolution: p.desc.Timing.MicrotimeResolution,
			MicrotimeOnset:      p.desc.Timing.MicrotimeOnset,
			Units:               p.desc.Timing.Units,
		},
		Basis: engine.Basis{
			Name:        p.desc.Basis.Name,
			Derivatives: p.desc.Basis.Derivatives,
		},
		HighPass:   s.HighPass,
		Mask:       p.desc.MaskPath(),
		NoiseModel: p.desc.NoiseModel,
	}

	if s.Covariates != nil {
		job.CovariatesFile = filepath.Join(dir, "covariates.npy")
		if err := glm.WriteMatrix(job.CovariatesFile, s.Covariates); err != nil {
			return engine.Job{}, fmt.Errorf("failed to write covariates for %s: %w", name, err)
		}
	}
	return job, nil
}

// fit estimates the job unless its artifact exists. The boolean reports
// whether the engine ran.
func (p *Pipeline) fit(ctx context.Context, job engine.Job) (*engine.FittedModel, bool, error) {
	logger := p.logger.WithField("model", job.Name)

	var fitted *engine.FittedModel
	skipped := false
	if !p.params.Overwrite {
		prior, err := p.estimator.Resolve(job.OutputDir, len(job.Regressors))
		switch {
		case err == nil && p.checker.Exists(prior.Artifact):
			logger.Info("Model already estimated, skipping")
			fitted = prior
			skipped = true
			p.summary.Skipped++
		case err != nil && !errors.Is(err, models.ErrMissingInput):
			return nil, false, err
		}
	}

	if !skipped {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		logger.Info("Estimating model")
		var err error
		fitted, err = p.estimator.Estimate(ctx, job)
		if err != nil {
			return nil, false, fmt.Errorf("failed to estimate %s: %w", job.Name, err)
		}
		p.summary.Estimated++
	}

	if p.roiMask != nil && fitted.ResidualVariance != "" {
		target, err := nifti.Read(fitted.ResidualVariance)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load residual variance for %s: %w", job.Name, err)
		}
		mean, err := roi.MeanInMask(p.roiMask, target, p.params.ROIThreshold, p.params.Interpolation)
		if err != nil {
			return nil, false, fmt.Errorf("ROI summary for %s: %w", job.Name, err)
		}
		p.summary.ROIMeans[job.Name] = mean
		logger.WithField("mean", mean).Debug("ROI residual variance")
	}

	return fitted, !skipped, nil
}

// concatenate writes out unless it exists, nothing upstream changed and
// overwriting is off.
func (p *Pipeline) concatenate(betas []string, out string, changed bool) error {
	logger := p.logger.WithFields(log.Fields{"image": out, "volumes": len(betas)})
	if !changed && !p.params.Overwrite && p.checker.Exists(out) {
		logger.Info("Concatenated image exists, skipping")
		p.summary.Images = append(p.summary.Images, out)
		return nil
	}

	logger.Info("Concatenating trial images")
	if err := p.concat.Concatenate(betas, out); err != nil {
		return fmt.Errorf("failed to concatenate %s: %w", out, err)
	}
	p.summary.Images = append(p.summary.Images, out)
	return nil
}

// ListTrialImages returns the single-trial images of condition in dir in
// lexical order. Only names of the form <condition>_<digits>.nii match.
func ListTrialImages(dir, condition string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("trial images for %s: %w", condition, models.ErrMissingInput)
		}
		return nil, err
	}

	var paths []string
	prefix := condition + "_"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".nii") {
			continue
		}
		index := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".nii")
		if _, err := strconv.Atoi(index); err != nil || strings.HasPrefix(index, "-") || strings.HasPrefix(index, "+") {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no trial images for %s in %s: %w", condition, dir, models.ErrMissingInput)
	}
	return paths, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", src, models.ErrMissingInput)
		}
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
