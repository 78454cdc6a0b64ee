package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"betaseries/internal/models"
)

const (
	// JobFileName is written into every model directory
	JobFileName = "job.yaml"

	// LogFileName captures the engine's combined output
	LogFileName = "engine.log"
)

// BatchEstimator runs the engine as an external command, one process per model
type BatchEstimator struct {
	// Command is the argv template; see Config.Engine.Command
	Command []string

	// Artifact, BetaPattern and ResidualImage name the engine outputs
	Artifact      string
	BetaPattern   string
	ResidualImage string

	logger *log.Entry
}

// NewBatchEstimator creates a BatchEstimator logging through logger
func NewBatchEstimator(command []string, artifact, betaPattern, residualImage string, logger *log.Entry) *BatchEstimator {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &BatchEstimator{
		Command:       command,
		Artifact:      artifact,
		BetaPattern:   betaPattern,
		ResidualImage: residualImage,
		logger:        logger,
	}
}

// templateData is exposed to command argument templates
type templateData struct {
	JobFile   string
	OutputDir string
}

// Estimate writes the job file, runs the engine and resolves its outputs.
func (b *BatchEstimator) Estimate(ctx context.Context, job Job) (*FittedModel, error) {
	if len(b.Command) == 0 {
		return nil, fmt.Errorf("no engine command configured: %w", models.ErrInvalidInput)
	}

	var err error
	// the engine runs inside OutputDir, so every path it sees must be absolute
	if job.OutputDir, err = filepath.Abs(job.OutputDir); err != nil {
		return nil, fmt.Errorf("model directory for %s: %w", job.Name, err)
	}
	jobFile, err := WriteJob(job)
	if err != nil {
		return nil, err
	}

	argv, err := renderCommand(b.Command, templateData{JobFile: jobFile, OutputDir: job.OutputDir})
	if err != nil {
		return nil, err
	}

	logger := b.logger.WithFields(log.Fields{
		"model":      job.Name,
		"regressors": len(job.Regressors),
	})
	logger.Debugf("Running engine: %v", argv)

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = job.OutputDir
	cmd.Stdout = &output
	cmd.Stderr = &output
	runErr := cmd.Run()

	logPath := filepath.Join(job.OutputDir, LogFileName)
	if err := os.WriteFile(logPath, output.Bytes(), 0644); err != nil {
		logger.Warnf("Failed to save engine log: %v", err)
	}
	if runErr != nil {
		return nil, fmt.Errorf("engine failed for %s (see %s): %w", job.Name, logPath, runErr)
	}

	fitted, err := b.Resolve(job.OutputDir, len(job.Regressors))
	if err != nil {
		return nil, fmt.Errorf("engine outputs for %s: %w", job.Name, err)
	}
	logger.Debug("Model estimated")
	return fitted, nil
}

// Resolve locates the outputs of an already-estimated model with n task
// regressors, failing if any of them is missing. The residual image is only
// expected when one is configured.
func (b *BatchEstimator) Resolve(dir string, n int) (*FittedModel, error) {
	fitted := &FittedModel{
		Dir:        dir,
		Artifact:   filepath.Join(dir, b.Artifact),
		BetaImages: make([]string, n),
	}
	for i := range fitted.BetaImages {
		fitted.BetaImages[i] = filepath.Join(dir, fmt.Sprintf(b.BetaPattern, i+1))
	}

	expected := append([]string{fitted.Artifact}, fitted.BetaImages...)
	if b.ResidualImage != "" {
		fitted.ResidualVariance = filepath.Join(dir, b.ResidualImage)
		expected = append(expected, fitted.ResidualVariance)
	}
	for _, path := range expected {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%s: %w", path, models.ErrMissingInput)
			}
			return nil, err
		}
	}
	return fitted, nil
}

// WriteJob stores the job description in its output directory and returns
// the absolute job file path.
func WriteJob(job Job) (string, error) {
	dir, err := filepath.Abs(job.OutputDir)
	if err != nil {
		return "", fmt.Errorf("model directory %s: %w", job.OutputDir, err)
	}
	job.OutputDir = dir

	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("error creating model directory: %w", err)
	}

	data, err := yaml.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("error marshaling job: %w", err)
	}

	path := filepath.Join(job.OutputDir, JobFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("error writing job file: %w", err)
	}
	return path, nil
}

func renderCommand(command []string, data templateData) ([]string, error) {
	argv := make([]string, len(command))
	for i, arg := range command {
		tmpl, err := template.New("arg").Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("engine argument %q: %v: %w", arg, err, models.ErrInvalidInput)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("engine argument %q: %v: %w", arg, err, models.ErrInvalidInput)
		}
		argv[i] = buf.String()
	}
	return argv, nil
}
