package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"betaseries/internal/models"
)

// createTestJob returns a two-regressor job writing into a temporary directory
func createTestJob(t *testing.T) Job {
	return Job{
		Name:      "sess01/face_001",
		OutputDir: filepath.Join(t.TempDir(), "sess01", "face_001"),
		Scans:     []string{"/data/run1/vol_001.nii", "/data/run1/vol_002.nii"},
		Regressors: models.RegressorSet{
			{Name: "face_001", Onsets: []float64{10}, Durations: []float64{1}},
			{Name: "OTHER_face", Onsets: []float64{30, 50}, Durations: []float64{1, 1}},
		},
		Timing:     Timing{RT: 2, MicrotimeResolution: 16, MicrotimeOnset: 8, Units: "secs"},
		Basis:      Basis{Name: "hrf"},
		HighPass:   128,
		NoiseModel: "AR(1)",
	}
}

func newTestEstimator(command ...string) *BatchEstimator {
	return NewBatchEstimator(command, "SPM.mat", "beta_%04d.nii", "ResMS.nii", nil)
}

func TestWriteJob(t *testing.T) {
	job := createTestJob(t)

	path, err := WriteJob(job)
	if err != nil {
		t.Fatalf("WriteJob failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read job file: %v", err)
	}
	var decoded Job
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Job file is not valid YAML: %v", err)
	}
	if decoded.Name != job.Name || decoded.Timing.RT != 2 || decoded.HighPass != 128 {
		t.Errorf("Unexpected decoded job: %+v", decoded)
	}
	if names := decoded.Regressors.Names(); len(names) != 2 || names[1] != "OTHER_face" {
		t.Errorf("Unexpected regressors %v", names)
	}
}

func TestEstimate(t *testing.T) {
	job := createTestJob(t)
	estimator := newTestEstimator("sh", "-c",
		"test -f {{.JobFile}} && cd {{.OutputDir}} && touch SPM.mat ResMS.nii beta_0001.nii beta_0002.nii && echo done")

	fitted, err := estimator.Estimate(context.Background(), job)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	if len(fitted.BetaImages) != 2 {
		t.Fatalf("Expected 2 beta images, got %d", len(fitted.BetaImages))
	}
	if want := filepath.Join(job.OutputDir, "beta_0002.nii"); fitted.BetaImages[1] != want {
		t.Errorf("Expected %s, got %s", want, fitted.BetaImages[1])
	}
	if beta, ok := fitted.Beta(job.Regressors, "face_001"); !ok || filepath.Base(beta) != "beta_0001.nii" {
		t.Errorf("Expected beta_0001.nii for face_001, got %q", beta)
	}
	if _, ok := fitted.Beta(job.Regressors, "house"); ok {
		t.Error("Expected no beta for an unknown regressor")
	}

	logData, err := os.ReadFile(filepath.Join(job.OutputDir, LogFileName))
	if err != nil {
		t.Fatalf("Engine log not written: %v", err)
	}
	if !strings.Contains(string(logData), "done") {
		t.Errorf("Expected engine output in log, got %q", logData)
	}
}

func TestEstimateCommandFailure(t *testing.T) {
	job := createTestJob(t)
	estimator := newTestEstimator("sh", "-c", "echo boom; exit 3")

	if _, err := estimator.Estimate(context.Background(), job); err == nil {
		t.Fatal("Expected an error from a failing engine")
	}

	logData, err := os.ReadFile(filepath.Join(job.OutputDir, LogFileName))
	if err != nil {
		t.Fatalf("Engine log not written: %v", err)
	}
	if !strings.Contains(string(logData), "boom") {
		t.Errorf("Expected engine output in log, got %q", logData)
	}
}

func TestEstimateMissingOutputs(t *testing.T) {
	job := createTestJob(t)
	estimator := newTestEstimator("sh", "-c", "touch SPM.mat beta_0001.nii")

	_, err := estimator.Estimate(context.Background(), job)
	if !errors.Is(err, models.ErrMissingInput) {
		t.Errorf("Expected ErrMissingInput, got %v", err)
	}
}

func TestEstimateCancelled(t *testing.T) {
	job := createTestJob(t)
	estimator := newTestEstimator("sh", "-c", "sleep 5")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := estimator.Estimate(ctx, job); err == nil {
		t.Error("Expected an error for a cancelled context")
	}
}

func TestRenderCommand(t *testing.T) {
	argv, err := renderCommand([]string{"matlab", "-batch", "run('{{.JobFile}}')"},
		templateData{JobFile: "/m/job.yaml", OutputDir: "/m"})
	if err != nil {
		t.Fatalf("renderCommand failed: %v", err)
	}
	if argv[2] != "run('/m/job.yaml')" {
		t.Errorf("Unexpected argument %q", argv[2])
	}

	if _, err := renderCommand([]string{"{{.Unknown}}"}, templateData{}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for an unknown field, got %v", err)
	}

	if _, err := newTestEstimator().Estimate(context.Background(), createTestJob(t)); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput without a command, got %v", err)
	}
}

func TestEstimateRelativeOutputDir(t *testing.T) {
	root := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	job := createTestJob(t)
	job.OutputDir = filepath.Join("betaseries", "sess01", "models", "face_001")
	estimator := newTestEstimator("sh", "-c",
		"test -f {{.JobFile}} || exit 1; touch {{.OutputDir}}/SPM.mat ResMS.nii beta_0001.nii beta_0002.nii")

	fitted, err := estimator.Estimate(context.Background(), job)
	if err != nil {
		t.Fatalf("Estimate failed for a relative model directory: %v", err)
	}

	want := filepath.Join(root, "betaseries", "sess01", "models", "face_001")
	if resolved, err := filepath.EvalSymlinks(fitted.Dir); err != nil || !filepath.IsAbs(fitted.Dir) {
		t.Errorf("Expected an absolute model directory, got %s (%v)", fitted.Dir, err)
	} else if wantResolved, _ := filepath.EvalSymlinks(want); resolved != wantResolved {
		t.Errorf("Expected model directory %s, got %s", want, fitted.Dir)
	}

	data, err := os.ReadFile(filepath.Join(want, JobFileName))
	if err != nil {
		t.Fatalf("Job file not written: %v", err)
	}
	var decoded Job
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Job file is not valid YAML: %v", err)
	}
	if !filepath.IsAbs(decoded.OutputDir) {
		t.Errorf("Expected an absolute output directory in the job file, got %s", decoded.OutputDir)
	}
}

func TestEstimateMissingResidual(t *testing.T) {
	job := createTestJob(t)
	estimator := newTestEstimator("sh", "-c", "touch SPM.mat beta_0001.nii beta_0002.nii")

	if _, err := estimator.Estimate(context.Background(), job); !errors.Is(err, models.ErrMissingInput) {
		t.Errorf("Expected ErrMissingInput without a residual image, got %v", err)
	}

	noResidual := NewBatchEstimator(estimator.Command, "SPM.mat", "beta_%04d.nii", "", nil)
	fitted, err := noResidual.Resolve(job.OutputDir, 2)
	if err != nil {
		t.Fatalf("Resolve failed without a configured residual image: %v", err)
	}
	if fitted.ResidualVariance != "" {
		t.Errorf("Expected no residual image, got %s", fitted.ResidualVariance)
	}
}
