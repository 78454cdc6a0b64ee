package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"betaseries/internal/models"
	"betaseries/pkg/config"
	"betaseries/pkg/engine"
	"betaseries/pkg/glm"
	"betaseries/pkg/nifti"
	"betaseries/pkg/partition"
	"betaseries/pkg/pipeline"
	"betaseries/pkg/roi"
	"betaseries/pkg/visualization"
)

const usage = `Usage: betaseries <command> [flags]

Commands:
  run          estimate trial-level betas for a model description
  roi-mean     average an image inside a mask, per frame
  init-config  write a default configuration file

Run "betaseries <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "roi-mean":
		err = roiMeanCommand(os.Args[2:])
	case "init-config":
		err = initConfigCommand(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	modelFile := fs.String("model", "", "Model description (YAML)")
	configPath := fs.String("config", "", "Configuration file (defaults are used when omitted)")
	outputDir := fs.String("out", "", "Output directory (overrides output.dir)")
	strategyName := fs.String("strategy", "", "multi-regressor (lsa) or multi-model (lss); overrides processing.strategy")
	ignore := fs.String("ignore", "", "Comma-separated conditions never split into trials")
	overwrite := fs.Bool("overwrite", false, "Re-estimate models whose artifact already exists")
	roiMask := fs.String("roi-mask", "", "Mask summarized against each model's residual variance")
	verbose := fs.Bool("v", false, "Debug logging")
	fs.Parse(args)

	if *modelFile == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *verbose {
		cfg.Output.Verbose = true
	}
	configureLogging(cfg)

	if *strategyName != "" {
		cfg.Processing.Strategy = *strategyName
	}
	strategy, err := partition.ParseStrategy(cfg.Processing.Strategy)
	if err != nil {
		return err
	}
	interp, err := roi.ParseInterpolation(cfg.ROI.Interpolation)
	if err != nil {
		return err
	}

	ignored := cfg.Processing.IgnoreConditions
	if *ignore != "" {
		ignored = nil
		for _, name := range strings.Split(*ignore, ",") {
			if name = strings.TrimSpace(name); name != "" {
				ignored = append(ignored, name)
			}
		}
	}

	params := &pipeline.Params{
		ModelFile:     *modelFile,
		OutputDir:     cfg.Output.Dir,
		Strategy:      strategy,
		Ignore:        ignored,
		Overwrite:     cfg.Processing.Overwrite || *overwrite,
		TrialLog:      cfg.Output.TrialLog,
		ROIMask:       cfg.ROI.Mask,
		ROIThreshold:  cfg.ROI.Threshold,
		Interpolation: interp,
	}
	if *outputDir != "" {
		params.OutputDir = *outputDir
	}
	if *roiMask != "" {
		params.ROIMask = *roiMask
	}

	estimator := engine.NewBatchEstimator(cfg.Engine.Command, cfg.Engine.ModelArtifact,
		cfg.Engine.BetaPattern, cfg.Engine.ResidualImage, log.WithField("component", "engine"))
	p := pipeline.NewPipeline(params, estimator, nil, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()
	if err := p.Process(ctx); err != nil {
		return err
	}

	summary := p.GetSummary()
	fmt.Printf("\nBeta series completed in %.2f seconds (run %s)\n", time.Since(startTime).Seconds(), summary.RunID)
	fmt.Printf("Sessions: %d\n", summary.Sessions)
	fmt.Printf("Trials: %d\n", summary.Trials)
	fmt.Printf("Models estimated: %d, skipped: %d\n", summary.Estimated, summary.Skipped)
	fmt.Printf("Trial log: %s\n", summary.TrialLog)
	if len(summary.Images) > 0 {
		fmt.Println("\nBeta series images:")
		for _, img := range summary.Images {
			fmt.Printf("- %s\n", img)
		}
	}
	if len(summary.ROIMeans) > 0 {
		fmt.Println("\nROI residual variance:")
		for _, name := range summary.ROIModels() {
			fmt.Printf("- %s: %.6f\n", name, summary.ROIMeans[name])
		}
	}
	return nil
}

func roiMeanCommand(args []string) error {
	fs := flag.NewFlagSet("roi-mean", flag.ExitOnError)
	maskPath := fs.String("mask", "", "ROI mask image")
	imagePath := fs.String("image", "", "Image to summarize (3D or 4D)")
	threshold := fs.Float64("threshold", 0, "Mask voxels strictly above this value are used")
	interpName := fs.String("interp", "nearest", "nearest or trilinear")
	coordsOut := fs.String("coords", "", "Write the remapped 3xN voxel coordinates to this .npy file")
	qcDir := fs.String("qc", "", "Write axial PNG slices of the first frame with the ROI overlaid to this directory")
	fs.Parse(args)

	if *maskPath == "" || *imagePath == "" {
		fs.Usage()
		os.Exit(1)
	}

	interp, err := roi.ParseInterpolation(*interpName)
	if err != nil {
		return err
	}
	mask, err := nifti.Read(*maskPath)
	if err != nil {
		return err
	}
	image, err := nifti.Read(*imagePath)
	if err != nil {
		return err
	}

	set := roi.FindIndex(mask, *threshold)
	if set.Len() == 0 {
		log.Warnf("No mask voxels above %g in %s", *threshold, *maskPath)
	}
	coords, err := roi.Remap(set, image.Affine)
	if err != nil {
		return err
	}

	if *coordsOut != "" && coords[0] != nil {
		if err := glm.WriteMatrix(*coordsOut, coords[0]); err != nil {
			return err
		}
	}

	if *qcDir != "" {
		if err := saveOverlay(image, coords[0], *qcDir); err != nil {
			return err
		}
	}

	fmt.Printf("voxels\t%d\n", set.Len())
	for t := 0; t < image.Frames; t++ {
		fmt.Printf("%d\t%.6f\n", t, roi.Mean(roi.SampleFrame(image, t, coords[0], interp)))
	}
	return nil
}

// saveOverlay renders the axial slices that contain ROI voxels
func saveOverlay(image *models.Volume, coords *mat.Dense, dir string) error {
	viewer, err := visualization.NewViewer(image, 0)
	if err != nil {
		return err
	}
	viewer.SetOverlay(coords)
	positions, err := viewer.OverlaySlices("z")
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		log.Warn("ROI does not overlap the image, no slices written")
		return nil
	}
	files, err := viewer.SaveSliceSequence("z", dir, positions...)
	if err != nil {
		return err
	}
	log.WithField("slices", len(files)).Infof("Overlay slices saved to %s", dir)
	return nil
}

func initConfigCommand(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	path := fs.String("path", "betaseries.yaml", "Where to write the configuration")
	fs.Parse(args)

	if err := config.CreateDefaultConfigFile(*path); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to %s\n", *path)
	return nil
}

func configureLogging(cfg *config.Config) {
	if cfg.Output.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.Output.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
