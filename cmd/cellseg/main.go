package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"cellseg/internal/logging"
	"cellseg/internal/progress"
	"cellseg/internal/video"
	"cellseg/pkg/batch"
	"cellseg/pkg/config"
	"cellseg/pkg/features"
	"cellseg/pkg/forest"
	"cellseg/pkg/imageio"
	"cellseg/pkg/labels"
	"cellseg/pkg/segmentation"
	"cellseg/pkg/visualization"
)

const usage = `cellseg - interactive pixel classification for microscopy images

Usage:
  cellseg train   -image a.png -mask a_labels.png [-image b.png -mask b_labels.png ...] -model model.json
  cellseg segment -model model.json -image img.png -out results/
  cellseg batch   -model model.json (-input dir | -video file) -out results/
  cellseg frames  -video file -out frames/
  cellseg init    [config.yaml]

Every command accepts -config (default cellseg.yaml). Run "cellseg <command> -h" for its flags.
`

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "train":
		err = runTrain(args)
	case "segment":
		err = runSegment(args)
	case "batch":
		err = runBatch(args)
	case "frames":
		err = runFrames(args)
	case "init":
		path := "cellseg.yaml"
		if len(args) > 0 {
			path = args[0]
		}
		err = config.CreateDefaultConfigFile(path)
		if err == nil {
			fmt.Printf("Default configuration written to %s\n", path)
		}
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

// environment is what every command needs: the configuration, a logger and
// an optional progress reporter.
type environment struct {
	cfg    *config.Config
	logger *slog.Logger
	prog   *progress.Reporter
}

func setup(configPath string) (*environment, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Output.LogLevel, cfg.Output.LogFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	env := &environment{cfg: cfg, logger: logger}
	if cfg.Output.Progress {
		env.prog = progress.New(os.Stderr)
	}
	return env, nil
}

// loadModel reads a model. With adopt, the model's own feature configuration
// replaces the configured one; otherwise the two must match.
func (env *environment) loadModel(path string, adopt bool) (*forest.Forest, error) {
	if !adopt {
		return forest.LoadFile(path, env.cfg.Features)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model file: %w", err)
	}
	defer file.Close()
	model, cfg, err := forest.Decode(file)
	if err != nil {
		return nil, err
	}
	if !cfg.Equal(env.cfg.Features) {
		env.logger.Info("using feature configuration stored with the model")
	}
	env.cfg.Features = cfg
	return model, nil
}

func (env *environment) sessionOptions() segmentation.Options {
	return segmentation.Options{
		Features:   env.cfg.Features,
		Forest:     env.cfg.Forest,
		Policy:     env.cfg.Policy(),
		Preprocess: env.cfg.Preprocess,
		Logger:     env.logger,
	}
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "cellseg.yaml", "Configuration file")
	modelPath := fs.String("model", "model.json", "Output model file")
	var images, masks listFlag
	fs.Var(&images, "image", "Training image (repeatable)")
	fs.Var(&masks, "mask", "Label mask for the preceding -image (repeatable)")
	fs.Parse(args)

	if len(images) == 0 || len(images) != len(masks) {
		fs.Usage()
		return fmt.Errorf("need one -mask per -image, got %d images and %d masks", len(images), len(masks))
	}
	env, err := setup(*configPath)
	if err != nil {
		return err
	}

	session, err := segmentation.NewSession(env.sessionOptions())
	if err != nil {
		return err
	}
	session.SetProgress(env.prog)

	for i := range images {
		img, err := imageio.Load(images[i])
		if err != nil {
			return err
		}
		if err := session.SetImage(img); err != nil {
			return err
		}
		lm, err := imageio.LoadLabelMap(masks[i])
		if err != nil {
			return err
		}
		if err := session.SetMask(labels.FromLabelMap(lm)); err != nil {
			return fmt.Errorf("%s: %w", masks[i], err)
		}
		n, err := session.AddSamples()
		if err != nil {
			return fmt.Errorf("%s: %w", images[i], err)
		}
		fmt.Printf("Added %d labeled pixels from %s\n", n, filepath.Base(images[i]))
	}

	fmt.Printf("Training %d trees on %d samples (%d features)...\n",
		env.cfg.Forest.Trees, session.TrainingSize(), features.VectorWidth(env.cfg.Features))
	startTime := time.Now()
	if err := session.Fit(); err != nil {
		return err
	}
	fmt.Printf("Training completed in %.2f seconds\n", time.Since(startTime).Seconds())

	file, err := os.Create(*modelPath)
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	if err := session.SaveModel(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	fmt.Printf("Model saved to: %s\n", *modelPath)
	return nil
}

func runSegment(args []string) error {
	fs := flag.NewFlagSet("segment", flag.ExitOnError)
	configPath := fs.String("config", "cellseg.yaml", "Configuration file")
	modelPath := fs.String("model", "model.json", "Trained model file")
	imagePath := fs.String("image", "", "Image to segment")
	outDir := fs.String("out", "results", "Output directory")
	adopt := fs.Bool("adopt", false, "Use the feature configuration stored with the model")
	fs.Parse(args)

	if *imagePath == "" {
		fs.Usage()
		return fmt.Errorf("-image is required")
	}
	env, err := setup(*configPath)
	if err != nil {
		return err
	}
	model, err := env.loadModel(*modelPath, *adopt)
	if err != nil {
		return err
	}

	runner, err := env.newRunner(model, *outDir)
	if err != nil {
		return err
	}
	runner.Enqueue(batch.FileItem(*imagePath))
	summary := runner.Run(context.Background())
	if err := summary.Err(); err != nil {
		return err
	}
	catalog, err := env.cfg.Catalog()
	if err != nil {
		return err
	}
	viewer := visualization.NewViewer(catalog)
	for _, res := range summary.Results {
		for _, p := range res.Outputs {
			fmt.Printf("Saved %s\n", p)
		}
		if res.Skipped {
			fmt.Printf("Skipped %s: outputs exist\n", res.Name)
			continue
		}
		fmt.Printf("Classes found: %s\n", strings.Join(viewer.Legend(res.Labels), ", "))
		fmt.Printf("Foreground fraction: %.3f\n", segmentation.ForegroundFraction(res.Binary))
	}
	return nil
}

func (env *environment) newRunner(model *forest.Forest, outDir string) (*batch.Runner, error) {
	catalog, err := env.cfg.Catalog()
	if err != nil {
		return nil, err
	}
	return batch.NewRunner(batch.Params{
		Model:             model,
		Features:          env.cfg.Features,
		OutputDir:         outDir,
		Format:            env.cfg.Batch.OutputFormat,
		Overwrite:         env.cfg.Batch.Overwrite,
		Binary:            env.cfg.Batch.Binary,
		SaveProbabilities: env.cfg.Batch.SaveProbabilities,
		SaveOverlay:       env.cfg.Batch.SaveOverlay,
		Policy:            env.cfg.Policy(),
		Preprocess:        env.cfg.Preprocess,
		Catalog:           catalog,
		Logger:            env.logger,
		Progress:          env.prog,
	})
}

func runBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configPath := fs.String("config", "cellseg.yaml", "Configuration file")
	modelPath := fs.String("model", "model.json", "Trained model file")
	inputDir := fs.String("input", "", "Directory of images to segment")
	videoPath := fs.String("video", "", "Video whose frames are segmented")
	outDir := fs.String("out", "results", "Output directory")
	adopt := fs.Bool("adopt", false, "Use the feature configuration stored with the model")
	fs.Parse(args)

	if (*inputDir == "") == (*videoPath == "") {
		fs.Usage()
		return fmt.Errorf("exactly one of -input and -video is required")
	}
	env, err := setup(*configPath)
	if err != nil {
		return err
	}
	model, err := env.loadModel(*modelPath, *adopt)
	if err != nil {
		return err
	}
	runner, err := env.newRunner(model, *outDir)
	if err != nil {
		return err
	}

	if *inputDir != "" {
		n, err := runner.EnqueueDir(*inputDir)
		if err != nil {
			return err
		}
		fmt.Printf("Queued %d images from %s\n", n, *inputDir)
	} else {
		frames, err := video.Extract(*videoPath, env.cfg.Video)
		if err != nil {
			return err
		}
		for i, f := range frames {
			runner.Enqueue(batch.ImageItem(strings.TrimSuffix(video.FrameName(i), ".png"), f.Image))
		}
		fmt.Printf("Queued %d frames from %s\n", len(frames), *videoPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		runner.Cancel()
	}()

	summary := runner.Run(ctx)
	fmt.Printf("Batch %s in %.2f seconds\n", summary, summary.Duration.Seconds())
	for _, f := range summary.Failures {
		fmt.Printf("- %s\n", f.Error())
	}
	if summary.Canceled {
		fmt.Printf("%d items were not processed\n", runner.Pending())
	}
	return nil
}

func runFrames(args []string) error {
	fs := flag.NewFlagSet("frames", flag.ExitOnError)
	configPath := fs.String("config", "cellseg.yaml", "Configuration file")
	videoPath := fs.String("video", "", "Video file")
	outDir := fs.String("out", "frames", "Output directory")
	interval := fs.Int("interval", 0, "Keep every n-th frame (overrides the configuration)")
	maxFrames := fs.Int("max", -1, "Maximum number of frames (overrides the configuration)")
	fs.Parse(args)

	if *videoPath == "" {
		fs.Usage()
		return fmt.Errorf("-video is required")
	}
	env, err := setup(*configPath)
	if err != nil {
		return err
	}
	opts := env.cfg.Video
	if *interval > 0 {
		opts.FrameInterval = *interval
	}
	if *maxFrames >= 0 {
		opts.MaxFrames = *maxFrames
	}

	if total, err := video.FrameCount(*videoPath); err == nil {
		fmt.Printf("Video declares %d frames, keeping every %d up to %d\n", total, opts.FrameInterval, opts.MaxFrames)
	}
	frames, err := video.Extract(*videoPath, opts)
	if err != nil {
		return err
	}
	paths, err := video.SaveFrames(frames, *outDir)
	if err != nil {
		return err
	}
	fmt.Printf("Extracted %d frames to %s\n", len(paths), *outDir)
	return nil
}
