package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	watermark "github.com/gcslaoli/gwatermark"
	"github.com/gcslaoli/gwatermark/internal/batch"
	"github.com/gcslaoli/gwatermark/internal/config"
	"github.com/gcslaoli/gwatermark/internal/logging"
	"github.com/gcslaoli/gwatermark/video"
	"github.com/gcslaoli/gwatermark/video/ffmpeg"
)

// go run ./cmd/gwatermark -in image.png
// go run ./cmd/gwatermark -in video.mp4 -out cleaned.mp4
// go run ./cmd/gwatermark -in ./photos -r -out ./cleaned -suffix _nowatermark
// go run ./cmd/gwatermark -in clip.mp4 -container webm -fps 24
// go run ./cmd/gwatermark -inbase64 "data:image/png;base64,..." -outbase64

type options struct {
	input        string
	inputBase64  string
	output       string
	outputBase64 bool
	recursive    bool
	overwrite    bool
	configPath   string
	envFile      string
	debug        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.input, "in", "", "Image, video or directory to process")
	flag.StringVar(&opts.inputBase64, "inbase64", "", "Base64 image input (optionally data URL)")
	flag.StringVar(&opts.output, "out", "", "Output file for a single input, or output directory for a directory")
	flag.BoolVar(&opts.outputBase64, "outbase64", false, "Write cleaned PNG as base64 to stdout instead of file")
	flag.BoolVar(&opts.recursive, "r", false, "Process directories recursively")
	flag.BoolVar(&opts.overwrite, "y", false, "Overwrite existing output files")
	flag.StringVar(&opts.configPath, "config", "", "YAML config file")
	flag.StringVar(&opts.envFile, "env", ".env", "Env file with GWR_* overrides")
	flag.BoolVar(&opts.debug, "debug", false, "Debug logging level")

	assets := flag.String("assets", "", "Directory holding bg_48.png and bg_96.png")
	policy := flag.String("policy", "", "Watermark size policy: either or both")
	prefix := flag.String("prefix", "", "Output filename prefix")
	suffix := flag.String("suffix", "", "Output filename suffix")
	detect := flag.Bool("detect", false, "Skip images without a detected watermark")
	fps := flag.Float64("fps", 0, "Output video frame rate")
	container := flag.String("container", "", "Output video container: mp4 or webm")
	flag.Parse()

	if opts.input == "" && opts.inputBase64 == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(os.LookupEnv, opts.envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load env: %v\n", err)
		os.Exit(1)
	}

	// Flags given on the command line win over the config file and the
	// environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "assets":
			cfg.AssetsDir = *assets
		case "policy":
			cfg.SizePolicy = *policy
		case "prefix":
			cfg.Output.Prefix = *prefix
		case "suffix":
			cfg.Output.Suffix = *suffix
		case "detect":
			cfg.Image.Detect = *detect
		case "fps":
			cfg.Video.FrameRate = *fps
		case "container":
			cfg.Video.Container = *container
		case "y":
			cfg.Output.Overwrite = opts.overwrite
		}
	})
	if opts.debug {
		cfg.Log.Level = zerolog.LevelDebugValue
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Human)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	sizePolicy, _ := cfg.Policy()
	engine, err := watermark.NewEngine(os.DirFS(cfg.AssetsDir),
		watermark.WithSizePolicy(sizePolicy),
		watermark.WithDetection(cfg.Image.Detect),
		watermark.WithLogger(log),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load assets from %s: %v\n", cfg.AssetsDir, err)
		os.Exit(1)
	}

	if opts.inputBase64 != "" {
		if err := runBase64(engine, cfg, opts); err != nil {
			fmt.Fprintf(os.Stderr, "process base64 input: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !run(ctx, engine, cfg, opts, log) {
		stop()
		os.Exit(1)
	}
}

func runBase64(engine *watermark.Engine, cfg *config.Config, opts options) error {
	encoded, res, err := engine.ProcessBase64(opts.inputBase64)
	if err != nil {
		return err
	}

	if !res.Present {
		fmt.Fprintf(os.Stderr, "No visible Gemini watermark detected (score %.2f). Image left unchanged.\n", res.Score)
	}

	if opts.outputBase64 {
		fmt.Println(encoded)
		fmt.Fprintf(os.Stderr, "Processed base64 -> base64 [watermark %dx%d at %v]\n", res.Info.Size, res.Info.Size, res.Info.Position)
		return nil
	}

	outPath := opts.output
	if outPath == "" {
		outPath = cfg.Naming().OutputName("output", ".png")
	}
	if err := os.WriteFile(outPath, res.Data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Processed base64 -> %s [watermark %dx%d at %v]\n", outPath, res.Info.Size, res.Info.Size, res.Info.Position)
	return nil
}

// run processes a file or directory and reports whether every input
// succeeded.
func run(ctx context.Context, engine *watermark.Engine, cfg *config.Config, opts options, log zerolog.Logger) bool {
	files, err := batch.Discover(opts.input, opts.recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return false
	}

	runnerOpts := []batch.Option{
		batch.WithNaming(cfg.Naming()),
		batch.WithOverwrite(cfg.Output.Overwrite),
		batch.WithLogger(log),
		batch.WithProgress(func(input string, pct float64) {
			fmt.Fprintf(os.Stderr, "\r%s %5.1f%%", filepath.Base(input), pct)
			if pct >= 100 {
				fmt.Fprintln(os.Stderr)
			}
		}),
	}

	if p, err := newVideoPipeline(engine, cfg, log); err != nil {
		log.Warn().Err(err).Msg("video support disabled")
	} else {
		runnerOpts = append(runnerOpts, batch.WithVideo(p, cfg.Video.Container))
	}

	info, err := os.Stat(opts.input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return false
	}
	singleOutput := ""
	switch {
	case info.IsDir() && opts.output != "":
		runnerOpts = append(runnerOpts, batch.WithOutputDir(opts.output), batch.WithSourceRoot(opts.input))
	case info.IsDir():
		if cfg.Output.Dir != "" {
			runnerOpts = append(runnerOpts, batch.WithOutputDir(cfg.Output.Dir), batch.WithSourceRoot(opts.input))
		}
	default:
		singleOutput = opts.output
		if singleOutput == "" && cfg.Output.Dir != "" {
			runnerOpts = append(runnerOpts, batch.WithOutputDir(cfg.Output.Dir))
		}
	}

	runner := batch.NewRunner(engine, runnerOpts...)

	var sum *batch.Summary
	if singleOutput != "" {
		sum = &batch.Summary{Outcomes: []batch.Outcome{runner.ProcessFile(ctx, opts.input, singleOutput)}}
	} else {
		sum = runner.Run(ctx, files)
	}

	for _, o := range sum.Outcomes {
		switch o.Status {
		case batch.StatusProcessed:
			fmt.Printf("Processed %s -> %s\n", o.Input, o.Output)
		case batch.StatusSkipped:
			fmt.Printf("Skipped %s: %s exists (use -y to overwrite)\n", o.Input, o.Output)
		case batch.StatusClean:
			fmt.Printf("No visible Gemini watermark detected in %s. Skipping removal.\n", o.Input)
		case batch.StatusFailed:
			fmt.Fprintf(os.Stderr, "Error processing %s [%s]: %v\n", o.Input, watermark.Kind(o.Err), o.Err)
		}
	}

	fmt.Printf("Done: %d processed, %d skipped, %d clean, %d failed\n",
		sum.Count(batch.StatusProcessed),
		sum.Count(batch.StatusSkipped),
		sum.Count(batch.StatusClean),
		sum.Count(batch.StatusFailed),
	)

	return !sum.Failed() && !errors.Is(ctx.Err(), context.Canceled)
}

func newVideoPipeline(engine *watermark.Engine, cfg *config.Config, log zerolog.Logger) (*video.Pipeline, error) {
	tk := ffmpeg.New(
		ffmpeg.WithBinaries(cfg.Video.FFmpeg, cfg.Video.FFprobe),
		ffmpeg.WithTempDir(cfg.Video.TempDir),
		ffmpeg.WithLogger(log),
	)
	if err := tk.Available(); err != nil {
		return nil, err
	}
	return video.New(engine, tk, tk, cfg.Pipeline(),
		video.WithAudioBridge(tk),
		video.WithLogger(log),
	)
}
