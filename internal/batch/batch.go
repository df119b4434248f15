// Package batch runs the image and video pipelines over files and
// directories, isolating failures per file.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	watermark "github.com/gcslaoli/gwatermark"
	"github.com/gcslaoli/gwatermark/video"
)

// ErrNoFiles is returned by Discover when a directory holds no supported
// media.
var ErrNoFiles = errors.New("no supported files found")

// Discover lists the media files under path. A file path is returned as is,
// even if its type is unsupported, so the failure is reported per file.
// Directories are scanned for supported images and videos, descending into
// subdirectories only when recursive is set.
func Discover(path string, recursive bool) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if _, err := watermark.ClassifyPath(p); err == nil {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFiles, path)
	}
	sort.Strings(files)
	return files, nil
}

// VideoProcessor runs one video through the video pipeline.
type VideoProcessor interface {
	Process(ctx context.Context, in video.Input, onProgress video.ProgressFunc) (*video.Result, error)
}

var _ VideoProcessor = (*video.Pipeline)(nil)

// ProgressFunc reports per-file video progress.
type ProgressFunc func(input string, percent float64)

// Status is the outcome of one file.
type Status int

const (
	StatusProcessed Status = iota
	StatusSkipped          // output exists and overwrite is off
	StatusClean            // no watermark detected
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusProcessed:
		return "processed"
	case StatusSkipped:
		return "skipped"
	case StatusClean:
		return "clean"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome records what happened to one input.
type Outcome struct {
	Input   string
	Output  string
	Media   watermark.MediaKind
	Status  Status
	Err     error
	Elapsed time.Duration
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	Outcomes []Outcome
}

// Count returns the number of outcomes with status s.
func (s *Summary) Count(st Status) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == st {
			n++
		}
	}
	return n
}

// Failures returns the failed outcomes.
func (s *Summary) Failures() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// Failed reports whether any input failed.
func (s *Summary) Failed() bool { return s.Count(StatusFailed) > 0 }

// Runner processes files with the image engine and an optional video
// pipeline.
type Runner struct {
	engine    *watermark.Engine
	videos    VideoProcessor
	container string
	naming    watermark.Naming
	outDir    string
	root      string
	overwrite bool
	progress  ProgressFunc
	log       zerolog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithVideo enables video inputs, written in the given container.
func WithVideo(p VideoProcessor, container string) Option {
	return func(r *Runner) {
		r.videos = p
		if container != "" {
			r.container = container
		}
	}
}

// WithNaming sets how output names are derived from inputs.
func WithNaming(n watermark.Naming) Option {
	return func(r *Runner) { r.naming = n }
}

// WithOutputDir writes every output into dir instead of next to its input.
func WithOutputDir(dir string) Option {
	return func(r *Runner) { r.outDir = dir }
}

// WithSourceRoot keeps each input's directory relative to root when writing
// into an output directory, so equal names in different subdirectories do
// not collide.
func WithSourceRoot(root string) Option {
	return func(r *Runner) { r.root = root }
}

// WithOverwrite replaces existing outputs instead of skipping them.
func WithOverwrite(overwrite bool) Option {
	return func(r *Runner) { r.overwrite = overwrite }
}

// WithProgress receives video progress.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithLogger sets the runner logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// NewRunner returns a Runner using engine for images.
func NewRunner(engine *watermark.Engine, opts ...Option) *Runner {
	r := &Runner{
		engine:    engine,
		container: video.DefaultContainer,
		naming:    watermark.DefaultNaming,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OutputPath returns where the result for input is written.
func (r *Runner) OutputPath(input string, kind watermark.MediaKind) string {
	ext := ".png"
	if kind == watermark.MediaVideo {
		ext = "." + r.container
	}

	dir := r.outDir
	switch {
	case dir == "":
		dir = filepath.Dir(input)
	case r.root != "":
		rel, err := filepath.Rel(r.root, filepath.Dir(input))
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			dir = filepath.Join(dir, rel)
		}
	}
	return filepath.Join(dir, r.naming.OutputName(input, ext))
}

// Run processes inputs in order. A failing file does not stop the run; a
// cancelled context does, and the remaining inputs are reported as failed.
func (r *Runner) Run(ctx context.Context, inputs []string) *Summary {
	sum := &Summary{Outcomes: make([]Outcome, 0, len(inputs))}

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			sum.Outcomes = append(sum.Outcomes, Outcome{
				Input:  in,
				Status: StatusFailed,
				Err:    fmt.Errorf("%w: %w", watermark.ErrCanceled, err),
			})
			continue
		}

		kind, err := watermark.ClassifyPath(in)
		if err != nil {
			sum.Outcomes = append(sum.Outcomes, r.report(Outcome{Input: in, Status: StatusFailed, Err: err}))
			continue
		}
		sum.Outcomes = append(sum.Outcomes, r.ProcessFile(ctx, in, r.OutputPath(in, kind)))
	}

	return sum
}

// ProcessFile processes a single input into output.
func (r *Runner) ProcessFile(ctx context.Context, input, output string) Outcome {
	start := time.Now()
	o := Outcome{Input: input, Output: output}

	kind, err := watermark.ClassifyPath(input)
	if err != nil {
		o.Status, o.Err = StatusFailed, err
		return r.report(o)
	}
	o.Media = kind

	if !r.overwrite {
		if _, err := os.Stat(output); err == nil {
			o.Status = StatusSkipped
			return r.report(o)
		}
	}

	switch kind {
	case watermark.MediaImage:
		o.Status, o.Err = r.processImage(input, output)
	case watermark.MediaVideo:
		o.Status, o.Err = r.processVideo(ctx, input, output)
	}
	if o.Err != nil {
		o.Status = StatusFailed
	}
	o.Elapsed = time.Since(start)
	return r.report(o)
}

func (r *Runner) processImage(input, output string) (Status, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return StatusFailed, fmt.Errorf("%w: %w", watermark.ErrSourceDecode, err)
	}

	res, err := r.engine.Process(data)
	if err != nil {
		return StatusFailed, err
	}
	if !res.Present {
		return StatusClean, nil
	}
	return StatusProcessed, writeOutput(output, res.Data)
}

func (r *Runner) processVideo(ctx context.Context, input, output string) (Status, error) {
	if r.videos == nil {
		return StatusFailed, fmt.Errorf("%w: video support is not configured", watermark.ErrUnsupportedMediaType)
	}

	var onProgress video.ProgressFunc
	if r.progress != nil {
		onProgress = func(pct float64) { r.progress(input, pct) }
	}

	res, err := r.videos.Process(ctx, video.Input{Path: input, Name: filepath.Base(input)}, onProgress)
	if err != nil {
		return StatusFailed, err
	}
	return StatusProcessed, writeOutput(output, res.Data)
}

func writeOutput(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func (r *Runner) report(o Outcome) Outcome {
	ev := r.log.Info()
	if o.Status == StatusFailed {
		ev = r.log.Error().Err(o.Err).Str("kind", watermark.Kind(o.Err))
	}
	ev.Str("input", o.Input).
		Str("output", o.Output).
		Stringer("status", o.Status).
		Dur("elapsed", o.Elapsed).
		Msg(filepath.Base(o.Input))
	return o
}
