// Package ffmpeg implements the video pipeline's media capabilities on top of
// the ffmpeg and ffprobe command line tools. Frames travel as raw RGBA over
// pipes; encoded output is streamed from ffmpeg's stdout as fragmented MP4 or
// WebM.
package ffmpeg

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/gcslaoli/gwatermark/video"
)

const defaultProbeTimeout = 10 * time.Second

// Toolkit locates the ffmpeg binaries and opens sources, encoders and audio
// routes with them.
type Toolkit struct {
	ffmpeg       string
	ffprobe      string
	tempDir      string
	probeTimeout time.Duration
	log          zerolog.Logger
}

var (
	_ video.Opener         = (*Toolkit)(nil)
	_ video.EncoderFactory = (*Toolkit)(nil)
	_ video.AudioBridge    = (*Toolkit)(nil)
)

// Option configures a Toolkit.
type Option func(*Toolkit)

// WithBinaries overrides the ffmpeg and ffprobe executables. Empty values
// keep the defaults.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(t *Toolkit) {
		if ffmpeg != "" {
			t.ffmpeg = ffmpeg
		}
		if ffprobe != "" {
			t.ffprobe = ffprobe
		}
	}
}

// WithTempDir sets where in-memory inputs are spilled for ffmpeg to read.
func WithTempDir(dir string) Option {
	return func(t *Toolkit) { t.tempDir = dir }
}

// WithProbeTimeout bounds ffprobe when the caller's context has no deadline.
func WithProbeTimeout(d time.Duration) Option {
	return func(t *Toolkit) { t.probeTimeout = d }
}

// WithLogger sets the toolkit logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Toolkit) { t.log = l }
}

// New returns a Toolkit using ffmpeg and ffprobe from PATH by default.
func New(opts ...Option) *Toolkit {
	t := &Toolkit{
		ffmpeg:       "ffmpeg",
		ffprobe:      "ffprobe",
		probeTimeout: defaultProbeTimeout,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Available reports whether both binaries can be found.
func (t *Toolkit) Available() error {
	for _, bin := range []string{t.ffmpeg, t.ffprobe} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found, please install FFmpeg: %w", bin, err)
		}
	}
	return nil
}
