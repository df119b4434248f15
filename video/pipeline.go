package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	watermark "github.com/gcslaoli/gwatermark"
)

const (
	DefaultFrameRate   = 30.0
	DefaultTolerance   = time.Millisecond
	DefaultSettleDelay = 50 * time.Millisecond
	DefaultContainer   = "mp4"

	// One buffer being decoded, one in flight, one held as the last frame.
	frameBuffers = 3
)

// Config fixes the output timing and container of every run.
type Config struct {
	// FrameRate is the target output frame rate.
	FrameRate float64
	// Tolerance relaxes the frame interval gate.
	Tolerance time.Duration
	// SettleDelay is waited after the final frame before the encoder is
	// finished.
	SettleDelay time.Duration
	// Container is "mp4" or "webm".
	Container string
}

// DefaultConfig returns the configuration used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		FrameRate:   DefaultFrameRate,
		Tolerance:   DefaultTolerance,
		SettleDelay: DefaultSettleDelay,
		Container:   DefaultContainer,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FrameRate == 0 {
		c.FrameRate = d.FrameRate
	}
	if c.Tolerance == 0 {
		c.Tolerance = d.Tolerance
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.Container == "" {
		c.Container = d.Container
	}
	return c
}

// Validate reports configuration values no run could use.
func (c Config) Validate() error {
	if c.FrameRate <= 0 {
		return fmt.Errorf("frame rate must be positive, got %v", c.FrameRate)
	}
	if c.Tolerance < 0 || c.Tolerance >= frameInterval(c.FrameRate) {
		return fmt.Errorf("tolerance %v must be within the frame interval %v", c.Tolerance, frameInterval(c.FrameRate))
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle delay must not be negative, got %v", c.SettleDelay)
	}
	switch c.Container {
	case "mp4", "webm":
	default:
		return fmt.Errorf("unsupported container %q", c.Container)
	}
	return nil
}

// Result is the output of a finalized run.
type Result struct {
	Data      []byte
	Width     int
	Height    int
	Duration  time.Duration
	Container string
	Bitrate   int
	// Frames counts frames submitted to the encoder, including the final
	// frame re-submitted while draining.
	Frames   int
	Dropped  int
	HasAudio bool
}

// Pipeline removes the watermark from videos. Runs on distinct inputs are
// independent and may execute concurrently; they share only the engine's
// alpha maps.
type Pipeline struct {
	engine   *watermark.Engine
	opener   Opener
	encoders EncoderFactory
	audio    AudioBridge
	cfg      Config
	log      zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAudioBridge enables carrying source audio into the output.
func WithAudioBridge(b AudioBridge) Option {
	return func(p *Pipeline) { p.audio = b }
}

// WithLogger sets the pipeline logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New builds a Pipeline. Zero fields of cfg take their defaults.
func New(engine *watermark.Engine, opener Opener, encoders EncoderFactory, cfg Config, opts ...Option) (*Pipeline, error) {
	if engine == nil || opener == nil || encoders == nil {
		return nil, errors.New("video: engine, opener and encoder factory are required")
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("video: %w", err)
	}

	p := &Pipeline{
		engine:   engine,
		opener:   opener,
		encoders: encoders,
		cfg:      cfg,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Process runs one video through the pipeline. onProgress may be nil; it is
// called from a pipeline goroutine with non-decreasing percentages, ending at
// 100 unless the source reports no duration. Cancelling ctx fails the run
// with watermark.ErrCanceled. No partial output is returned on failure, and
// every acquired resource is released on all paths.
func (p *Pipeline) Process(ctx context.Context, in Input, onProgress ProgressFunc) (res *Result, err error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := p.newRun(in, onProgress)
	defer func() {
		if err != nil {
			if ctx.Err() != nil && !errors.Is(err, watermark.ErrCanceled) {
				err = fmt.Errorf("%w: %w", watermark.ErrCanceled, ctx.Err())
			}
			r.fail(err)
			res = nil
		}
		r.release()
	}()

	if err := r.initialize(runCtx); err != nil {
		return nil, err
	}
	if err := r.stream(runCtx, cancel); err != nil {
		return nil, err
	}
	if err := r.drain(runCtx); err != nil {
		return nil, err
	}
	return r.finalize()
}

type decodedFrame struct {
	buf *image.RGBA
	pts time.Duration
}

// run is the state of a single Process call.
type run struct {
	p     *Pipeline
	in    Input
	log   zerolog.Logger
	state State

	source  Source
	meta    Metadata
	region  watermark.Region
	alpha   *watermark.AlphaMap
	bitrate int
	audio   *AudioOutput
	encoder Encoder
	// encoderDone is set once Finish returned successfully.
	encoderDone bool
	chunks      chunkLog

	gate     *frameGate
	progress *progressTracker
	work     *image.RGBA
	last     decodedFrame

	lastForwarded time.Duration
	forwarded     int
	dropped       int
}

func (p *Pipeline) newRun(in Input, onProgress ProgressFunc) *run {
	name := in.Name
	if name == "" {
		name = in.Path
	}

	return &run{
		p:        p,
		in:       in,
		log:      p.log.With().Str("run_id", uuid.NewString()).Str("input", name).Logger(),
		state:    StateInitializing,
		gate:     newFrameGate(p.cfg.FrameRate, p.cfg.Tolerance),
		progress: newProgressTracker(0, onProgress),
	}
}

func (r *run) setState(next State) {
	if !r.state.canTransition(next) {
		r.log.Warn().Stringer("from", r.state).Stringer("to", next).Msg("ignored state transition")
		return
	}
	r.log.Debug().Stringer("from", r.state).Stringer("to", next).Msg("state transition")
	r.state = next
}

func (r *run) initialize(ctx context.Context) error {
	source, err := r.p.opener.Open(ctx, r.in)
	if err != nil {
		return wrapKind(watermark.ErrSourceDecode, "open source", err)
	}
	r.source = source

	r.meta = source.Metadata()
	if r.meta.Width <= 0 || r.meta.Height <= 0 {
		return fmt.Errorf("%w: source reports %dx%d frames", watermark.ErrSourceDecode, r.meta.Width, r.meta.Height)
	}

	r.region, r.alpha, err = r.p.engine.Plan(r.meta.Width, r.meta.Height)
	if err != nil {
		return err
	}

	r.bitrate = CalculateBitrate(r.meta.Width, r.meta.Height)
	r.progress.duration = r.meta.Duration

	if track, ok := source.Audio(); ok && r.p.audio != nil {
		out, err := r.p.audio.Attach(ctx, track, r.p.cfg.Container)
		if err != nil {
			r.log.Warn().Err(err).Str("codec", track.Codec).Msg("audio track not carried over")
		} else {
			r.audio = &out
		}
	}

	cfg := EncoderConfig{
		Width:     r.meta.Width,
		Height:    r.meta.Height,
		FrameRate: r.p.cfg.FrameRate,
		Bitrate:   r.bitrate,
		Container: r.p.cfg.Container,
		Audio:     r.audio,
	}
	r.encoder, err = r.p.encoders.NewEncoder(ctx, cfg, &r.chunks)
	if err != nil {
		return wrapKind(watermark.ErrEncode, "start encoder", err)
	}

	r.work = image.NewRGBA(image.Rect(0, 0, r.meta.Width, r.meta.Height))

	r.log.Info().
		Int("width", r.meta.Width).
		Int("height", r.meta.Height).
		Dur("duration", r.meta.Duration).
		Int("bitrate", r.bitrate).
		Float64("fps", r.p.cfg.FrameRate).
		Int("logo", r.region.MapSize).
		Bool("audio", r.audio != nil).
		Msg("video run initialized")

	return nil
}

// stream runs the decode producer and the blend/encode consumer until the
// source is exhausted or either side fails.
func (r *run) stream(ctx context.Context, cancel context.CancelFunc) error {
	r.setState(StateStreaming)

	frames := make(chan decodedFrame, 1)
	free := make(chan *image.RGBA, frameBuffers)
	for i := 0; i < frameBuffers; i++ {
		free <- image.NewRGBA(image.Rect(0, 0, r.meta.Width, r.meta.Height))
	}

	// The first failure is recorded before the run is cancelled, so the
	// sibling's context error can never replace it.
	var (
		once  sync.Once
		cause error
	)
	stop := func(err error) error {
		if err != nil {
			once.Do(func() { cause = err })
			// Unblocks a subprocess-backed source stuck in a read.
			cancel()
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stop(r.produce(gctx, frames, free)) })
	g.Go(func() error { return stop(r.consume(gctx, frames, free)) })

	if err := g.Wait(); err != nil {
		return cause
	}
	return nil
}

func (r *run) produce(ctx context.Context, frames chan<- decodedFrame, free <-chan *image.RGBA) error {
	defer close(frames)

	for {
		var buf *image.RGBA
		select {
		case <-ctx.Done():
			return ctx.Err()
		case buf = <-free:
		}

		pts, err := r.source.ReadFrame(buf)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return wrapKind(watermark.ErrSourceDecode, "read frame", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case frames <- decodedFrame{buf: buf, pts: pts}:
		}
	}
}

func (r *run) consume(ctx context.Context, frames <-chan decodedFrame, free chan<- *image.RGBA) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}

			// The previous frame is no longer a drain candidate.
			if r.last.buf != nil {
				free <- r.last.buf
			}
			r.last = f

			if !r.gate.allow(f.pts) {
				r.dropped++
				continue
			}
			if err := r.forward(f.buf, f.pts); err != nil {
				return err
			}
		}
	}
}

// forward blends a copy of raw and submits it to the encoder. raw itself is
// left untouched so the final frame can be re-submitted while draining.
func (r *run) forward(raw *image.RGBA, pts time.Duration) error {
	copy(r.work.Pix, raw.Pix)
	if err := watermark.InvertBlend(r.work, r.alpha, r.region); err != nil {
		return err
	}
	if err := r.encoder.SubmitFrame(r.work, pts); err != nil {
		return wrapKind(watermark.ErrEncode, fmt.Sprintf("submit frame at %v", pts), err)
	}

	r.forwarded++
	r.lastForwarded = pts
	r.progress.update(pts)
	return nil
}

// drain re-submits the final decoded frame so it cannot be lost between the
// gate and the encoder, then gives the encoder a moment to settle.
func (r *run) drain(ctx context.Context) error {
	r.setState(StateDraining)

	if r.last.buf == nil {
		return fmt.Errorf("%w: source produced no frames", watermark.ErrSourceDecode)
	}

	pts := r.last.pts
	if r.forwarded > 0 && pts <= r.lastForwarded {
		pts = r.lastForwarded + r.gate.interval
	}
	if err := r.forward(r.last.buf, pts); err != nil {
		return err
	}

	if d := r.p.cfg.SettleDelay; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	r.progress.complete()
	return nil
}

func (r *run) finalize() (*Result, error) {
	if err := r.encoder.Finish(); err != nil {
		return nil, wrapKind(watermark.ErrEncode, "finish encoder", err)
	}
	r.encoderDone = true

	data := r.chunks.assemble()
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: encoder produced no output", watermark.ErrEncode)
	}

	r.setState(StateFinalized)
	r.log.Info().
		Int("frames", r.forwarded).
		Int("dropped", r.dropped).
		Int("bytes", len(data)).
		Msg("video run finalized")

	return &Result{
		Data:      data,
		Width:     r.meta.Width,
		Height:    r.meta.Height,
		Duration:  r.meta.Duration,
		Container: r.p.cfg.Container,
		Bitrate:   r.bitrate,
		Frames:    r.forwarded,
		Dropped:   r.dropped,
		HasAudio:  r.audio != nil,
	}, nil
}

// fail moves the run to Failed and drops any accumulated output.
func (r *run) fail(err error) {
	r.setState(StateFailed)
	r.chunks.discard()
	r.log.Error().Err(err).Str("kind", watermark.Kind(err)).Int("frames", r.forwarded).Msg("video run failed")
}

// release frees the encoder, audio route and source in that order.
func (r *run) release() {
	if r.encoder != nil && !r.encoderDone {
		if err := r.encoder.Abort(); err != nil {
			r.log.Warn().Err(err).Msg("abort encoder")
		}
	}
	if r.audio != nil {
		if err := r.p.audio.Release(*r.audio); err != nil {
			r.log.Warn().Err(err).Msg("release audio")
		}
	}
	if r.source != nil {
		if err := r.source.Close(); err != nil {
			r.log.Warn().Err(err).Msg("close source")
		}
	}
}

// wrapKind tags err with kind unless it already carries one of the package
// error kinds.
func wrapKind(kind error, op string, err error) error {
	if watermark.Kind(err) != "unknown" {
		return err
	}
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}
