package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	watermark "github.com/gcslaoli/gwatermark"
)

// opaqueEngine uses fully white references, so every logo pixel has alpha 1
// (clamped to 0.99 when inverted).
func opaqueEngine(t *testing.T) *watermark.Engine {
	t.Helper()
	refs := map[int]image.Image{}
	for _, size := range []int{48, 96} {
		img := image.NewNRGBA(image.Rect(0, 0, size, size))
		for i := range img.Pix {
			img.Pix[i] = 255
		}
		refs[size] = img
	}
	eng, err := watermark.NewEngineFromReferences(refs)
	if err != nil {
		t.Fatalf("NewEngineFromReferences: %v", err)
	}
	return eng
}

// basePattern is the content of every synthetic frame; channel values stay
// within [10, 200] so an opaque inversion always changes them.
func basePattern(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(10 + (x*7+y*3)%190),
				G: uint8(10 + (x*5+y*11)%190),
				B: uint8(10 + (x*13+y)%190),
				A: 255,
			})
		}
	}
	return img
}

// fakeSource serves count frames of base at rate fps, writing the frame index
// into the first byte of each frame.
type fakeSource struct {
	meta    Metadata
	base    *image.RGBA
	count   int
	rate    float64
	audio   *AudioTrack
	readErr error
	errAt   int

	mu     sync.Mutex
	next   int
	closed int
}

func newFakeSource(width, height, count int, rate float64) *fakeSource {
	return &fakeSource{
		meta: Metadata{
			Width:     width,
			Height:    height,
			Duration:  time.Duration(float64(count) / rate * float64(time.Second)),
			FrameRate: rate,
		},
		base:  basePattern(width, height),
		count: count,
		rate:  rate,
		errAt: -1,
	}
}

func (s *fakeSource) Metadata() Metadata { return s.meta }

func (s *fakeSource) Audio() (AudioTrack, bool) {
	if s.audio == nil {
		return AudioTrack{}, false
	}
	return *s.audio, true
}

func (s *fakeSource) ReadFrame(dst *image.RGBA) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next == s.errAt {
		return 0, s.readErr
	}
	if s.next >= s.count {
		return 0, io.EOF
	}
	copy(dst.Pix, s.base.Pix)
	dst.Pix[0] = uint8(s.next)
	pts := time.Duration(float64(s.next) / s.rate * float64(time.Second))
	s.next++
	return pts, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeOpener struct {
	source Source
	err    error
}

func (o *fakeOpener) Open(context.Context, Input) (Source, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.source, nil
}

type submitted struct {
	index       int
	pts         time.Duration
	outsideSame bool
	regionDiff  bool
}

// fakeEncoder checks each frame against the base pattern and writes one
// marker chunk per frame to the sink.
type fakeEncoder struct {
	cfg    EncoderConfig
	sink   io.Writer
	base   *image.RGBA
	region image.Rectangle

	failAt    int
	finishErr error
	silent    bool
	onSubmit  func(n int)

	mu       sync.Mutex
	frames   []submitted
	finished bool
	aborted  bool
}

func (e *fakeEncoder) SubmitFrame(frame *image.RGBA, pts time.Duration) error {
	e.mu.Lock()
	n := len(e.frames)
	if n == e.failAt {
		e.mu.Unlock()
		return errors.New("encoder exploded")
	}

	rec := submitted{index: int(frame.Pix[0]), pts: pts, outsideSame: true}
	for y := 0; y < frame.Rect.Dy(); y++ {
		for x := 0; x < frame.Rect.Dx(); x++ {
			if x == 0 && y == 0 {
				continue
			}
			same := frame.RGBAAt(x, y) == e.base.RGBAAt(x, y)
			if image.Pt(x, y).In(e.region) {
				if !same {
					rec.regionDiff = true
				}
			} else if !same {
				rec.outsideSame = false
			}
		}
	}
	e.frames = append(e.frames, rec)
	e.mu.Unlock()

	if !e.silent {
		fmt.Fprintf(e.sink, "frame-%d;", n)
	}
	if e.onSubmit != nil {
		e.onSubmit(n)
	}
	return nil
}

func (e *fakeEncoder) Finish() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finishErr != nil {
		return e.finishErr
	}
	e.finished = true
	return nil
}

func (e *fakeEncoder) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = true
	return nil
}

type fakeEncoderFactory struct {
	base   *image.RGBA
	region image.Rectangle
	setup  func(*fakeEncoder)

	mu       sync.Mutex
	encoders []*fakeEncoder
	err      error
}

func (f *fakeEncoderFactory) NewEncoder(_ context.Context, cfg EncoderConfig, sink io.Writer) (Encoder, error) {
	if f.err != nil {
		return nil, f.err
	}
	enc := &fakeEncoder{cfg: cfg, sink: sink, base: f.base, region: f.region, failAt: -1}
	if f.setup != nil {
		f.setup(enc)
	}
	f.mu.Lock()
	f.encoders = append(f.encoders, enc)
	f.mu.Unlock()
	return enc, nil
}

func (f *fakeEncoderFactory) last() *fakeEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.encoders) == 0 {
		return nil
	}
	return f.encoders[len(f.encoders)-1]
}

type fakeAudioBridge struct {
	err error

	mu       sync.Mutex
	attached []AudioTrack
	released int
}

func (b *fakeAudioBridge) Attach(_ context.Context, track AudioTrack, container string) (AudioOutput, error) {
	if b.err != nil {
		return AudioOutput{}, b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached = append(b.attached, track)
	return AudioOutput{Track: track, Codec: "aac", Bitrate: 192_000}, nil
}

func (b *fakeAudioBridge) Release(AudioOutput) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released++
	return nil
}

// progressRecorder collects progress updates.
type progressRecorder struct {
	mu     sync.Mutex
	values []float64
}

func (p *progressRecorder) record(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
}

func (p *progressRecorder) snapshot() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.values...)
}

type harness struct {
	engine   *watermark.Engine
	source   *fakeSource
	opener   *fakeOpener
	encoders *fakeEncoderFactory
	pipeline *Pipeline
}

func newHarness(t *testing.T, src *fakeSource, opts ...Option) *harness {
	t.Helper()
	eng := opaqueEngine(t)

	info, err := eng.WatermarkInfo(src.meta.Width, src.meta.Height)
	if err != nil {
		// Geometry tests expect the failure from the pipeline itself.
		info = watermark.Info{}
	}

	h := &harness{
		engine:   eng,
		source:   src,
		opener:   &fakeOpener{source: src},
		encoders: &fakeEncoderFactory{base: src.base, region: info.Position},
	}

	cfg := Config{FrameRate: 30, SettleDelay: time.Millisecond}
	h.pipeline, err = New(eng, h.opener, h.encoders, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}
