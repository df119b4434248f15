package watermark

import (
	"bytes"
	"fmt"
	"image"
	"io/fs"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
)

// Info captures the watermark size and placement for a given image.
type Info struct {
	Size     int
	Position image.Rectangle
}

// Result is the output of an image removal.
type Result struct {
	Data   []byte // PNG-encoded cleaned image
	Width  int
	Height int
	Info   Info
	// Present reports the detection verdict. It is always true when the engine
	// was built without WithDetection.
	Present bool
	Score   float64
}

// Engine holds the reference assets and cached alpha maps and performs
// reverse alpha blending. It is safe for concurrent use.
type Engine struct {
	policy SizePolicy
	detect bool
	alphas *alphaCache
	log    zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSizePolicy overrides the rule choosing between the small and large
// watermark profiles.
func WithSizePolicy(p SizePolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithDetection makes Process leave images untouched when no watermark is
// detected in the expected rectangle.
func WithDetection(enabled bool) Option {
	return func(e *Engine) { e.detect = enabled }
}

// WithLogger sets the logger used for per-image diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine loads the reference assets for both watermark profiles from
// fsys. A missing or corrupt asset fails construction with ErrAssetLoad.
func NewEngine(fsys fs.FS, opts ...Option) (*Engine, error) {
	refs, err := LoadReferences(fsys, SmallProfile.LogoSize, LargeProfile.LogoSize)
	if err != nil {
		return nil, err
	}
	return NewEngineFromReferences(refs, opts...)
}

// NewEngineFromReferences builds an Engine from already decoded reference
// images keyed by logo size. Both profile sizes must be present.
func NewEngineFromReferences(refs map[int]image.Image, opts ...Option) (*Engine, error) {
	for _, size := range []int{SmallProfile.LogoSize, LargeProfile.LogoSize} {
		if refs[size] == nil {
			return nil, fmt.Errorf("%w: missing reference for size %d", ErrAssetLoad, size)
		}
	}

	e := &Engine{
		policy: PolicyEither,
		alphas: newAlphaCache(refs),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the engine's size policy.
func (e *Engine) Policy() SizePolicy { return e.policy }

// AlphaMap returns the memoized alpha map for a logo size, building it on
// first use.
func (e *Engine) AlphaMap(size int) (*AlphaMap, error) {
	return e.alphas.get(size)
}

// Plan resolves the watermark region of a width x height frame and the alpha
// map to apply there.
func (e *Engine) Plan(width, height int) (Region, *AlphaMap, error) {
	region, err := e.policy.ResolveRegion(width, height)
	if err != nil {
		return Region{}, nil, err
	}

	alpha, err := e.alphas.get(region.MapSize)
	if err != nil {
		return Region{}, nil, err
	}
	return region, alpha, nil
}

// WatermarkInfo reports the watermark size and rectangle for display.
func (e *Engine) WatermarkInfo(width, height int) (Info, error) {
	region, err := e.policy.ResolveRegion(width, height)
	if err != nil {
		return Info{}, err
	}
	return Info{Size: region.MapSize, Position: region.Rect()}, nil
}

// RemoveWatermark applies reverse alpha blending to a copy of img. The input
// is never modified.
func (e *Engine) RemoveWatermark(img image.Image) (*image.RGBA, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image provided", ErrSourceDecode)
	}

	bounds := img.Bounds()
	region, alpha, err := e.Plan(bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}

	rgba := cloneToRGBA(img)
	if err := InvertBlend(rgba, alpha, region); err != nil {
		return nil, err
	}
	return rgba, nil
}

// Process decodes an image, removes the watermark and returns the result
// encoded as PNG with the original dimensions. Video bytes are rejected with
// ErrUnsupportedMediaType.
func (e *Engine) Process(data []byte) (*Result, error) {
	img, format, err := DecodeImageBytes(data)
	if err != nil {
		if kind, _ := SniffMedia(data); kind == MediaVideo {
			return nil, fmt.Errorf("%w: video data passed to the image pipeline", ErrUnsupportedMediaType)
		}
		return nil, err
	}
	return e.ProcessImage(img, format)
}

// ProcessImage is Process for an already decoded image. format is only used
// for logging.
func (e *Engine) ProcessImage(img image.Image, format string) (*Result, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image provided", ErrSourceDecode)
	}

	bounds := img.Bounds()
	info, err := e.WatermarkInfo(bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}

	res := &Result{Width: bounds.Dx(), Height: bounds.Dy(), Info: info, Present: true}

	out := image.Image(img)
	if e.detect {
		det, err := e.Detect(img)
		if err != nil {
			return nil, err
		}
		res.Present, res.Score = det.Present, det.Score
	}

	if res.Present {
		cleaned, err := e.RemoveWatermark(img)
		if err != nil {
			return nil, err
		}
		out = cleaned
	}

	var buf bytes.Buffer
	if err := EncodePNG(&buf, out); err != nil {
		return nil, fmt.Errorf("%w: png: %w", ErrEncode, err)
	}
	res.Data = buf.Bytes()

	e.log.Debug().
		Str("format", format).
		Int("width", res.Width).
		Int("height", res.Height).
		Int("logo", info.Size).
		Bool("present", res.Present).
		Float64("score", res.Score).
		Msg("image processed")

	return res, nil
}

// cloneToRGBA copies the image into a mutable RGBA buffer with a zero origin.
func cloneToRGBA(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Rect, src, bounds.Min, draw.Src)
	return dst
}
