package watermark

import (
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"sync"
	"sync/atomic"
)

// AlphaMap holds the per-pixel blend opacity of a square watermark logo,
// normalized to [0, 1] and stored row-major. It is never mutated after build.
type AlphaMap struct {
	size   int
	values []float32
}

// Size reports the edge length of the map in pixels.
func (m *AlphaMap) Size() int { return m.size }

// At returns the opacity at (row, col).
func (m *AlphaMap) At(row, col int) float32 {
	return m.values[row*m.size+col]
}

// BuildAlphaMap derives an alpha map from a reference image of the logo
// composited over black. The opacity of each pixel is max(R, G, B) / 255.
func BuildAlphaMap(ref image.Image, size int) (*AlphaMap, error) {
	if ref == nil {
		return nil, fmt.Errorf("%w: nil reference image", ErrInvalidReferenceAsset)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrInvalidReferenceAsset, size)
	}

	bounds := ref.Bounds()
	if bounds.Dx() != size || bounds.Dy() != size {
		return nil, fmt.Errorf("%w: reference is %dx%d, want %dx%d",
			ErrInvalidReferenceAsset, bounds.Dx(), bounds.Dy(), size, size)
	}

	return &AlphaMap{size: size, values: calculateAlphaMap(ref)}, nil
}

// calculateAlphaMap extracts the maximum RGB channel per pixel and scales it
// to [0, 1], keeping the full precision of 16-bit references.
func calculateAlphaMap(img image.Image) []float32 {
	bounds := img.Bounds()
	alpha := make([]float32, bounds.Dx()*bounds.Dy())

	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)

			max := c.R
			if c.G > max {
				max = c.G
			}
			if c.B > max {
				max = c.B
			}

			alpha[idx] = float32(float64(max) / 65535.0)
			idx++
		}
	}

	return alpha
}

// ReferenceName is the file name of the reference asset for a logo size.
func ReferenceName(size int) string {
	return fmt.Sprintf("bg_%d.png", size)
}

// LoadReferences decodes the reference asset for every requested size from
// fsys. Any missing or undecodable asset fails the whole load.
func LoadReferences(fsys fs.FS, sizes ...int) (map[int]image.Image, error) {
	if fsys == nil {
		return nil, fmt.Errorf("%w: no asset filesystem", ErrAssetLoad)
	}

	refs := make(map[int]image.Image, len(sizes))
	for _, size := range sizes {
		name := ReferenceName(size)

		f, err := fsys.Open(name)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %w", ErrAssetLoad, name, err)
		}
		img, _, err := Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s: %w", ErrAssetLoad, name, err)
		}

		refs[size] = img
	}

	return refs, nil
}

type alphaEntry struct {
	once  sync.Once
	ref   image.Image
	alpha *AlphaMap
	err   error
}

// alphaCache builds each alpha map at most once and keeps it for the lifetime
// of the cache. The entry set is fixed at construction, so lookups need no
// lock; the per-entry sync.Once guards the build.
type alphaCache struct {
	entries map[int]*alphaEntry
	build   func(image.Image, int) (*AlphaMap, error)
	builds  atomic.Int64
}

func newAlphaCache(refs map[int]image.Image) *alphaCache {
	c := &alphaCache{
		entries: make(map[int]*alphaEntry, len(refs)),
		build:   BuildAlphaMap,
	}
	for size, ref := range refs {
		c.entries[size] = &alphaEntry{ref: ref}
	}
	return c
}

// get lazily builds and caches the alpha map for the requested size.
func (c *alphaCache) get(size int) (*AlphaMap, error) {
	entry, ok := c.entries[size]
	if !ok {
		return nil, fmt.Errorf("%w: no reference asset for size %d", ErrAssetLoad, size)
	}

	entry.once.Do(func() {
		c.builds.Add(1)
		entry.alpha, entry.err = c.build(entry.ref, size)
	})

	return entry.alpha, entry.err
}
