package watermark

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
	"testing/fstest"
)

// syntheticReference draws a soft white disc over black, peaking at peak
// opacity in the center and fading to zero before the corners.
func syntheticReference(size int, peak float64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	c := float64(size-1) / 2
	radius := float64(size) / 2.5
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			d := math.Hypot(float64(x)-c, float64(y)-c)
			a := peak * math.Max(0, 1-d/radius)
			v := uint8(math.Round(a * 255))
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func syntheticReferences() map[int]image.Image {
	return map[int]image.Image{
		48: syntheticReference(48, 0.6),
		96: syntheticReference(96, 0.6),
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func assetFS(t *testing.T, refs map[int]image.Image) fstest.MapFS {
	t.Helper()
	fsys := fstest.MapFS{}
	for size, img := range refs {
		fsys[ReferenceName(size)] = &fstest.MapFile{Data: encodePNG(t, img)}
	}
	return fsys
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	eng, err := NewEngineFromReferences(syntheticReferences(), opts...)
	if err != nil {
		t.Fatalf("NewEngineFromReferences: %v", err)
	}
	return eng
}

// gradientImage fills an opaque RGBA image with a smooth color ramp.
func gradientImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(20 + (x*160)/width),
				G: uint8(40 + (y*120)/height),
				B: uint8(90 + ((x+y)*60)/(width+height)),
				A: 255,
			})
		}
	}
	return img
}

// stampWatermark applies the forward white-logo composite that the removal
// inverts.
func stampWatermark(img *image.RGBA, alpha *AlphaMap, region Region) {
	for row := 0; row < region.Height; row++ {
		for col := 0; col < region.Width; col++ {
			a := float64(alpha.At(row, col))
			offset := img.PixOffset(region.X+col, region.Y+row)
			for c := 0; c < 3; c++ {
				o := float64(img.Pix[offset+c])
				img.Pix[offset+c] = uint8(math.Round(o*(1-a) + 255*a))
			}
		}
	}
}
