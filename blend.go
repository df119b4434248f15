package watermark

import (
	"fmt"
	"image"
	"math"
)

const (
	alphaThreshold = 0.002
	maxAlpha       = 0.99
	logoValue      = 255.0
)

// InvertBlend undoes the white logo composite inside region of img, in place.
// For every pixel whose opacity reaches the threshold it solves
// watermarked = original*(1-a) + 255*a for original, with a capped at 0.99.
// The alpha map and region are only read.
func InvertBlend(img *image.RGBA, alpha *AlphaMap, region Region) error {
	if img == nil || alpha == nil {
		return fmt.Errorf("%w: nil frame or alpha map", ErrInvalidFrameGeometry)
	}
	if region.Width != alpha.Size() || region.Height != alpha.Size() {
		return fmt.Errorf("%w: region %dx%d does not match alpha map %d",
			ErrInvalidFrameGeometry, region.Width, region.Height, alpha.Size())
	}

	rect := region.Rect().Add(img.Rect.Min)
	if !rect.In(img.Rect) {
		return fmt.Errorf("%w: region %v out of bounds %v", ErrInvalidFrameGeometry, rect, img.Rect)
	}

	applyReverseAlpha(img, alpha, rect)
	return nil
}

// applyReverseAlpha performs the reverse alpha blending within rect, which
// must already be validated against the image bounds.
func applyReverseAlpha(img *image.RGBA, alphaMap *AlphaMap, rect image.Rectangle) {
	for row := 0; row < rect.Dy(); row++ {
		for col := 0; col < rect.Dx(); col++ {
			alpha := float64(alphaMap.At(row, col))
			if alpha < alphaThreshold {
				continue
			}

			if alpha > maxAlpha {
				alpha = maxAlpha
			}

			oneMinusAlpha := 1.0 - alpha
			offset := img.PixOffset(rect.Min.X+col, rect.Min.Y+row)

			for c := 0; c < 3; c++ {
				watermarked := float64(img.Pix[offset+c])
				original := (watermarked - alpha*logoValue) / oneMinusAlpha

				original = math.Max(0, math.Min(255, original))
				img.Pix[offset+c] = uint8(math.Round(original))
			}
		}
	}
}
