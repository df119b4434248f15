package watermark

import (
	"fmt"
	"image"
)

const (
	highAlphaLevel     = 0.1
	lowAlphaLevel      = 0.05
	veryHighAlphaLevel = 0.5
	// Fraction of the theoretical blend lift that high-alpha pixels must
	// show over low-alpha pixels.
	minLiftRatio = 0.5
	// Fraction of the expected blended brightness that very-high-alpha pixels
	// must reach.
	minBrightnessRatio = 0.7
)

// Detection is the verdict of a watermark presence check.
type Detection struct {
	Present bool
	// Score is the mean brightness of high-alpha pixels minus that of
	// low-alpha pixels, in [-255, 255].
	Score float64
	Info  Info
}

// Detect estimates whether the white logo was alpha-blended into the expected
// rectangle of img. Pixels the logo covers strongly must be brighter than the
// ones it barely touches, by an amount consistent with the blend formula.
func (e *Engine) Detect(img image.Image) (Detection, error) {
	if img == nil {
		return Detection{}, fmt.Errorf("%w: nil image provided", ErrSourceDecode)
	}

	bounds := img.Bounds()
	region, alpha, err := e.Plan(bounds.Dx(), bounds.Dy())
	if err != nil {
		return Detection{}, err
	}

	rect := region.Rect().Add(bounds.Min)
	det := Detection{Info: Info{Size: region.MapSize, Position: region.Rect()}}

	var high, low, veryHigh brightnessStats
	for row := 0; row < rect.Dy(); row++ {
		for col := 0; col < rect.Dx(); col++ {
			a := float64(alpha.At(row, col))
			if a > maxAlpha {
				a = maxAlpha
			}
			l := luma(img, rect.Min.X+col, rect.Min.Y+row)

			switch {
			case a >= highAlphaLevel:
				high.add(l, a)
				if a >= veryHighAlphaLevel {
					veryHigh.add(l, a)
				}
			case a < lowAlphaLevel:
				low.add(l, a)
			}
		}
	}

	if high.count == 0 || low.count == 0 {
		return det, nil
	}

	lowMean := low.meanLuma()
	det.Score = high.meanLuma() - lowMean

	expectedLift := high.meanAlpha() * logoValue * minLiftRatio
	if det.Score < expectedLift {
		return det, nil
	}

	if veryHigh.count > 0 {
		a := veryHigh.meanAlpha()
		expected := lowMean*(1-a) + logoValue*a
		if veryHigh.meanLuma() < expected*minBrightnessRatio {
			return det, nil
		}
	}

	det.Present = true
	return det, nil
}

type brightnessStats struct {
	lumaSum  float64
	alphaSum float64
	count    int
}

func (s *brightnessStats) add(luma, alpha float64) {
	s.lumaSum += luma
	s.alphaSum += alpha
	s.count++
}

func (s *brightnessStats) meanLuma() float64  { return s.lumaSum / float64(s.count) }
func (s *brightnessStats) meanAlpha() float64 { return s.alphaSum / float64(s.count) }

// luma returns the Rec. 709 luma of the pixel at (x, y) in [0, 255].
func luma(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return 0.2126*float64(r)/257.0 + 0.7152*float64(g)/257.0 + 0.0722*float64(b)/257.0
}
