package watermark

import (
	"fmt"
	"image"
)

const largeFrameThreshold = 1024

// Profile is the logo size and corner margin used for a class of frames.
type Profile struct {
	LogoSize int
	Margin   int
}

var (
	SmallProfile = Profile{LogoSize: 48, Margin: 32}
	LargeProfile = Profile{LogoSize: 96, Margin: 64}
)

// SizePolicy decides when a frame is large enough for the large profile.
type SizePolicy int

const (
	// PolicyEither selects the large profile when either dimension exceeds
	// 1024 pixels.
	PolicyEither SizePolicy = iota
	// PolicyBoth selects the large profile only when both dimensions exceed
	// 1024 pixels.
	PolicyBoth
)

func (p SizePolicy) String() string {
	switch p {
	case PolicyBoth:
		return "both"
	default:
		return "either"
	}
}

// ParseSizePolicy maps "either" / "both" to a SizePolicy. An empty string
// yields PolicyEither.
func ParseSizePolicy(s string) (SizePolicy, error) {
	switch s {
	case "", "either", "or":
		return PolicyEither, nil
	case "both", "and":
		return PolicyBoth, nil
	default:
		return PolicyEither, fmt.Errorf("unknown size policy %q", s)
	}
}

// SelectProfile picks the watermark profile for a frame of the given size.
func (p SizePolicy) SelectProfile(width, height int) Profile {
	var large bool
	if p == PolicyBoth {
		large = width > largeFrameThreshold && height > largeFrameThreshold
	} else {
		large = width > largeFrameThreshold || height > largeFrameThreshold
	}

	if large {
		return LargeProfile
	}
	return SmallProfile
}

// Region is the rectangle of a frame holding the watermark, along with the
// alpha map size to apply there. Width and Height always equal MapSize.
type Region struct {
	X, Y          int
	Width, Height int
	MapSize       int
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// ResolveRegion anchors the watermark in the bottom-right corner of a
// width x height frame. Frames too small to hold the logo and its margin
// yield ErrInvalidFrameGeometry.
func (p SizePolicy) ResolveRegion(width, height int) (Region, error) {
	if width <= 0 || height <= 0 {
		return Region{}, fmt.Errorf("%w: frame %dx%d", ErrInvalidFrameGeometry, width, height)
	}

	profile := p.SelectProfile(width, height)
	x := width - profile.Margin - profile.LogoSize
	y := height - profile.Margin - profile.LogoSize

	region := Region{
		X:       x,
		Y:       y,
		Width:   profile.LogoSize,
		Height:  profile.LogoSize,
		MapSize: profile.LogoSize,
	}

	frame := image.Rect(0, 0, width, height)
	if !region.Rect().In(frame) {
		return Region{}, fmt.Errorf("%w: watermark rectangle %v out of bounds %v",
			ErrInvalidFrameGeometry, region.Rect(), frame)
	}

	return region, nil
}

// ResolveRegion resolves the watermark region with PolicyEither.
func ResolveRegion(width, height int) (Region, error) {
	return PolicyEither.ResolveRegion(width, height)
}
