// Package watermark removes the semi-transparent Gemini logo from images by
// reverse alpha blending.
//
// The logo is a white mark composited at a known opacity per pixel, so every
// covered pixel can be solved for its original value once the alpha map is
// known. Alpha maps are derived from reference captures of the logo over
// black (bg_48.png and bg_96.png) that an Engine loads at construction time.
// The video subpackage applies the same inversion to every frame of a video.
package watermark
