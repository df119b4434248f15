package watermark

import "fmt"

// DetectBytes checks raw image bytes for the watermark without performing any
// cleanup.
func (e *Engine) DetectBytes(data []byte) (Detection, error) {
	if len(data) == 0 {
		return Detection{}, fmt.Errorf("%w: empty image data", ErrSourceDecode)
	}

	img, _, err := DecodeImageBytes(data)
	if err != nil {
		return Detection{}, err
	}

	return e.Detect(img)
}
