package watermark

import (
	"encoding/base64"
	"fmt"
	"image"
	"strings"
)

// DecodeBase64Image decodes a base64-encoded image (optionally a data URL) into
// an image.Image. It returns the decoded image and the detected format string
// ("png", "jpeg", "webp", etc.).
func DecodeBase64Image(input string) (image.Image, string, error) {
	data, err := decodeBase64(input)
	if err != nil {
		return nil, "", err
	}
	return DecodeImageBytes(data)
}

// ProcessBase64 removes the watermark from a base64-encoded image and returns
// the result with its PNG bytes base64-encoded.
func (e *Engine) ProcessBase64(input string) (string, *Result, error) {
	data, err := decodeBase64(input)
	if err != nil {
		return "", nil, err
	}

	res, err := e.Process(data)
	if err != nil {
		return "", nil, err
	}

	return base64.StdEncoding.EncodeToString(res.Data), res, nil
}

func decodeBase64(input string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(stripDataPrefix(strings.TrimSpace(input)))
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %w", ErrSourceDecode, err)
	}
	return data, nil
}

func stripDataPrefix(input string) string {
	lower := strings.ToLower(input)
	if strings.HasPrefix(lower, "data:") {
		if idx := strings.Index(input, ","); idx != -1 {
			return input[idx+1:]
		}
	}
	return input
}
