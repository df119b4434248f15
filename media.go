package watermark

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// MediaKind tells the image and video pipelines apart.
type MediaKind int

const (
	MediaUnknown MediaKind = iota
	MediaImage
	MediaVideo
)

func (k MediaKind) String() string {
	switch k {
	case MediaImage:
		return "image"
	case MediaVideo:
		return "video"
	default:
		return "unknown"
	}
}

var (
	imageExtensions = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".webp": true,
		".bmp": true, ".tif": true, ".tiff": true, ".gif": true,
	}
	videoExtensions = map[string]bool{
		".mp4": true, ".webm": true, ".mov": true, ".avi": true, ".mkv": true,
	}
)

// ClassifyPath reports the media kind of a file by its extension.
func ClassifyPath(path string) (MediaKind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExtensions[ext]:
		return MediaImage, nil
	case videoExtensions[ext]:
		return MediaVideo, nil
	default:
		return MediaUnknown, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, filepath.Base(path))
	}
}

// SniffMedia reports the media kind of an in-memory buffer by its content.
func SniffMedia(data []byte) (MediaKind, error) {
	ct := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return MediaImage, nil
	case strings.HasPrefix(ct, "video/"):
		return MediaVideo, nil
	default:
		return MediaUnknown, fmt.Errorf("%w: content type %s", ErrUnsupportedMediaType, ct)
	}
}

// Naming derives output file names from input paths.
type Naming struct {
	Prefix string
	Suffix string
}

// DefaultNaming produces clean_<stem>.<ext>.
var DefaultNaming = Naming{Prefix: "clean_"}

// OutputName returns the output file name for input with the given extension
// (including the dot).
func (n Naming) OutputName(input, ext string) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return n.Prefix + stem + n.Suffix + ext
}
