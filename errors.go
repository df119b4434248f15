package watermark

import "errors"

// Error kinds reported by the removal pipelines. Wrapped errors keep the kind
// reachable through errors.Is.
var (
	ErrAssetLoad             = errors.New("asset load error")
	ErrInvalidReferenceAsset = errors.New("invalid reference asset")
	ErrInvalidFrameGeometry  = errors.New("invalid frame geometry")
	ErrSourceDecode          = errors.New("source decode error")
	ErrEncode                = errors.New("encode error")
	ErrUnsupportedMediaType  = errors.New("unsupported media type")
	ErrCanceled              = errors.New("processing canceled")
)

var errorKinds = []struct {
	err  error
	name string
}{
	{ErrAssetLoad, "asset_load"},
	{ErrInvalidReferenceAsset, "invalid_reference_asset"},
	{ErrInvalidFrameGeometry, "invalid_frame_geometry"},
	{ErrSourceDecode, "source_decode"},
	{ErrEncode, "encode"},
	{ErrUnsupportedMediaType, "unsupported_media_type"},
	{ErrCanceled, "canceled"},
}

// Kind returns a short stable name for the error kind wrapped by err, or
// "unknown" when err carries none of the package's kinds.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}
