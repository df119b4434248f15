package video

const (
	pixels720p  = 1280 * 720
	pixels1080p = 1920 * 1080
	pixels4K    = 3840 * 2160

	bitrate720p   = 8_000_000
	bitrate1080p  = 15_000_000
	bitrate4K     = 40_000_000
	bitrateHigher = 60_000_000
)

// CalculateBitrate picks the output bitrate tier in bits per second from the
// frame area.
func CalculateBitrate(width, height int) int {
	pixels := width * height

	switch {
	case pixels <= pixels720p:
		return bitrate720p
	case pixels <= pixels1080p:
		return bitrate1080p
	case pixels <= pixels4K:
		return bitrate4K
	default:
		return bitrateHigher
	}
}
