package ffmpeg

import (
	"context"
	"fmt"

	"github.com/gcslaoli/gwatermark/video"
)

const (
	aacBitrate  = 192_000
	opusBitrate = 128_000
)

// Attach decides how a source audio track is muxed into the output
// container: copied when the container accepts its codec, re-encoded
// otherwise.
func (t *Toolkit) Attach(_ context.Context, track video.AudioTrack, container string) (video.AudioOutput, error) {
	if track.SourcePath == "" {
		return video.AudioOutput{}, fmt.Errorf("audio track has no source path")
	}

	out := video.AudioOutput{Track: track}
	switch container {
	case "", "mp4":
		if track.Codec == "aac" {
			out.Codec = "copy"
		} else {
			out.Codec, out.Bitrate = "aac", aacBitrate
		}
	case "webm":
		if track.Codec == "opus" || track.Codec == "vorbis" {
			out.Codec = "copy"
		} else {
			out.Codec, out.Bitrate = "libopus", opusBitrate
		}
	default:
		return video.AudioOutput{}, fmt.Errorf("unsupported container %q", container)
	}

	t.log.Debug().
		Str("source_codec", track.Codec).
		Str("codec", out.Codec).
		Int("stream", track.StreamIndex).
		Msg("audio attached")
	return out, nil
}

// Release is a no-op: the route reads straight from the source file, which
// the source owns.
func (t *Toolkit) Release(video.AudioOutput) error { return nil }
