package video

import (
	"context"
	"image"
	"io"
	"time"
)

// Input names a video either by path or by its bytes. Data wins when both are
// set; Name is then used for logging and output naming only.
type Input struct {
	Path string
	Data []byte
	Name string
}

// Metadata describes a decoded source.
type Metadata struct {
	Width    int
	Height   int
	Duration time.Duration
	// FrameRate is the rate decoded frames arrive at (ffprobe's r_frame_rate,
	// else avg_frame_rate), or 0 when unknown. It is only used to timestamp
	// decoded frames.
	FrameRate float64
	Codec     string
}

// AudioTrack identifies an audio stream of a source.
type AudioTrack struct {
	SourcePath  string
	StreamIndex int
	Codec       string
	Channels    int
	SampleRate  int
}

// AudioOutput is an audio track wired into the output container.
type AudioOutput struct {
	Track   AudioTrack
	Codec   string
	Bitrate int
}

// Source yields decoded RGBA frames in presentation order.
type Source interface {
	Metadata() Metadata
	// Audio returns the source's first audio track, if any.
	Audio() (AudioTrack, bool)
	// ReadFrame decodes the next frame into dst, which has the source's
	// dimensions and a zero origin, and returns its presentation time.
	// It returns io.EOF once the source is exhausted.
	ReadFrame(dst *image.RGBA) (time.Duration, error)
	Close() error
}

// Opener opens a Source for an Input. Failing to read metadata is reported
// as watermark.ErrSourceDecode.
type Opener interface {
	Open(ctx context.Context, in Input) (Source, error)
}

// EncoderConfig is fixed for the whole run.
type EncoderConfig struct {
	Width     int
	Height    int
	FrameRate float64
	Bitrate   int
	Container string
	Audio     *AudioOutput
}

// Encoder consumes corrected frames. Encoded bytes are written, in capture
// order, to the io.Writer handed to EncoderFactory.NewEncoder.
type Encoder interface {
	// SubmitFrame encodes frame at pts. The encoder must not retain frame
	// after returning.
	SubmitFrame(frame *image.RGBA, pts time.Duration) error
	// Finish flushes the encoder and returns once every encoded byte has
	// been written to the sink.
	Finish() error
	// Abort stops the encoder without flushing. It is safe to call after
	// Finish.
	Abort() error
}

// EncoderFactory starts encoders.
type EncoderFactory interface {
	NewEncoder(ctx context.Context, cfg EncoderConfig, sink io.Writer) (Encoder, error)
}

// AudioBridge carries a source audio track over into the output container.
type AudioBridge interface {
	Attach(ctx context.Context, track AudioTrack, container string) (AudioOutput, error)
	Release(out AudioOutput) error
}
