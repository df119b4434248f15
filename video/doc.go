// Package video removes the watermark from every frame of a video.
//
// A Pipeline drives one run through Initializing, Streaming, Draining and
// Finalized (or Failed). A producer goroutine decodes source frames into a
// small pool of buffers and hands them to the consumer over a channel; the
// consumer gates frames to the target frame interval, inverts the blend on a
// private working buffer and submits the result to the encoder. Encoded
// output accumulates in an append-only chunk log that is only returned once
// the run finalizes.
//
// Decoding, encoding and audio muxing are capabilities injected through the
// Opener, EncoderFactory and AudioBridge interfaces; package ffmpeg provides
// subprocess-backed implementations.
package video
