package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	watermark "github.com/gcslaoli/gwatermark"
	"github.com/gcslaoli/gwatermark/video"
)

// source decodes a file with ffmpeg into raw RGBA frames on a pipe. ffmpeg
// emits frames at the stream's constant frame rate, so the n-th frame is
// stamped n/rate.
type source struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer

	meta  video.Metadata
	audio *video.AudioTrack
	rate  float64
	index int64

	// tmpPath is removed on Close when the input was spilled from memory.
	tmpPath string
	log     zerolog.Logger

	exited    bool
	closeOnce sync.Once
	closeErr  error
}

// Open probes the input and starts decoding it. In-memory inputs are written
// to a temporary file first.
func (t *Toolkit) Open(ctx context.Context, in video.Input) (video.Source, error) {
	path := in.Path
	var tmpPath string

	if len(in.Data) > 0 {
		p, err := t.spill(in)
		if err != nil {
			return nil, err
		}
		path, tmpPath = p, p
	}
	if path == "" {
		return nil, fmt.Errorf("%w: input has neither path nor data", watermark.ErrSourceDecode)
	}

	s, err := t.openPath(ctx, path)
	if err != nil {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
		return nil, err
	}
	s.tmpPath = tmpPath
	return s, nil
}

func (t *Toolkit) spill(in video.Input) (string, error) {
	ext := filepath.Ext(in.Name)
	if ext == "" {
		ext = filepath.Ext(in.Path)
	}

	f, err := os.CreateTemp(t.tempDir, "gwatermark-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp input: %w", err)
	}
	if _, err := f.Write(in.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp input: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp input: %w", err)
	}
	return f.Name(), nil
}

func (t *Toolkit) openPath(ctx context.Context, path string) (*source, error) {
	probe, err := t.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	rate := probe.Metadata.FrameRate
	if rate <= 0 {
		rate = video.DefaultFrameRate
	}

	cmd := exec.CommandContext(ctx, t.ffmpeg, decoderArgs(path)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decoder stdout: %w", err)
	}
	stderr := new(bytes.Buffer)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg decoder: %w", watermark.ErrSourceDecode, err)
	}

	t.log.Debug().
		Str("path", path).
		Str("codec", probe.Metadata.Codec).
		Float64("rate", rate).
		Bool("audio", probe.Audio != nil).
		Msg("decoder started")

	return &source{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		meta:   probe.Metadata,
		audio:  probe.Audio,
		rate:   rate,
		log:    t.log,
	}, nil
}

func decoderArgs(path string) []string {
	return []string{
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-map", "0:v:0",
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}
}

func (s *source) Metadata() video.Metadata { return s.meta }

func (s *source) Audio() (video.AudioTrack, bool) {
	if s.audio == nil {
		return video.AudioTrack{}, false
	}
	return *s.audio, true
}

func (s *source) ReadFrame(dst *image.RGBA) (time.Duration, error) {
	want := s.meta.Width * s.meta.Height * 4
	if len(dst.Pix) != want || dst.Stride != s.meta.Width*4 {
		return 0, fmt.Errorf("frame buffer is %v, want %dx%d", dst.Rect, s.meta.Width, s.meta.Height)
	}

	_, err := io.ReadFull(s.stdout, dst.Pix)
	switch {
	case err == nil:
		pts := time.Duration(float64(s.index) / s.rate * float64(time.Second))
		s.index++
		return pts, nil
	case errors.Is(err, io.EOF):
		if werr := s.wait(); werr != nil {
			return 0, werr
		}
		return 0, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.wait()
		return 0, fmt.Errorf("%w: truncated frame %d", watermark.ErrSourceDecode, s.index)
	default:
		return 0, fmt.Errorf("%w: read frame %d: %w", watermark.ErrSourceDecode, s.index, err)
	}
}

func (s *source) wait() error {
	s.exited = true
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("%w: ffmpeg decoder: %w (%s)", watermark.ErrSourceDecode, err, strings.TrimSpace(s.stderr.String()))
	}
	return nil
}

// Close stops the decoder if it is still running and removes any temporary
// input file.
func (s *source) Close() error {
	s.closeOnce.Do(func() {
		if !s.exited {
			s.exited = true
			if s.cmd.Process != nil {
				s.cmd.Process.Kill()
			}
			s.cmd.Wait()
		}
		if s.tmpPath != "" {
			if err := os.Remove(s.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.closeErr = fmt.Errorf("remove temp input: %w", err)
			}
		}
		s.log.Debug().Int64("frames", s.index).Msg("decoder closed")
	})
	return s.closeErr
}
