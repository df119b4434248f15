package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	watermark "github.com/gcslaoli/gwatermark"
	"github.com/gcslaoli/gwatermark/video"
)

// encoder feeds raw RGBA frames to ffmpeg at a constant frame rate. Frames
// are placed in the output slot nearest their timestamp; gaps are filled by
// repeating the previous frame so the output keeps the source's timing.
type encoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer

	interval time.Duration
	next     int64
	prev     []byte
	written  int64

	log       zerolog.Logger
	mu        sync.Mutex
	done      bool
	abortOnce sync.Once
}

// NewEncoder starts an ffmpeg encoder writing the container stream to sink.
func (t *Toolkit) NewEncoder(ctx context.Context, cfg video.EncoderConfig, sink io.Writer) (video.Encoder, error) {
	args, err := encoderArgs(cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, t.ffmpeg, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	stderr := new(bytes.Buffer)
	cmd.Stdout = sink
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg encoder: %w", watermark.ErrEncode, err)
	}

	t.log.Debug().Strs("args", args).Msg("encoder started")

	return &encoder{
		cmd:      cmd,
		stdin:    stdin,
		stderr:   stderr,
		interval: time.Duration(float64(time.Second) / cfg.FrameRate),
		log:      t.log,
	}, nil
}

func encoderArgs(cfg video.EncoderConfig) ([]string, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid output size %dx%d", watermark.ErrEncode, cfg.Width, cfg.Height)
	}
	if cfg.FrameRate <= 0 {
		return nil, fmt.Errorf("%w: invalid frame rate %v", watermark.ErrEncode, cfg.FrameRate)
	}

	args := []string{
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", strconv.FormatFloat(cfg.FrameRate, 'f', -1, 64),
		"-i", "pipe:0",
	}
	if cfg.Audio != nil {
		args = append(args, "-i", cfg.Audio.Track.SourcePath)
	}

	args = append(args, "-map", "0:v:0")
	if cfg.Audio != nil {
		args = append(args, "-map", fmt.Sprintf("1:%d", cfg.Audio.Track.StreamIndex))
	}

	// yuv420p needs even dimensions.
	if cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		args = append(args, "-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2")
	}

	bitrate := strconv.Itoa(cfg.Bitrate)
	bufsize := strconv.Itoa(cfg.Bitrate * 2)

	switch cfg.Container {
	case "", "mp4":
		args = append(args,
			"-c:v", "libx264",
			"-preset", "medium",
			"-pix_fmt", "yuv420p",
			"-b:v", bitrate,
			"-maxrate", bitrate,
			"-bufsize", bufsize,
		)
	case "webm":
		args = append(args,
			"-c:v", "libvpx-vp9",
			"-deadline", "good",
			"-cpu-used", "4",
			"-row-mt", "1",
			"-pix_fmt", "yuv420p",
			"-b:v", bitrate,
			"-maxrate", bitrate,
			"-bufsize", bufsize,
		)
	default:
		return nil, fmt.Errorf("%w: unsupported container %q", watermark.ErrEncode, cfg.Container)
	}

	if cfg.Audio != nil {
		args = append(args, "-c:a", cfg.Audio.Codec)
		if cfg.Audio.Codec != "copy" && cfg.Audio.Bitrate > 0 {
			args = append(args, "-b:a", strconv.Itoa(cfg.Audio.Bitrate))
		}
	}

	if cfg.Container == "webm" {
		args = append(args, "-f", "webm", "pipe:1")
	} else {
		args = append(args,
			"-movflags", "frag_keyframe+empty_moov+default_base_moof",
			"-f", "mp4",
			"pipe:1",
		)
	}

	return args, nil
}

// slot maps a timestamp to its constant-rate output frame index.
func (e *encoder) slot(pts time.Duration) int64 {
	return int64(math.Round(float64(pts) / float64(e.interval)))
}

func (e *encoder) SubmitFrame(frame *image.RGBA, pts time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return fmt.Errorf("encoder already closed")
	}

	slot := e.slot(pts)
	if slot < e.next {
		slot = e.next
	}

	fill := e.prev
	if fill == nil {
		fill = frame.Pix
	}
	for e.next < slot {
		if err := e.write(fill); err != nil {
			return err
		}
	}
	if err := e.write(frame.Pix); err != nil {
		return err
	}

	if e.prev == nil {
		e.prev = make([]byte, len(frame.Pix))
	}
	copy(e.prev, frame.Pix)
	return nil
}

func (e *encoder) write(pix []byte) error {
	if _, err := e.stdin.Write(pix); err != nil {
		return fmt.Errorf("write frame %d: %w (%s)", e.next, err, e.stderrText())
	}
	e.next++
	e.written++
	return nil
}

func (e *encoder) Finish() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return fmt.Errorf("encoder already closed")
	}
	e.done = true

	if err := e.stdin.Close(); err != nil {
		return fmt.Errorf("close encoder input: %w", err)
	}
	// Wait returns after stdout has been fully copied into the sink.
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encoder: %w (%s)", err, e.stderrText())
	}

	e.log.Debug().Int64("frames", e.written).Msg("encoder finished")
	return nil
}

func (e *encoder) Abort() error {
	e.abortOnce.Do(func() {
		e.mu.Lock()
		finished := e.done
		e.done = true
		e.mu.Unlock()

		if finished {
			return
		}
		e.stdin.Close()
		if e.cmd.Process != nil {
			e.cmd.Process.Kill()
		}
		e.cmd.Wait()
		e.log.Debug().Int64("frames", e.written).Msg("encoder aborted")
	})
	return nil
}

func (e *encoder) stderrText() string {
	return strings.TrimSpace(e.stderr.String())
}
