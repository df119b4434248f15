package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	watermark "github.com/gcslaoli/gwatermark"
	"github.com/gcslaoli/gwatermark/video"
)

type ffprobeOutput struct {
	Format struct {
		Filename string `json:"filename"`
		Duration string `json:"duration"`
		Format   string `json:"format_name"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	Index        int    `json:"index"`
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
}

func (p *ffprobeOutput) firstStream(codecType string) *ffprobeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == codecType {
			return &p.Streams[i]
		}
	}
	return nil
}

// ProbeResult is what the pipeline needs to know about a source file.
type ProbeResult struct {
	Metadata video.Metadata
	Audio    *video.AudioTrack
}

// Probe reads the video metadata and first audio track of path.
func (t *Toolkit) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if _, ok := ctx.Deadline(); !ok && t.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.probeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(
		ctx,
		t.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: ffprobe %s: %w", watermark.ErrSourceDecode, path, err)
	}

	res, err := parseProbe(out)
	if err != nil {
		return nil, err
	}
	if res.Audio != nil {
		res.Audio.SourcePath = path
	}
	return res, nil
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe output: %w", watermark.ErrSourceDecode, err)
	}

	vs := probe.firstStream("video")
	if vs == nil {
		return nil, fmt.Errorf("%w: no video stream found", watermark.ErrSourceDecode)
	}
	if vs.Width <= 0 || vs.Height <= 0 {
		return nil, fmt.Errorf("%w: video stream reports %dx%d", watermark.ErrSourceDecode, vs.Width, vs.Height)
	}

	duration := parseSeconds(probe.Format.Duration)
	if duration == 0 {
		duration = parseSeconds(vs.Duration)
	}

	// The rawvideo decoder output runs at r_frame_rate.
	rate := parseRate(vs.RFrameRate)
	if rate == 0 {
		rate = parseRate(vs.AvgFrameRate)
	}

	res := &ProbeResult{
		Metadata: video.Metadata{
			Width:     vs.Width,
			Height:    vs.Height,
			Duration:  duration,
			FrameRate: rate,
			Codec:     vs.CodecName,
		},
	}

	if as := probe.firstStream("audio"); as != nil {
		sampleRate, _ := strconv.Atoi(as.SampleRate)
		res.Audio = &video.AudioTrack{
			StreamIndex: as.Index,
			Codec:       as.CodecName,
			Channels:    as.Channels,
			SampleRate:  sampleRate,
		}
	}

	return res, nil
}

// parseRate parses "30000/1001" or "29.97" into frames per second. Malformed
// or zero rates yield 0.
func parseRate(s string) float64 {
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 || n <= 0 {
			return 0
		}
		return n / d
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0
	}
	return f
}

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}
