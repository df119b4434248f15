// Package config loads the gwatermark settings from YAML, .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	watermark "github.com/gcslaoli/gwatermark"
	"github.com/gcslaoli/gwatermark/video"
)

// Config is the complete gwatermark configuration.
type Config struct {
	AssetsDir  string       `yaml:"assets_dir"`  // directory holding bg_48.png and bg_96.png
	SizePolicy string       `yaml:"size_policy"` // either, both
	Image      ImageConfig  `yaml:"image"`
	Output     OutputConfig `yaml:"output"`
	Video      VideoConfig  `yaml:"video"`
	Log        LogConfig    `yaml:"log"`
}

// ImageConfig contains image pipeline settings
type ImageConfig struct {
	Detect bool `yaml:"detect"` // skip images without a detected watermark
}

// OutputConfig controls where results are written
type OutputConfig struct {
	Dir       string `yaml:"dir"` // empty writes next to each input
	Prefix    string `yaml:"prefix"`
	Suffix    string `yaml:"suffix"`
	Overwrite bool   `yaml:"overwrite"`
}

// VideoConfig contains video pipeline and ffmpeg settings
type VideoConfig struct {
	FrameRate   float64       `yaml:"frame_rate"`
	Tolerance   time.Duration `yaml:"tolerance"`    // e.g. 1ms
	SettleDelay time.Duration `yaml:"settle_delay"` // e.g. 50ms
	Container   string        `yaml:"container"`    // mp4, webm
	FFmpeg      string        `yaml:"ffmpeg"`
	FFprobe     string        `yaml:"ffprobe"`
	TempDir     string        `yaml:"temp_dir"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Human bool   `yaml:"human"` // console output instead of JSON
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		AssetsDir:  "assets",
		SizePolicy: watermark.PolicyEither.String(),
		Output: OutputConfig{
			Prefix: watermark.DefaultNaming.Prefix,
			Suffix: watermark.DefaultNaming.Suffix,
		},
		Video: VideoConfig{
			FrameRate:   video.DefaultFrameRate,
			Tolerance:   video.DefaultTolerance,
			SettleDelay: video.DefaultSettleDelay,
			Container:   video.DefaultContainer,
			FFmpeg:      "ffmpeg",
			FFprobe:     "ffprobe",
		},
		Log: LogConfig{
			Level: "info",
			Human: true,
		},
	}
}

// Load reads a YAML configuration file over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// Environment variables read by ApplyEnv.
const (
	EnvAssetsDir  = "GWR_ASSETS_DIR"
	EnvSizePolicy = "GWR_SIZE_POLICY"
	EnvFFmpeg     = "GWR_FFMPEG"
	EnvFFprobe    = "GWR_FFPROBE"
	EnvFrameRate  = "GWR_FRAME_RATE"
	EnvContainer  = "GWR_CONTAINER"
	EnvLogLevel   = "GWR_LOG_LEVEL"
)

// ApplyEnv overrides c from the environment. Values from the given .env
// files fill in variables the environment does not set; missing files are
// ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool), files ...string) error {
	fromFiles := map[string]string{}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		values, err := godotenv.Read(f)
		if err != nil {
			return fmt.Errorf("failed to read env file %s: %w", f, err)
		}
		for k, v := range values {
			if _, ok := fromFiles[k]; !ok {
				fromFiles[k] = v
			}
		}
	}

	get := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := fromFiles[key]
		return v, ok
	}

	strs := map[string]*string{
		EnvAssetsDir:  &c.AssetsDir,
		EnvSizePolicy: &c.SizePolicy,
		EnvFFmpeg:     &c.Video.FFmpeg,
		EnvFFprobe:    &c.Video.FFprobe,
		EnvContainer:  &c.Video.Container,
		EnvLogLevel:   &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := get(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := get(EnvFrameRate); ok && v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFrameRate, err)
		}
		c.Video.FrameRate = rate
	}

	return nil
}

// Validate reports settings no run could use.
func (c *Config) Validate() error {
	if c.AssetsDir == "" {
		return errors.New("assets_dir is required")
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if err := c.Pipeline().Validate(); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	if c.Video.FFmpeg == "" || c.Video.FFprobe == "" {
		return errors.New("video: ffmpeg and ffprobe binaries are required")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// Policy returns the parsed size policy.
func (c *Config) Policy() (watermark.SizePolicy, error) {
	return watermark.ParseSizePolicy(c.SizePolicy)
}

// Naming returns the output naming rule.
func (c *Config) Naming() watermark.Naming {
	return watermark.Naming{Prefix: c.Output.Prefix, Suffix: c.Output.Suffix}
}

// Pipeline returns the video pipeline settings.
func (c *Config) Pipeline() video.Config {
	return video.Config{
		FrameRate:   c.Video.FrameRate,
		Tolerance:   c.Video.Tolerance,
		SettleDelay: c.Video.SettleDelay,
		Container:   c.Video.Container,
	}
}
