// Package config loads viewer settings from a YAML file, a .env file and
// the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/zsiec/rfbview/internal/decoder"
	"github.com/zsiec/rfbview/internal/transport"
)

// Surface kinds.
const (
	SurfaceSDL  = "sdl"
	SurfaceTerm = "term"
	SurfaceNone = "none"
)

var (
	ErrNoServer       = errors.New("config: server url is required")
	ErrUnknownSurface = errors.New("config: unknown surface")
	ErrInvalid        = errors.New("config: invalid value")
)

// Config is the complete viewer configuration.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Display  DisplayConfig `yaml:"display"`
	Decoder  DecoderConfig `yaml:"decoder"`
	LogLevel string        `yaml:"log_level"` // debug, info, warn, error
	Snapshot string        `yaml:"snapshot"`  // PNG written on exit
}

// ServerConfig describes where chunks come from.
type ServerConfig struct {
	URL          string `yaml:"url"` // tcp://, srt:// or quic:// host:port
	StreamID     string `yaml:"stream_id"`
	Fingerprint  string `yaml:"fingerprint"` // QUIC certificate pin
	DialTimeoutS int    `yaml:"dial_timeout_s"`
}

// DisplayConfig describes the visible surface.
type DisplayConfig struct {
	Surface        string `yaml:"surface"` // sdl, term, none
	Title          string `yaml:"title"`
	Clip           bool   `yaml:"clip"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
	Autoscale      bool   `yaml:"autoscale"`
}

// DecoderConfig tunes the native decoder.
type DecoderConfig struct {
	Library    string `yaml:"library"`
	Threads    int    `yaml:"threads"`
	Hardware   string `yaml:"hardware"` // prefer-hardware, prefer-software, no-preference
	LowLatency bool   `yaml:"low_latency"`
	QueueSize  int    `yaml:"queue_size"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{DialTimeoutS: 10},
		Display: DisplayConfig{
			Surface:   SurfaceSDL,
			Title:     "rfbview",
			Autoscale: true,
		},
		Decoder: DecoderConfig{
			Hardware:   decoder.PreferHardware.String(),
			LowLatency: true,
		},
		LogLevel: "info",
	}
}

// LoadEnv loads .env style files into the process environment. Missing
// files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyEnv(c *Config) error {
	c.Server.URL = envOr("RFBVIEW_SERVER", c.Server.URL)
	c.Server.StreamID = envOr("RFBVIEW_STREAM_ID", c.Server.StreamID)
	c.Server.Fingerprint = envOr("RFBVIEW_FINGERPRINT", c.Server.Fingerprint)
	c.Display.Surface = envOr("RFBVIEW_SURFACE", c.Display.Surface)
	c.Display.Title = envOr("RFBVIEW_TITLE", c.Display.Title)
	c.Decoder.Library = envOr("RFBVIEW_H264_LIB", c.Decoder.Library)
	c.Decoder.Hardware = envOr("RFBVIEW_HW_DECODE", c.Decoder.Hardware)
	c.Snapshot = envOr("RFBVIEW_SNAPSHOT", c.Snapshot)
	c.LogLevel = envOr("RFBVIEW_LOG_LEVEL", c.LogLevel)
	if os.Getenv("DEBUG") != "" {
		c.LogLevel = "debug"
	}

	var err error
	if c.Decoder.Threads, err = envInt("RFBVIEW_DECODER_THREADS", c.Decoder.Threads); err != nil {
		return err
	}
	if c.Display.Clip, err = envBool("RFBVIEW_CLIP", c.Display.Clip); err != nil {
		return err
	}
	if c.Display.Autoscale, err = envBool("RFBVIEW_AUTOSCALE", c.Display.Autoscale); err != nil {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v)
	}
	return b, nil
}

// Validate checks the configuration and fills zero values with defaults.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return ErrNoServer
	}
	sc, _, err := transport.ParseURL(c.Server.URL)
	if err != nil {
		return err
	}
	if sc == transport.SchemeQUIC && c.Server.Fingerprint == "" {
		return fmt.Errorf("%w: quic server needs a fingerprint", ErrInvalid)
	}
	if c.Server.DialTimeoutS <= 0 {
		c.Server.DialTimeoutS = 10
	}

	c.Display.Surface = strings.ToLower(c.Display.Surface)
	switch c.Display.Surface {
	case "":
		c.Display.Surface = SurfaceSDL
	case SurfaceSDL, SurfaceTerm, SurfaceNone:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSurface, c.Display.Surface)
	}
	if c.Display.ViewportWidth < 0 || c.Display.ViewportHeight < 0 {
		return fmt.Errorf("%w: negative viewport size", ErrInvalid)
	}

	if c.Decoder.Threads < 0 {
		return fmt.Errorf("%w: decoder threads %d", ErrInvalid, c.Decoder.Threads)
	}
	if _, err := decoder.ParseHWPreference(c.Decoder.Hardware); err != nil {
		return err
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// DialTimeout returns the server dial timeout.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Server.DialTimeoutS) * time.Second
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: log level %q", ErrInvalid, s)
}
