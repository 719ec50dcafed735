package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. EGRESS_HLS_OUTPUT_DIR.
const EnvPrefix = "EGRESS_"

// AudioConfig describes the canonical mix format.
type AudioConfig struct {
	SampleRate int           `yaml:"sample_rate" env:"SAMPLE_RATE"`
	Channels   int           `yaml:"channels" env:"CHANNELS"`
	Warmup     time.Duration `yaml:"warmup" env:"WARMUP"`
}

// EncoderConfig selects the output codec.
type EncoderConfig struct {
	Codec   string `yaml:"codec" env:"CODEC"`
	BitRate int64  `yaml:"bit_rate" env:"BIT_RATE"`
}

// HLSConfig controls the segmented output.
type HLSConfig struct {
	OutputDir      string `yaml:"output_dir" env:"OUTPUT_DIR"`
	Playlist       string `yaml:"playlist" env:"PLAYLIST"`
	SegmentSeconds int    `yaml:"segment_seconds" env:"SEGMENT_SECONDS"`
	ListSize       int    `yaml:"list_size" env:"LIST_SIZE"`
	DeleteSegments bool   `yaml:"delete_segments" env:"DELETE_SEGMENTS"`
}

// LiveKitConfig stores the room server and credentials. With an API key
// pair tokens are minted locally, otherwise TokenURL is asked for a guest
// token.
type LiveKitConfig struct {
	URL       string        `yaml:"url" env:"URL"`
	TokenURL  string        `yaml:"token_url" env:"TOKEN_URL"`
	APIKey    string        `yaml:"api_key" env:"API_KEY"`
	APISecret string        `yaml:"api_secret" env:"API_SECRET"`
	Identity  string        `yaml:"identity" env:"IDENTITY"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen address
// disables it.
type MetricsConfig struct {
	Listen   string `yaml:"listen" env:"LISTEN"`
	Path     string `yaml:"path" env:"PATH"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// SupervisorConfig controls how room runs are scheduled and remembered.
type SupervisorConfig struct {
	HistorySize  int           `yaml:"history_size" env:"HISTORY_SIZE"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ExitWhenDone bool          `yaml:"exit_when_done" env:"EXIT_WHEN_DONE"`
}

// Config stores the application configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level" env:"LOG_LEVEL"`
	Rooms      []string         `yaml:"rooms" env:"ROOMS" envSeparator:","`
	Audio      AudioConfig      `yaml:"audio" envPrefix:"AUDIO_"`
	Encoder    EncoderConfig    `yaml:"encoder" envPrefix:"ENCODER_"`
	HLS        HLSConfig        `yaml:"hls" envPrefix:"HLS_"`
	LiveKit    LiveKitConfig    `yaml:"livekit" envPrefix:"LIVEKIT_"`
	Metrics    MetricsConfig    `yaml:"metrics" envPrefix:"METRICS_"`
	Supervisor SupervisorConfig `yaml:"supervisor" envPrefix:"SUPERVISOR_"`
}

// Default returns the configuration used for anything the file and the
// environment leave unset.
func Default() Config {
	return Config{
		LogLevel: "info",
		Audio: AudioConfig{
			SampleRate: 48_000,
			Channels:   2,
			Warmup:     10 * time.Millisecond,
		},
		Encoder: EncoderConfig{
			Codec:   "aac",
			BitRate: 128_000,
		},
		HLS: HLSConfig{
			OutputDir:      "out",
			Playlist:       "live.m3u8",
			SegmentSeconds: 2,
			ListSize:       10,
			DeleteSegments: true,
		},
		LiveKit: LiveKitConfig{
			URL:      "wss://nostrnests.com",
			TokenURL: "https://nostrnests.com/api/v1/nests/{room}/guest",
			Identity: "room-egress",
			TokenTTL: 6 * time.Hour,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Supervisor: SupervisorConfig{
			HistorySize: 128,
			IdleTimeout: 5 * time.Minute,
		},
	}
}

// LoadConfig loads the configuration from the given file path on top of the
// defaults and applies EGRESS_* environment overrides. An empty path skips
// the file.
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment variables are invalid: %w", err)
	}

	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate: must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels: must be 1 or 2, got %d", c.Audio.Channels))
	}
	if c.Audio.Warmup < 0 {
		errs = append(errs, errors.New("audio.warmup: must not be negative"))
	}

	if c.Encoder.Codec == "" {
		errs = append(errs, errors.New("encoder.codec: required"))
	}
	if c.Encoder.BitRate <= 0 {
		errs = append(errs, fmt.Errorf("encoder.bit_rate: must be positive, got %d", c.Encoder.BitRate))
	}

	if c.HLS.OutputDir == "" {
		errs = append(errs, errors.New("hls.output_dir: required"))
	}
	if c.HLS.Playlist == "" {
		errs = append(errs, errors.New("hls.playlist: required"))
	}
	if c.HLS.SegmentSeconds <= 0 {
		errs = append(errs, fmt.Errorf("hls.segment_seconds: must be positive, got %d", c.HLS.SegmentSeconds))
	}
	if c.HLS.ListSize < 0 {
		errs = append(errs, fmt.Errorf("hls.list_size: must not be negative, got %d", c.HLS.ListSize))
	}

	if c.LiveKit.URL == "" {
		errs = append(errs, errors.New("livekit.url: required"))
	}
	if (c.LiveKit.APIKey == "") != (c.LiveKit.APISecret == "") {
		errs = append(errs, errors.New("livekit: api_key and api_secret must be set together"))
	}
	if c.LiveKit.APIKey == "" && c.LiveKit.TokenURL == "" {
		errs = append(errs, errors.New("livekit: token_url is required without an api key"))
	}

	if c.Metrics.Listen != "" && c.Metrics.Path == "" {
		errs = append(errs, errors.New("metrics.path: required when metrics.listen is set"))
	}
	if (c.Metrics.Username == "") != (c.Metrics.Password == "") {
		errs = append(errs, errors.New("metrics: username and password must be set together"))
	}

	if c.Supervisor.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("supervisor.history_size: must be positive, got %d", c.Supervisor.HistorySize))
	}
	if c.Supervisor.IdleTimeout <= 0 {
		errs = append(errs, errors.New("supervisor.idle_timeout: must be positive"))
	}

	return errors.Join(errs...)
}
