package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StorageConfig struct {
	StateFile    string `yaml:"stateFile"`
	DownloadsDir string `yaml:"downloadsDir"`
}

type DownloaderConfig struct {
	YtdlpPath        string `yaml:"ytdlpPath"`
	FFmpegPath       string `yaml:"ffmpegPath"`
	Format           string `yaml:"format"`
	UserAgent        string `yaml:"userAgent"`
	MaxRetries       int    `yaml:"maxRetries"`
	RetryBaseDelayMs int    `yaml:"retryBaseDelayMs"`
}

// StreamConfig controls the SSE side: subscriber queue depth, idle
// heartbeat cadence, and how long a finished job's stream stays
// attachable for late subscribers.
type StreamConfig struct {
	QueueSize            int `yaml:"queueSize"`
	HeartbeatSeconds     int `yaml:"heartbeatSeconds"`
	TeardownGraceSeconds int `yaml:"teardownGraceSeconds"`
}

// ProgressConfig names the synthetic-progress policy. When the tool
// reports no usable signal, progress normally just holds; enabling
// synthesizeWhenIdle bumps it by stepPercent per silent sample instead.
type ProgressConfig struct {
	SynthesizeWhenIdle    bool    `yaml:"synthesizeWhenIdle"`
	SynthesizeStepPercent float64 `yaml:"synthesizeStepPercent"`
}

// RetentionConfig controls TTL-like deletion of terminal jobs and
// their artifacts so storage does not grow without bound.
type RetentionConfig struct {
	Enabled              bool `yaml:"enabled"`
	SweepIntervalSeconds int  `yaml:"sweepIntervalSeconds"`
	MaxAgeMinutes        int  `yaml:"maxAgeMinutes"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Downloader DownloaderConfig `yaml:"downloader"`
	Stream     StreamConfig     `yaml:"stream"`
	Progress   ProgressConfig   `yaml:"progress"`
	Retention  RetentionConfig  `yaml:"retention"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	cfg.applyDefaults()
	return &cfg
}

// Default returns a config usable without a file on disk.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.StateFile == "" {
		c.Storage.StateFile = "state.json"
	}
	if c.Storage.DownloadsDir == "" {
		c.Storage.DownloadsDir = "downloads"
	}
	if c.Stream.QueueSize <= 0 {
		c.Stream.QueueSize = 32
	}
	if c.Stream.HeartbeatSeconds <= 0 {
		c.Stream.HeartbeatSeconds = 10
	}
	if c.Stream.TeardownGraceSeconds <= 0 {
		c.Stream.TeardownGraceSeconds = 5
	}
	if c.Progress.SynthesizeStepPercent <= 0 {
		c.Progress.SynthesizeStepPercent = 0.5
	}
	if c.Retention.SweepIntervalSeconds <= 0 {
		c.Retention.SweepIntervalSeconds = 60
	}
	if c.Retention.MaxAgeMinutes <= 0 {
		c.Retention.MaxAgeMinutes = 30
	}
	if c.Downloader.MaxRetries <= 0 {
		c.Downloader.MaxRetries = 3
	}
	if c.Downloader.RetryBaseDelayMs <= 0 {
		c.Downloader.RetryBaseDelayMs = 2000
	}
}
