// Package config provides configuration management for the interview engine
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Idle     IdleConfig     `mapstructure:"idle"`
	Autosave AutosaveConfig `mapstructure:"autosave"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// APIConfig configures the interview service client
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AudioConfig configures capture and VAD
type AudioConfig struct {
	SampleRate      int           `mapstructure:"sample_rate"`
	Channels        int           `mapstructure:"channels"`
	BitDepth        int           `mapstructure:"bit_depth"`
	VADThreshold    float64       `mapstructure:"vad_threshold"`
	SmoothingFrames int           `mapstructure:"smoothing_frames"`
	SilenceDuration time.Duration `mapstructure:"silence_duration"`
	MaxClipDuration time.Duration `mapstructure:"max_clip_duration"`
	MinClipBytes    int           `mapstructure:"min_clip_bytes"`
}

// IdleConfig configures the idle monitor
type IdleConfig struct {
	Threshold    time.Duration `mapstructure:"threshold"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// AutosaveConfig configures the code autosave debouncer
type AutosaveConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// EngineConfig configures orchestrator behavior
type EngineConfig struct {
	Mode            string        `mapstructure:"mode"` // manual or continuous
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// GatewayConfig configures the websocket audio gateway
type GatewayConfig struct {
	ListenAddr    string        `mapstructure:"listen_addr"`
	PlayedTimeout time.Duration `mapstructure:"played_timeout"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Dir     string `mapstructure:"dir"`
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000/api/interview",
			Timeout: 30 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			BitDepth:        16,
			VADThreshold:    0.01,
			SmoothingFrames: 5,
			SilenceDuration: 1500 * time.Millisecond,
			MaxClipDuration: 2 * time.Minute,
			MinClipBytes:    1000,
		},
		Idle: IdleConfig{
			Threshold:    30 * time.Second,
			Cooldown:     45 * time.Second,
			PollInterval: 5 * time.Second,
		},
		Autosave: AutosaveConfig{
			Debounce: 800 * time.Millisecond,
		},
		Engine: EngineConfig{
			Mode:            "continuous",
			RetryBackoff:    2 * time.Second,
			RetryBackoffMax: 30 * time.Second,
			MaxRetries:      5,
		},
		Gateway: GatewayConfig{
			ListenAddr:    ":8090",
			PlayedTimeout: 2 * time.Minute,
		},
		Logging: LoggingConfig{
			Dir:     filepath.Join(home, ".aigaraza", "logs"),
			Level:   "info",
			Console: true,
		},
	}
}

// Dir returns the configuration directory path
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".aigaraza"), nil
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := Dir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("AIGARAZA")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadFile reads configuration from an explicit path, used by the watcher.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	configDir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("api", cfg.API)
	viper.Set("audio", cfg.Audio)
	viper.Set("idle", cfg.Idle)
	viper.Set("autosave", cfg.Autosave)
	viper.Set("engine", cfg.Engine)
	viper.Set("gateway", cfg.Gateway)
	viper.Set("logging", cfg.Logging)

	return viper.WriteConfigAs(filepath.Join(configDir, "config.yaml"))
}
