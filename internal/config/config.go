// Package config provides configuration management for saju-avatar
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	TTS     TTSConfig     `mapstructure:"tts"`
	LipSync LipSyncConfig `mapstructure:"lipsync"`
	Synth   SynthConfig   `mapstructure:"synth"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the WebSocket server
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TTSConfig configures providers and fallback behavior
type TTSConfig struct {
	DefaultLocale   string        `mapstructure:"default_locale"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	DemoteThreshold int           `mapstructure:"demote_threshold"`
	FailureWindow   time.Duration `mapstructure:"failure_window"`
	HealthInterval  time.Duration `mapstructure:"health_interval"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`

	Melo       MeloConfig       `mapstructure:"melo"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	ElevenLabs ElevenLabsConfig `mapstructure:"elevenlabs"`
}

// MeloConfig configures the free local MeloTTS provider
type MeloConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	ServiceURL string  `mapstructure:"service_url"`
	TimeoutSec int     `mapstructure:"timeout_sec"`
	Speed      float64 `mapstructure:"speed"`
	Priority   int     `mapstructure:"priority"`
}

// OpenAIConfig configures the OpenAI TTS provider
type OpenAIConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	APIKey   string  `mapstructure:"api_key"` // falls back to OPENAI_API_KEY
	Model    string  `mapstructure:"model"`
	Voice    string  `mapstructure:"voice"`
	Speed    float64 `mapstructure:"speed"`
	Priority int     `mapstructure:"priority"`
}

// ElevenLabsConfig configures the ElevenLabs TTS provider
type ElevenLabsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	APIKey   string `mapstructure:"api_key"` // falls back to ELEVENLABS_API_KEY
	VoiceID  string `mapstructure:"voice_id"`
	ModelID  string `mapstructure:"model_id"`
	Priority int    `mapstructure:"priority"`
}

// LipSyncConfig configures frame generation
type LipSyncConfig struct {
	Gain        float64       `mapstructure:"gain"`
	NoiseFloor  float64       `mapstructure:"noise_floor"`
	Window      time.Duration `mapstructure:"window"`
	NeutralForm float64       `mapstructure:"neutral_form"`
}

// SynthConfig configures the hybrid coordinator
type SynthConfig struct {
	RefineTimeout     time.Duration `mapstructure:"refine_timeout"`
	PlaceholderTone   bool          `mapstructure:"placeholder_tone"`
	PlaceholderFreqHz float64       `mapstructure:"placeholder_freq_hz"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	Dir     string `mapstructure:"dir"` // empty disables file output
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8790",
			ReadLimit:       64 * 1024,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		TTS: TTSConfig{
			DefaultLocale:   "ko-KR",
			CallTimeout:     10 * time.Second,
			DemoteThreshold: 3,
			FailureWindow:   2 * time.Minute,
			HealthInterval:  30 * time.Second,
			ProbeTimeout:    5 * time.Second,
			Melo: MeloConfig{
				Enabled:    true,
				ServiceURL: "http://localhost:8899",
				TimeoutSec: 30,
				Speed:      1.0,
				Priority:   0,
			},
			OpenAI: OpenAIConfig{
				Enabled:  true,
				Model:    "tts-1",
				Voice:    "nova",
				Speed:    1.0,
				Priority: 0,
			},
			ElevenLabs: ElevenLabsConfig{
				Enabled:  true,
				ModelID:  "eleven_multilingual_v2",
				Priority: 1,
			},
		},
		LipSync: LipSyncConfig{
			Gain:        1.4,
			NoiseFloor:  0.05,
			Window:      100 * time.Millisecond,
			NeutralForm: 0.5,
		},
		Synth: SynthConfig{
			RefineTimeout:     15 * time.Second,
			PlaceholderTone:   false,
			PlaceholderFreqHz: 220,
		},
		Logging: LoggingConfig{
			Level:   "debug",
			Console: true,
		},
	}
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

	viper.SetEnvPrefix("SAJUAVATAR")
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

// Watch re-reads the config file on change and invokes onReload with the
// fresh config. Used to rebuild fallback chains when credentials or provider
// settings change at runtime.
func Watch(onReload func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		onReload(cfg)
	})
	viper.WatchConfig()
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

	viper.Set("server", cfg.Server)
	viper.Set("tts", cfg.TTS)
	viper.Set("lipsync", cfg.LipSync)
	viper.Set("synth", cfg.Synth)
	viper.Set("logging", cfg.Logging)

	return viper.WriteConfigAs(filepath.Join(configDir, "config.yaml"))
}

// Dir returns the configuration directory path
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".sajuavatar"), nil
}
