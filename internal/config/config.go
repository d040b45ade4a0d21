// Package config loads and watches the scrumvoice configuration file.
//
// Configuration lives in a single YAML file (default scrumvoice.yaml).
// Environment variables with the SCRUMVOICE_ prefix override file values,
// so secrets like the tracker API token never need to be written to disk.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no explicit path is given.
const DefaultPath = "scrumvoice.yaml"

// TrackerConfig selects and authenticates the issue tracker backend.
type TrackerConfig struct {
	// Kind names a registered tracker backend, e.g. "jira".
	Kind       string `mapstructure:"kind" yaml:"kind"`
	URL        string `mapstructure:"url" yaml:"url"`
	Email      string `mapstructure:"email" yaml:"email"`
	APIToken   string `mapstructure:"api_token" yaml:"api_token"`
	ProjectKey string `mapstructure:"project_key" yaml:"project_key"`
	// DefaultAssignee is the tracker identity whose To Do list the bot
	// reads when a session doesn't carry its own user.
	DefaultAssignee string `mapstructure:"default_assignee" yaml:"default_assignee"`
}

// SpeechConfig configures the speech-to-text / text-to-speech provider.
// Speech is optional; with no API key the bot runs text-only.
type SpeechConfig struct {
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	STTModel string `mapstructure:"stt_model" yaml:"stt_model"`
	TTSVoice string `mapstructure:"tts_voice" yaml:"tts_voice"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	// StaticDir, when set, is served for paths outside /api/.
	StaticDir string `mapstructure:"static_dir" yaml:"static_dir"`
}

// Config is the full scrumvoice configuration.
type Config struct {
	Tracker TrackerConfig `mapstructure:"tracker" yaml:"tracker"`
	Speech  SpeechConfig  `mapstructure:"speech" yaml:"speech"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Tracker: TrackerConfig{
			Kind:            "jira",
			DefaultAssignee: "unassigned",
		},
		Speech: SpeechConfig{
			STTModel: "nova-2",
			TTSVoice: "aura-asteria-en",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// Load reads the config file at path, applying defaults and SCRUMVOICE_*
// environment overrides. A missing file is not an error; defaults plus
// environment still apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetEnvPrefix("SCRUMVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("tracker.kind", def.Tracker.Kind)
	v.SetDefault("tracker.url", "")
	v.SetDefault("tracker.email", "")
	v.SetDefault("tracker.api_token", "")
	v.SetDefault("tracker.project_key", "")
	v.SetDefault("tracker.default_assignee", def.Tracker.DefaultAssignee)
	v.SetDefault("speech.api_key", "")
	v.SetDefault("speech.stt_model", def.Speech.STTModel)
	v.SetDefault("speech.tts_voice", def.Speech.TTSVoice)
	v.SetDefault("server.listen_addr", def.Server.ListenAddr)
	v.SetDefault("server.static_dir", "")

	// DEEPGRAM_API_KEY is the provider's conventional variable name.
	_ = v.BindEnv("speech.api_key", "SCRUMVOICE_SPEECH_API_KEY", "DEEPGRAM_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the fields required to talk to the tracker.
func (c *Config) Validate() error {
	if c.Tracker.Kind == "" {
		return fmt.Errorf("config: tracker.kind is required")
	}
	if c.Tracker.URL == "" {
		return fmt.Errorf("config: tracker.url is required")
	}
	if c.Tracker.APIToken == "" {
		return fmt.Errorf("config: tracker.api_token is required (or set SCRUMVOICE_TRACKER_API_TOKEN)")
	}
	if c.Tracker.ProjectKey == "" {
		return fmt.Errorf("config: tracker.project_key is required")
	}
	return nil
}

// WriteDefault writes a starter config file at path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
