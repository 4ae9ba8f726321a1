package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Search        Search        `yaml:"search"`
	Sources       Sources       `yaml:"sources"`
	Content       Content       `yaml:"content"`
	Summarization Summarization `yaml:"summarization"`
	Output        Output        `yaml:"output"`
	Server        Server        `yaml:"server"`
}

type Search struct {
	DefaultQuery string `yaml:"default_query"`
	// PerPage is the immediate-wave page size; a background task is
	// spawned when the index returns fewer matches than this.
	PerPage            int `yaml:"per_page"`
	BackgroundPageSize int `yaml:"background_page_size"`
	WindowDays         int `yaml:"window_days"`
	PollIntervalMS     int `yaml:"poll_interval_ms"`
	// PollTimeoutSec caps how long a client waits on a background
	// task; 0 means poll until the task reaches a terminal state.
	PollTimeoutSec int `yaml:"poll_timeout_seconds"`
}

type Sources struct {
	Feeds   []Feed        `yaml:"feeds"`
	NewsAPI NewsAPIConfig `yaml:"newsapi"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type NewsAPIConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Language  string `yaml:"language"`
	Country   string `yaml:"country"`
}

type Content struct {
	FetchTimeoutSec int    `yaml:"fetch_timeout_seconds"`
	MinLength       int    `yaml:"min_length"`
	UseJina         bool   `yaml:"use_jina"`
	JinaAPIKeyEnv   string `yaml:"jina_api_key_env"`
}

type Summarization struct {
	Provider     string `yaml:"provider"`
	GeminiModel  string `yaml:"gemini_model"`
	GeminiKeyEnv string `yaml:"gemini_api_key_env"`
	OpenAIModel  string `yaml:"openai_model"`
	OpenAIKeyEnv string `yaml:"openai_api_key_env"`
	OllamaURL    string `yaml:"ollama_url"`
	OllamaModel  string `yaml:"ollama_model"`
	MaxLength    int    `yaml:"max_length"`
	MaxTokens    int    `yaml:"max_tokens"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
	// URL is the base address client commands talk to; empty means
	// http://localhost:<port>.
	URL string `yaml:"url"`
}

// ConfigDir returns the XDG config directory for newswave.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "newswave")
}

// DataDir returns the XDG data directory for newswave.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "newswave")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/newswave/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'newswave init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Search: Search{
			DefaultQuery:       "台灣",
			PerPage:            5,
			BackgroundPageSize: 10,
			WindowDays:         7,
			PollIntervalMS:     1000,
		},
		Sources: Sources{
			NewsAPI: NewsAPIConfig{
				APIKeyEnv: "NEWS_API_KEY",
				Country:   "hk",
			},
		},
		Content: Content{
			FetchTimeoutSec: 30,
			MinLength:       100,
			JinaAPIKeyEnv:   "JINA_API_KEY",
		},
		Summarization: Summarization{
			Provider:     "gemini",
			GeminiModel:  "gemini-2.0-flash",
			GeminiKeyEnv: "GEMINI_API_KEY",
			OpenAIModel:  "gpt-4o-mini",
			OpenAIKeyEnv: "OPENAI_API_KEY",
			OllamaURL:    "http://localhost:11434",
			OllamaModel:  "qwen2.5:7b",
			MaxLength:    200,
			MaxTokens:    512,
		},
		Server: Server{Port: 5001},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// ServerURL returns the base URL client commands use to reach the server.
func (c *Config) ServerURL() string {
	if c.Server.URL != "" {
		return c.Server.URL
	}
	return fmt.Sprintf("http://localhost:%d", c.Server.Port)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
