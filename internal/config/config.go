package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Embedding EmbeddingConfig
	Ollama    OllamaConfig
	Gemini    GeminiConfig
	OpenAI    OpenAIConfig
	Worker    WorkerConfig
	API       APIConfig
}

type ServerConfig struct {
	Port       int
	MCPEnabled bool
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type EmbeddingConfig struct {
	Provider    string // "ollama", "gemini" or "openai"
	Timeout     time.Duration
	RateLimit   float64 // requests per second, 0 disables limiting
	Burst       int
	Concurrency int // backfill workers
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type GeminiConfig struct {
	Model         string
	GenerateModel string // résumé classification
	APIKey        string
}

type OpenAIConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type WorkerConfig struct {
	PollInterval time.Duration
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Embedding: EmbeddingConfig{
			Provider:    "ollama",
			Timeout:     30 * time.Second,
			Burst:       1,
			Concurrency: 4,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Gemini: GeminiConfig{
			Model:         "gemini-embedding-001",
			GenerateModel: "gemini-2.5-flash",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "text-embedding-3-small",
		},
		Worker: WorkerConfig{
			PollInterval: 500 * time.Millisecond,
		},
	}
}

// Load reads configuration in order of increasing precedence: defaults, the
// TOML file at $XDG_CONFIG_HOME/jobmatch/config.toml, a .env file in the
// working directory, and JOBMATCH_* environment variables.
//
// Secrets (API keys, the bearer token) are never read from the TOML file.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), ".env")
}

func loadWith(b ConfigBackend, dotenvPath string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	dotenv, err := readDotenv(dotenvPath)
	if err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg, func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	})

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readDotenv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	env, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return env, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q: want debug, info, warn or error", c.Log.Level)
	}
	switch c.Embedding.Provider {
	case "ollama", "gemini", "openai":
	default:
		return fmt.Errorf("invalid embedding.provider %q: want ollama, gemini or openai", c.Embedding.Provider)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	return nil
}

// RequireServerSecrets reports the secrets `start` cannot run without.
func (c Config) RequireServerSecrets() error {
	if c.API.Token == "" {
		return fmt.Errorf("missing required config: API token. " +
			"Set it via environment variable JOBMATCH_API_TOKEN or in .env")
	}
	switch c.Embedding.Provider {
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("missing required config: Gemini API key. Set JOBMATCH_GEMINI_API_KEY")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("missing required config: OpenAI API key. Set JOBMATCH_OPENAI_API_KEY")
		}
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "jobmatch-data"
		}
	}
	return filepath.Join(dir, "jobmatch")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "jobmatch", "config.toml")
}
