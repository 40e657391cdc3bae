// Package config loads clinicchat settings from the JSON config file,
// CLINICCHAT_* environment variables, and the secrets file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
	Session  SessionConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port           int
	MaxConnections int
	// APIToken guards the management API. Empty disables it.
	APIToken string
}

type StorageConfig struct {
	DataDir string
	// UploadDir defaults to DataDir/uploads.
	UploadDir string
}

type LLMConfig struct {
	Backend           string
	Model             string
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
}

type PipelineConfig struct {
	Chunks        int
	ChunkDelay    time.Duration
	SampleRows    int
	HistoryWindow int
}

type SessionConfig struct {
	TTL time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           5000,
			MaxConnections: 64,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			Backend:           "openrouter",
			RequestsPerMinute: 15,
		},
		Pipeline: PipelineConfig{
			Chunks:        10,
			ChunkDelay:    500 * time.Millisecond,
			SampleRows:    500,
			HistoryWindow: 5,
		},
		Session: SessionConfig{
			TTL: 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the config file, environment variables, and
// the secrets file, in increasing order of precedence except that secrets
// only fill values still empty after the environment is applied.
//
// The config file lives at $XDG_CONFIG_HOME/clinicchat/config.json and the
// secrets file at $XDG_DATA_HOME/clinicchat/secrets.json.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()})
}

// secrets abstracts the secret store for testing.
type secrets interface {
	Get(service, account string) (string, error)
}

const secretsService = "clinicchat"

func loadWith(b ConfigBackend, sec secrets) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := sec.Get(secretsService, s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = filepath.Join(cfg.Storage.DataDir, "uploads")
	}
	return cfg, nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	switch strings.ToLower(c.LLM.Backend) {
	case "openrouter", "gemini":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("missing required config: API key for the %s backend. "+
				"Set it via environment variable CLINICCHAT_LLM_API_KEY or in %s",
				c.LLM.Backend, secretsFilePath())
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown llm.backend %q (want openrouter, gemini or ollama)", c.LLM.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "clinicchat-data"
		}
	}
	return filepath.Join(dir, "clinicchat")
}
