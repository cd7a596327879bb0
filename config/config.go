package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddr    string
	DataDir       string
	StaticDir     string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
	Temperature   float64
	TopP          float64
	Logging       LoggingConfig
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

var (
	cfg     *Config
	loadErr error
	once    sync.Once
)

func Load() (*Config, error) {
	once.Do(func() {
		if err := loadEnvFiles(); err != nil {
			loadErr = fmt.Errorf("load env files: %w", err)
			return
		}

		apiBase := strings.TrimSpace(os.Getenv("OPENAI_API_BASE"))
		if apiBase == "" {
			apiBase = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
		}
		if apiBase == "" {
			apiBase = "https://api.openai.com/v1"
		}

		cfg = &Config{
			ServerAddr:    getEnv("SERVER_ADDR", ":8080"),
			DataDir:       getEnv("DATA_DIR", "data"),
			StaticDir:     getEnv("STATIC_DIR", "frontend/build"),
			OpenAIBaseURL: strings.TrimRight(apiBase, "/"),
			OpenAIAPIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
			Temperature:   parseFloat(getEnv("OPENAI_TEMPERATURE", "0.6"), 0.6),
			TopP:          parseFloat(getEnv("OPENAI_TOP_P", "0.7"), 0.7),
			Logging: LoggingConfig{
				Level:        getEnv("LOG_LEVEL", "info"),
				Encoding:     getEnv("LOG_ENCODING", "console"),
				Development:  parseBool(os.Getenv("LOG_DEVELOPMENT")),
				EnableCaller: parseBool(os.Getenv("LOG_CALLER")),
				ServiceName:  getEnv("LOG_SERVICE_NAME", "thinkchat"),
			},
		}

		loadErr = cfg.validate()
	})

	return cfg, loadErr
}

func loadEnvFiles() error {
	if err := godotenv.Load("config/.env"); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			// ignore missing config/.env so that environment variables can be supplied externally
			return nil
		}

		return err
	}

	return nil
}

func (c *Config) validate() error {
	missing := make([]string, 0, 2)

	if strings.TrimSpace(c.DataDir) == "" {
		missing = append(missing, "DATA_DIR")
	}

	if strings.TrimSpace(c.ServerAddr) == "" {
		missing = append(missing, "SERVER_ADDR")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}

	return strings.TrimSpace(fallback)
}

func parseFloat(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fallback
	}

	return value
}

func parseBool(raw string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false
	}

	return value
}
