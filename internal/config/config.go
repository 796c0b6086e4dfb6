// Package config provides environment-driven configuration for metateam.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"metateam/internal/llm_client"
	"metateam/internal/orchestrator"
	"metateam/internal/store"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the metateam configuration.
type Config struct {
	// Model backend
	Backend    string
	Model      string
	OllamaHost string
	MaxTokens  int

	// Execution
	CallTimeout time.Duration
	Concurrency int
	Policy      string

	// Persistence
	Store   string
	DataDir string

	// Logging
	LogFile string

	// Page context
	ContextChars int
}

// LoadDotEnv reads .env into the process environment when the file exists.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Backend:      getEnv("METATEAM_BACKEND", llm_client.BackendClaude),
		Model:        getEnv("METATEAM_MODEL", ""),
		OllamaHost:   getEnv("OLLAMA_HOST", ""),
		MaxTokens:    getEnvInt("METATEAM_MAX_TOKENS", 2048),
		CallTimeout:  time.Duration(getEnvInt("METATEAM_CALL_TIMEOUT_MS", 30000)) * time.Millisecond,
		Concurrency:  getEnvInt("METATEAM_CONCURRENCY", 4),
		Policy:       getEnv("METATEAM_POLICY", string(orchestrator.ContinueOnFallback)),
		Store:        getEnv("METATEAM_STORE", store.KindSQLite),
		DataDir:      getEnv("METATEAM_DATA_DIR", ".metateam"),
		LogFile:      getEnv("METATEAM_LOG_FILE", "metateam.log"),
		ContextChars: getEnvInt("METATEAM_CONTEXT_CHARS", 4000),
	}
	return cfg
}

func (c *Config) Validate() error {
	var errs []error
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call timeout must be positive, got %s", c.CallTimeout))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens))
	}
	if c.ContextChars < 0 {
		errs = append(errs, fmt.Errorf("context chars must not be negative, got %d", c.ContextChars))
	}
	if _, err := orchestrator.ParsePolicy(c.Policy); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Store)) {
	case "", store.KindSQLite, store.KindJSON, store.KindNone:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", store.ErrUnknownKind, c.Store))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) LLM() llm_client.Config {
	return llm_client.Config{
		Backend:    c.Backend,
		Model:      c.Model,
		OllamaHost: c.OllamaHost,
		MaxTokens:  c.MaxTokens,
	}
}

func (c *Config) StoreConfig() store.Config {
	return store.Config{Kind: c.Store, Dir: c.DataDir}
}

// LogPath places a relative log file inside the data directory.
func (c *Config) LogPath() string {
	if filepath.IsAbs(c.LogFile) {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, c.LogFile)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
