package llm_client

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotInitialized = errors.New("llm client not initialized")
	ErrMissingAPIKey  = errors.New("api key is not set")
	ErrEmptyResponse  = errors.New("empty response")
)

const (
	BackendClaude = "claude"
	BackendGemini = "gemini"
	BackendOllama = "ollama"
	BackendMock   = "mock"
)

type Config struct {
	Backend    string
	Model      string
	OllamaHost string
	MaxTokens  int
}

// Completion is the text returned by a backend plus whatever usage figures it
// reports. Token counts are zero when the backend does not report them.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

type Provider interface {
	Init(cfg Config) error
	Name() string
	DefaultModel() string
	AllowedModelOrDefault(model string) string
	Generate(ctx context.Context, prompt, model string) (*Completion, error)
	GenerateJSON(ctx context.Context, prompt, model string, schema any) (*Completion, error)
}

// New builds and initializes the provider selected by cfg.Backend.
func New(cfg Config) (Provider, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendClaude
	}
	var p Provider
	switch backend {
	case BackendClaude:
		p = &claudeProvider{}
	case BackendGemini:
		p = &geminiProvider{}
	case BackendOllama:
		p = &ollamaProvider{}
	case BackendMock:
		p = &MockProvider{}
	default:
		return nil, fmt.Errorf("unsupported LLM backend: %s", backend)
	}
	if err := p.Init(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

func Backends() []string {
	return []string{BackendClaude, BackendGemini, BackendOllama, BackendMock}
}

// cleanJSON strips markdown fences some models wrap around JSON output.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func CleanJSON(s string) string { return cleanJSON(s) }
