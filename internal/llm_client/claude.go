package llm_client

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type claudeProvider struct {
	client    anthropic.Client
	ready     bool
	model     string
	maxTokens int64
}

const (
	claudeDefault   = "claude-sonnet-4-20250514"
	claudeMaxTokens = 2048
)

func (p *claudeProvider) Init(cfg Config) error {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY: %w", ErrMissingAPIKey)
	}
	p.client = anthropic.NewClient(option.WithAPIKey(apiKey))
	p.ready = true
	if strings.TrimSpace(cfg.Model) != "" {
		p.model = cfg.Model
	} else {
		p.model = claudeDefault
	}
	p.maxTokens = claudeMaxTokens
	if cfg.MaxTokens > 0 {
		p.maxTokens = int64(cfg.MaxTokens)
	}
	return nil
}

func (p *claudeProvider) Name() string { return BackendClaude }

func (p *claudeProvider) DefaultModel() string { return claudeDefault }

func (p *claudeProvider) AllowedModelOrDefault(model string) string {
	m := strings.TrimSpace(model)
	if m == "" {
		return p.model
	}
	if !strings.HasPrefix(strings.ToLower(m), "claude-") {
		return claudeDefault
	}
	return m
}

func (p *claudeProvider) Generate(ctx context.Context, prompt, model string) (*Completion, error) {
	if !p.ready {
		return nil, ErrNotInitialized
	}
	m := p.AllowedModelOrDefault(model)
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(m),
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude generate: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("claude: %w", ErrEmptyResponse)
	}
	return &Completion{
		Text:         out.String(),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// GenerateJSON has no response-format switch on this backend, so the prompt
// carries the instruction and the reply is unfenced.
func (p *claudeProvider) GenerateJSON(ctx context.Context, prompt, model string, schema any) (*Completion, error) {
	instruction := "\n\nReturn ONLY strict JSON. No extra text."
	if schema != nil {
		instruction = fmt.Sprintf("\n\nReturn ONLY strict JSON matching this schema: %v. No extra text.", schema)
	}
	c, err := p.Generate(ctx, prompt+instruction, model)
	if err != nil {
		return nil, err
	}
	c.Text = cleanJSON(c.Text)
	return c, nil
}
