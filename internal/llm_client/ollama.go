package llm_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ollama/ollama/api"
)

type ollamaProvider struct {
	client *api.Client
	model  string
}

const ollamaDefault = "phi4:latest"

func (p *ollamaProvider) Init(cfg Config) error {
	host := cfg.OllamaHost
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return fmt.Errorf("ollama client init: %w", err)
		}
		p.client = c
	} else {
		u, err := url.Parse(host)
		if err != nil {
			return fmt.Errorf("ollama: bad host %q: %w", host, err)
		}
		p.client = api.NewClient(u, nil)
	}
	if strings.TrimSpace(cfg.Model) != "" {
		p.model = cfg.Model
	} else {
		p.model = ollamaDefault
	}
	return nil
}

func (p *ollamaProvider) Name() string { return BackendOllama }

func (p *ollamaProvider) DefaultModel() string { return ollamaDefault }

func (p *ollamaProvider) AllowedModelOrDefault(model string) string {
	m := strings.TrimSpace(model)
	if m == "" {
		return p.model
	}
	return m
}

func (p *ollamaProvider) Generate(ctx context.Context, prompt, model string) (*Completion, error) {
	return p.generate(ctx, prompt, model, nil)
}

func (p *ollamaProvider) GenerateJSON(ctx context.Context, prompt, model string, schema any) (*Completion, error) {
	// Force JSON output. If schema supplied, pass it; else "json".
	var fmtRaw json.RawMessage
	if schema != nil {
		b, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("ollama marshal schema: %w", err)
		}
		fmtRaw = b
	} else {
		fmtRaw = json.RawMessage(`"json"`)
	}
	c, err := p.generate(ctx, prompt+"\n\nReturn ONLY strict JSON. No extra text.", model, fmtRaw)
	if err != nil {
		return nil, err
	}
	c.Text = cleanJSON(c.Text)
	return c, nil
}

func (p *ollamaProvider) generate(ctx context.Context, prompt, model string, format json.RawMessage) (*Completion, error) {
	if p.client == nil {
		return nil, ErrNotInitialized
	}
	stream := false
	req := &api.GenerateRequest{
		Model:  p.AllowedModelOrDefault(model),
		Prompt: prompt,
		Format: format,
		Stream: &stream,
	}
	out := &Completion{Model: req.Model}
	var text strings.Builder
	if err := p.client.Generate(ctx, req, func(gr api.GenerateResponse) error {
		text.WriteString(gr.Response)
		if gr.Done {
			out.InputTokens = gr.PromptEvalCount
			out.OutputTokens = gr.EvalCount
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	out.Text = text.String()
	return out, nil
}
