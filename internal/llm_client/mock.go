package llm_client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	mockFailDirective  = regexp.MustCompile(`\[\[fail:([^\]]*)\]\]`)
	mockSleepDirective = regexp.MustCompile(`\[\[sleep:(\d+)\]\]`)
)

const mockModel = "mock-1"

// MockProvider answers without any network access. A prompt containing
// [[fail:msg]] fails with msg, and [[sleep:ms]] delays the reply while
// honoring context cancellation.
type MockProvider struct {
	model string
}

var _ Provider = (*MockProvider)(nil)

func (m *MockProvider) Init(cfg Config) error {
	m.model = strings.TrimSpace(cfg.Model)
	if m.model == "" {
		m.model = mockModel
	}
	return nil
}

func (m *MockProvider) Name() string { return BackendMock }

func (m *MockProvider) DefaultModel() string { return mockModel }

func (m *MockProvider) AllowedModelOrDefault(model string) string {
	if s := strings.TrimSpace(model); s != "" {
		return s
	}
	if m.model != "" {
		return m.model
	}
	return mockModel
}

func (m *MockProvider) Generate(ctx context.Context, prompt, model string) (*Completion, error) {
	if err := m.simulate(ctx, prompt); err != nil {
		return nil, err
	}
	text := fmt.Sprintf("[MOCK] Received your prompt: %q. This is a mock response.", truncate(prompt, 100))
	return m.completion(prompt, model, text), nil
}

func (m *MockProvider) GenerateJSON(ctx context.Context, prompt, model string, schema any) (*Completion, error) {
	if err := m.simulate(ctx, prompt); err != nil {
		return nil, err
	}
	b, err := json.Marshal(map[string]any{
		"mock":   true,
		"prompt": truncate(prompt, 100),
	})
	if err != nil {
		return nil, err
	}
	return m.completion(prompt, model, string(b)), nil
}

func (m *MockProvider) simulate(ctx context.Context, prompt string) error {
	if sub := mockSleepDirective.FindStringSubmatch(prompt); sub != nil {
		ms, _ := strconv.Atoi(sub[1])
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if sub := mockFailDirective.FindStringSubmatch(prompt); sub != nil {
		msg := strings.TrimSpace(sub[1])
		if msg == "" {
			msg = "mock failure"
		}
		return errors.New(msg)
	}
	return ctx.Err()
}

func (m *MockProvider) completion(prompt, model, text string) *Completion {
	return &Completion{
		Text:         text,
		Model:        m.AllowedModelOrDefault(model),
		InputTokens:  len(prompt) / 4,
		OutputTokens: len(text) / 4,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
