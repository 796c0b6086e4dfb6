// Package caller wraps a single model call with a time bound, a
// caller-supplied fallback and usage accounting.
//
// Every invocation makes at most one remote attempt. There are no retries: a
// failed or timed-out call immediately degrades to the fallback, and the
// outcome is appended to the tracker's active session.
package caller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"metateam/internal/llm_client"
	"metateam/internal/logger"
	"metateam/internal/metrics"
	"metateam/internal/tracker"
)

const (
	DefaultTimeout = 30 * time.Second

	ReasonTimeout             = "timeout"
	ReasonProviderUnavailable = "provider unavailable"
)

var (
	ErrEmptyPrompt    = errors.New("prompt must not be empty")
	ErrNilFallback    = errors.New("fallback must not be nil")
	ErrFallbackFailed = errors.New("fallback failed")
)

// Fallback produces a degraded-but-valid result when the remote call fails.
type Fallback func() (string, error)

// Static returns a fallback that always yields text.
func Static(text string) Fallback {
	return func() (string, error) { return text, nil }
}

type Option func(*Caller)

func WithTimeout(d time.Duration) Option {
	return func(c *Caller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithModel(model string) Option {
	return func(c *Caller) { c.model = model }
}

func WithClock(now func() time.Time) Option {
	return func(c *Caller) { c.now = now }
}

type Caller struct {
	provider llm_client.Provider
	tracker  *tracker.Tracker
	timeout  time.Duration
	model    string
	phase    string
	now      func() time.Time
}

// New builds a Caller. A nil provider is allowed: every call then degrades
// without a remote attempt.
func New(provider llm_client.Provider, tr *tracker.Tracker, opts ...Option) *Caller {
	c := &Caller{
		provider: provider,
		tracker:  tr,
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithPhase returns a copy that stamps records with the phase name.
func (c *Caller) WithPhase(name string) *Caller {
	cp := *c
	cp.phase = name
	return &cp
}

func (c *Caller) Tracker() *tracker.Tracker { return c.tracker }

// Invoke asks the model for a text answer. On any remote error the fallback's
// result is returned instead. The returned error is non-nil only for invalid
// arguments, a missing session, or a failing fallback.
func (c *Caller) Invoke(ctx context.Context, prompt string, fallback Fallback) (string, metrics.CallRecord, error) {
	return c.invoke(ctx, prompt, fallback, func(ctx context.Context, model string) (*llm_client.Completion, error) {
		return c.provider.Generate(ctx, prompt, model)
	})
}

// InvokeJSON is Invoke with the backend asked for strict JSON output.
func (c *Caller) InvokeJSON(ctx context.Context, prompt string, schema any, fallback Fallback) (string, metrics.CallRecord, error) {
	return c.invoke(ctx, prompt, fallback, func(ctx context.Context, model string) (*llm_client.Completion, error) {
		return c.provider.GenerateJSON(ctx, prompt, model, schema)
	})
}

type generateFunc func(ctx context.Context, model string) (*llm_client.Completion, error)

func (c *Caller) invoke(ctx context.Context, prompt string, fallback Fallback, generate generateFunc) (string, metrics.CallRecord, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", metrics.CallRecord{}, ErrEmptyPrompt
	}
	if fallback == nil {
		return "", metrics.CallRecord{}, ErrNilFallback
	}
	if c.tracker == nil || !c.tracker.Active() {
		return "", metrics.CallRecord{}, fmt.Errorf("invoke: %w", tracker.ErrNoActiveSession)
	}

	if c.provider == nil {
		return c.Skip(prompt, ReasonProviderUnavailable, fallback)
	}

	rec := metrics.CallRecord{
		ID:            uuid.New().String()[:8],
		Phase:         c.phase,
		PromptSummary: metrics.SummarizePrompt(prompt),
		Attempted:     true,
		Model:         c.provider.AllowedModelOrDefault(c.model),
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	start := c.now()
	completion, err := generate(callCtx, c.model)
	// Read before cancel so a finished call is never mistaken for a timeout.
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()
	rec.Timestamp = c.now()
	rec.DurationMs = max(rec.Timestamp.Sub(start).Milliseconds(), 0)

	if err == nil {
		rec.Outcome = metrics.OutcomeSuccess
		if completion.Model != "" {
			rec.Model = completion.Model
		}
		rec.InputTokens = completion.InputTokens
		rec.OutputTokens = completion.OutputTokens
		stored, err := c.tracker.Append(rec)
		if err != nil {
			return "", metrics.CallRecord{}, err
		}
		logger.Log.Printf("[Caller] %s ok in %d ms (phase=%q, model=%s)", rec.ID, rec.DurationMs, rec.Phase, rec.Model)
		return completion.Text, stored, nil
	}

	reason := failureReason(err, timedOut)
	logger.Log.Printf("[Caller] %s failed after %d ms (phase=%q): %s; using fallback", rec.ID, rec.DurationMs, rec.Phase, reason)
	return c.runFallback(rec, reason, fallback)
}

// Skip degrades a call without any remote attempt, for example when no
// provider is configured or the prompt could not be built. The record is
// marked as not attempted.
func (c *Caller) Skip(prompt, reason string, fallback Fallback) (string, metrics.CallRecord, error) {
	if fallback == nil {
		return "", metrics.CallRecord{}, ErrNilFallback
	}
	if c.tracker == nil || !c.tracker.Active() {
		return "", metrics.CallRecord{}, fmt.Errorf("skip: %w", tracker.ErrNoActiveSession)
	}
	out, ferr := fallback()
	if ferr != nil {
		rec := metrics.CallRecord{
			ID:             uuid.New().String()[:8],
			Phase:          c.phase,
			PromptSummary:  metrics.SummarizePrompt(prompt),
			Outcome:        metrics.OutcomeFailureFatal,
			FallbackReason: fmt.Sprintf("%s; fallback: %v", reason, ferr),
			Timestamp:      c.now(),
		}
		stored, err := c.tracker.Append(rec)
		if err != nil {
			return "", metrics.CallRecord{}, err
		}
		return "", stored, fmt.Errorf("%w: %w", ErrFallbackFailed, ferr)
	}
	rec, err := c.tracker.RecordSkipped(c.phase, reason, prompt)
	if err != nil {
		return "", metrics.CallRecord{}, err
	}
	logger.Log.Printf("[Caller] %s skipped remote call (phase=%q): %s", rec.ID, c.phase, reason)
	return out, rec, nil
}

func (c *Caller) runFallback(rec metrics.CallRecord, reason string, fallback Fallback) (string, metrics.CallRecord, error) {
	out, ferr := fallback()
	if ferr != nil {
		rec.Outcome = metrics.OutcomeFailureFatal
		rec.FallbackReason = fmt.Sprintf("%s; fallback: %v", reason, ferr)
		stored, err := c.tracker.Append(rec)
		if err != nil {
			return "", metrics.CallRecord{}, err
		}
		logger.Log.Printf("[Caller] %s fallback failed: %v", rec.ID, ferr)
		return "", stored, fmt.Errorf("%w: %w", ErrFallbackFailed, ferr)
	}

	rec.Outcome = metrics.OutcomeFailureFallback
	rec.FallbackReason = reason
	stored, err := c.tracker.Append(rec)
	if err != nil {
		return "", metrics.CallRecord{}, err
	}
	return out, stored, nil
}

// failureReason reduces an error chain to the message worth recording: the
// innermost cause, or "timeout" when the call deadline expired.
func failureReason(err error, timedOut bool) string {
	if timedOut || errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}
	msg := strings.TrimSpace(root.Error())
	if msg == "" {
		msg = strings.TrimSpace(err.Error())
	}
	if msg == "" {
		msg = "unknown error"
	}
	return msg
}
