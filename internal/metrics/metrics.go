package metrics

import (
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeFailureFallback Outcome = "failure_fallback"
	OutcomeFailureFatal    Outcome = "failure_fatal"
)

const promptSummaryLength = 100

var (
	ErrNegativeDuration = errors.New("call record has a negative duration")
	ErrMissingReason    = errors.New("failed call record has no fallback reason")
	ErrUnexpectedReason = errors.New("successful call record carries a fallback reason")
	ErrUnknownOutcome   = errors.New("call record has an unknown outcome")
)

// CallRecord is one attempted (or skipped) model call. It is built once the
// call completes and is not modified afterwards.
type CallRecord struct {
	ID             string    `json:"id"`
	Session        string    `json:"session"`
	Phase          string    `json:"phase,omitempty"`
	PromptSummary  string    `json:"prompt_summary"`
	Outcome        Outcome   `json:"outcome"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	Attempted      bool      `json:"attempted"`
	Model          string    `json:"model,omitempty"`
	InputTokens    int       `json:"input_tokens,omitempty"`
	OutputTokens   int       `json:"output_tokens,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

func (r CallRecord) Validate() error {
	if r.DurationMs < 0 {
		return ErrNegativeDuration
	}
	switch r.Outcome {
	case OutcomeSuccess:
		if r.FallbackReason != "" {
			return ErrUnexpectedReason
		}
	case OutcomeFailureFallback, OutcomeFailureFatal:
		if strings.TrimSpace(r.FallbackReason) == "" {
			return ErrMissingReason
		}
	default:
		return ErrUnknownOutcome
	}
	return nil
}

// SummarizePrompt keeps the first 100 runes of a prompt so records never hold
// the full payload.
func SummarizePrompt(prompt string) string {
	s := strings.Join(strings.Fields(prompt), " ")
	if utf8.RuneCountInString(s) <= promptSummaryLength {
		return s
	}
	r := []rune(s)
	return string(r[:promptSummaryLength]) + "..."
}

type SessionSummary struct {
	SessionID          string    `json:"session_id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	EndedAt            time.Time `json:"ended_at"`
	TotalCalls         int       `json:"total_calls"`
	SuccessCount       int       `json:"success_count"`
	FallbackCount      int       `json:"fallback_count"`
	FatalCount         int       `json:"fatal_count"`
	SkippedCount       int       `json:"skipped_count"`
	SuccessRatePercent int       `json:"success_rate_percent"`
	TotalDurationMs    int64     `json:"total_duration_ms"`
	InputTokens        int       `json:"input_tokens"`
	OutputTokens       int       `json:"output_tokens"`
}

// Summarize computes the aggregate view of an ordered call log.
func Summarize(calls []CallRecord) SessionSummary {
	var s SessionSummary
	for _, c := range calls {
		s.TotalCalls++
		switch c.Outcome {
		case OutcomeSuccess:
			s.SuccessCount++
		case OutcomeFailureFallback:
			s.FallbackCount++
		case OutcomeFailureFatal:
			s.FatalCount++
		}
		if !c.Attempted {
			s.SkippedCount++
		}
		s.TotalDurationMs += c.DurationMs
		s.InputTokens += c.InputTokens
		s.OutputTokens += c.OutputTokens
	}
	s.SuccessRatePercent = SuccessRate(s.SuccessCount, s.TotalCalls)
	return s
}

// SuccessRate is round(100*success/total), with zero calls reported as 0%.
func SuccessRate(success, total int) int {
	if total <= 0 {
		return 0
	}
	rate := int(math.Round(100 * float64(success) / float64(total)))
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}

// GlobalStats accumulates every ended session of a tracker (or a store).
type GlobalStats struct {
	Sessions        int   `json:"sessions"`
	TotalCalls      int   `json:"total_calls"`
	SuccessCount    int   `json:"success_count"`
	FallbackCount   int   `json:"fallback_count"`
	FatalCount      int   `json:"fatal_count"`
	TotalDurationMs int64 `json:"total_duration_ms"`
	InputTokens     int   `json:"input_tokens"`
	OutputTokens    int   `json:"output_tokens"`
}

func (g *GlobalStats) Add(s SessionSummary) {
	g.Sessions++
	g.TotalCalls += s.TotalCalls
	g.SuccessCount += s.SuccessCount
	g.FallbackCount += s.FallbackCount
	g.FatalCount += s.FatalCount
	g.TotalDurationMs += s.TotalDurationMs
	g.InputTokens += s.InputTokens
	g.OutputTokens += s.OutputTokens
}

func (g *GlobalStats) Merge(o GlobalStats) {
	g.Sessions += o.Sessions
	g.TotalCalls += o.TotalCalls
	g.SuccessCount += o.SuccessCount
	g.FallbackCount += o.FallbackCount
	g.FatalCount += o.FatalCount
	g.TotalDurationMs += o.TotalDurationMs
	g.InputTokens += o.InputTokens
	g.OutputTokens += o.OutputTokens
}

func (g GlobalStats) SuccessRatePercent() int {
	return SuccessRate(g.SuccessCount, g.TotalCalls)
}
