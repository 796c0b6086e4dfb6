// Package orchestrator runs a session as a linear pipeline of named phases.
// Each phase builds its prompt from the results of the phases before it,
// makes one tracked call and stores its result before the next phase starts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"metateam/internal/caller"
	"metateam/internal/logger"
	"metateam/internal/metrics"
	"metateam/internal/tracker"
)

var (
	ErrInvalidPhase   = errors.New("invalid phase")
	ErrDuplicatePhase = errors.New("duplicate phase name")
	ErrUnknownPhase   = errors.New("unknown phase")
	ErrUnknownPolicy  = errors.New("unknown fallback policy")
	ErrNotRunning     = errors.New("no session is currently running")
	ErrWiring         = errors.New("caller and orchestrator use different trackers")
)

type (
	// PromptBuilder receives the run context; Cancel ends it.
	PromptBuilder   func(context.Context, Results) (string, error)
	FallbackBuilder func(Results) caller.Fallback
)

type Phase struct {
	Name     string
	Prompt   PromptBuilder
	Fallback FallbackBuilder
	// JSON asks the backend for strict JSON output.
	JSON   bool
	Schema any
}

type Session struct {
	Name        string
	Description string
	Phases      []Phase
}

// Policy decides what happens after a phase degrades to its fallback.
type Policy string

const (
	ContinueOnFallback Policy = "continue"
	HaltOnFallback     Policy = "halt"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ContinueOnFallback:
		return ContinueOnFallback, nil
	case HaltOnFallback:
		return HaltOnFallback, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

type Report struct {
	SessionID string                 `json:"session_id"`
	Name      string                 `json:"name"`
	Results   Results                `json:"results"`
	Summary   metrics.SessionSummary `json:"summary"`
	Calls     []metrics.CallRecord   `json:"calls"`
	// HaltedAt names the degraded phase that stopped a HaltOnFallback run.
	HaltedAt string `json:"halted_at,omitempty"`
}

type Option func(*Orchestrator)

func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

type Orchestrator struct {
	tracker *tracker.Tracker
	caller  *caller.Caller
	policy  Policy

	mu        sync.Mutex
	runningID string
	cancel    context.CancelFunc
}

// New wires an orchestrator to the tracker that owns its sessions and the
// caller that records into that same tracker.
func New(tr *tracker.Tracker, c *caller.Caller, opts ...Option) *Orchestrator {
	o := &Orchestrator{tracker: tr, caller: c, policy: ContinueOnFallback}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Tracker() *tracker.Tracker { return o.tracker }

// RunPhases runs phases in an unnamed session.
func (o *Orchestrator) RunPhases(ctx context.Context, phases []Phase) (*Report, error) {
	return o.Run(ctx, Session{Name: "phases", Phases: phases})
}

// Run executes the session's phases in order. The tracker session is always
// ended once it has started, so a non-nil error may come with a partial
// report describing what ran.
func (o *Orchestrator) Run(ctx context.Context, s Session) (*Report, error) {
	if o.tracker == nil || o.caller == nil || o.caller.Tracker() != o.tracker {
		return nil, ErrWiring
	}
	if err := ValidatePhases(s.Phases); err != nil {
		return nil, err
	}
	h, err := o.tracker.StartSession(s.Name, s.Description)
	if err != nil {
		return nil, err
	}
	logger.Log.Printf("[Orchestrator] Session '%s' (ID: %s) started with %d phases", h.Name, h.ID, len(s.Phases))

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.runningID = h.ID
	o.cancel = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		if o.runningID == h.ID {
			o.runningID = ""
			o.cancel = nil
		}
		o.mu.Unlock()
	}()

	report := &Report{SessionID: h.ID, Name: h.Name}
	runErr := o.runLoop(runCtx, s.Phases, report)

	summary, endErr := o.tracker.EndSession()
	if endErr == nil {
		report.Summary = summary
		if last, ok := o.tracker.LastSession(); ok {
			report.Calls = last.Calls
		}
	}

	switch {
	case runErr != nil:
		logger.Log.Printf("[Orchestrator] Session '%s' (ID: %s) stopped: %v", h.Name, h.ID, runErr)
		return report, errors.Join(runErr, endErr)
	case endErr != nil:
		return report, endErr
	}
	logger.Log.Printf("[Orchestrator] Session '%s' (ID: %s) finished: %d calls, %d%% success",
		h.Name, h.ID, summary.TotalCalls, summary.SuccessRatePercent)
	return report, nil
}

// Cancel stops the session currently running on this orchestrator. The run
// ends before its next phase and returns context.Canceled.
func (o *Orchestrator) Cancel() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runningID == "" || o.cancel == nil {
		return "", ErrNotRunning
	}
	o.cancel()
	return o.runningID, nil
}

func (o *Orchestrator) runLoop(ctx context.Context, phases []Phase, report *Report) error {
	for _, ph := range phases {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("before phase %q: %w", ph.Name, err)
		}

		res, err := o.runPhase(ctx, ph, report.Results)
		if err != nil {
			return fmt.Errorf("phase %q: %w", ph.Name, err)
		}
		if err := report.Results.add(res); err != nil {
			return err
		}
		if err := o.tracker.RecordPhase(ph.Name, res); err != nil {
			return err
		}

		if res.Degraded && o.policy == HaltOnFallback {
			logger.Log.Printf("[Orchestrator] Halting after degraded phase '%s': %s", ph.Name, res.Reason)
			report.HaltedAt = ph.Name
			return nil
		}
	}
	return nil
}

func (o *Orchestrator) runPhase(ctx context.Context, ph Phase, results Results) (PhaseResult, error) {
	c := o.caller.WithPhase(ph.Name)
	fallback := ph.Fallback(results)
	if fallback == nil {
		return PhaseResult{}, fmt.Errorf("%w: fallback builder returned nil", ErrInvalidPhase)
	}

	var (
		out string
		rec metrics.CallRecord
		err error
	)
	prompt, perr := ph.Prompt(ctx, results)
	switch {
	case perr != nil:
		out, rec, err = c.Skip(ph.Name, "prompt: "+perr.Error(), fallback)
	case strings.TrimSpace(prompt) == "":
		out, rec, err = c.Skip(ph.Name, "prompt: empty", fallback)
	case ph.JSON:
		out, rec, err = c.InvokeJSON(ctx, prompt, ph.Schema, fallback)
	default:
		out, rec, err = c.Invoke(ctx, prompt, fallback)
	}
	if err != nil {
		return PhaseResult{}, err
	}

	return PhaseResult{
		Name:     ph.Name,
		Output:   out,
		Degraded: rec.Outcome != metrics.OutcomeSuccess,
		Reason:   rec.FallbackReason,
		Record:   rec,
	}, nil
}

// ValidatePhases checks names and builders before any session is started.
func ValidatePhases(phases []Phase) error {
	seen := make(map[string]bool, len(phases))
	for i, ph := range phases {
		name := strings.TrimSpace(ph.Name)
		if name == "" {
			return fmt.Errorf("%w: phase %d has no name", ErrInvalidPhase, i+1)
		}
		if seen[name] {
			return fmt.Errorf("%w: %q", ErrDuplicatePhase, name)
		}
		seen[name] = true
		if ph.Prompt == nil {
			return fmt.Errorf("%w: %q has no prompt builder", ErrInvalidPhase, name)
		}
		if ph.Fallback == nil {
			return fmt.Errorf("%w: %q has no fallback builder", ErrInvalidPhase, name)
		}
	}
	return nil
}
