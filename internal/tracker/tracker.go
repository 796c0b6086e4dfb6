// Package tracker owns the lifecycle of a usage-tracking session: which
// session is active, the ordered log of model calls made inside it, the phase
// outputs it produced, and the statistics accumulated across ended sessions.
//
// A Tracker is an ordinary value. Callers create one per orchestrator and pass
// it around explicitly; there is no process-wide instance.
package tracker

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"metateam/internal/metrics"
)

var (
	ErrSessionActive   = errors.New("a session is already active")
	ErrNoActiveSession = errors.New("no active session")
	ErrInvalidName     = errors.New("session name must not be empty")
	ErrDuplicatePhase  = errors.New("phase result already recorded")
)

const (
	EventSessionStarted = "session_started"
	EventCallRecorded   = "call_recorded"
	EventSessionEnded   = "session_ended"
)

// Event is emitted to the optional listener on every state change.
type Event struct {
	Type    string
	Session string
	Call    *metrics.CallRecord
	Summary *metrics.SessionSummary
}

type Handle struct {
	ID   string
	Name string
}

// Session is the read-only view of a session once it has ended.
type Session struct {
	ID          string
	Name        string
	Description string
	StartedAt   time.Time
	EndedAt     time.Time
	Calls       []metrics.CallRecord
	Phases      []string
	Summary     metrics.SessionSummary
}

type session struct {
	id          string
	name        string
	description string
	startedAt   time.Time
	calls       []metrics.CallRecord
	phaseOrder  []string
	phases      map[string]any
}

type Option func(*Tracker)

func WithListener(fn func(Event)) Option {
	return func(t *Tracker) { t.listener = fn }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

type Tracker struct {
	mu       sync.Mutex
	active   *session
	last     *Session
	global   metrics.GlobalStats
	listener func(Event)
	now      func() time.Time
}

func New(opts ...Option) *Tracker {
	t := &Tracker{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) StartSession(name, description string) (Handle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Handle{}, ErrInvalidName
	}

	t.mu.Lock()
	if t.active != nil {
		current := t.active.name
		t.mu.Unlock()
		return Handle{}, fmt.Errorf("start %q: %w (current: %q)", name, ErrSessionActive, current)
	}
	s := &session{
		id:          uuid.New().String()[:8],
		name:        name,
		description: description,
		startedAt:   t.now(),
		phases:      make(map[string]any),
	}
	t.active = s
	t.mu.Unlock()

	t.emit(Event{Type: EventSessionStarted, Session: s.id})
	return Handle{ID: s.id, Name: s.name}, nil
}

func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active != nil
}

// RecordCall appends a completed call to the active session.
func (t *Tracker) RecordCall(rec metrics.CallRecord) error {
	_, err := t.Append(rec)
	return err
}

// Append is RecordCall returning the record as stored, with its session id,
// call id and timestamp filled in.
func (t *Tracker) Append(rec metrics.CallRecord) (metrics.CallRecord, error) {
	if err := rec.Validate(); err != nil {
		return metrics.CallRecord{}, fmt.Errorf("record call: %w", err)
	}

	t.mu.Lock()
	if t.active == nil {
		t.mu.Unlock()
		return metrics.CallRecord{}, fmt.Errorf("record call: %w", ErrNoActiveSession)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()[:8]
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now()
	}
	rec.Session = t.active.id
	t.active.calls = append(t.active.calls, rec)
	t.mu.Unlock()

	t.emit(Event{Type: EventCallRecorded, Session: rec.Session, Call: &rec})
	return rec, nil
}

// RecordFallbackCall records a call that degraded before any remote attempt
// was made, e.g. because no provider is configured.
func (t *Tracker) RecordFallbackCall(reason, context string) (metrics.CallRecord, error) {
	return t.RecordSkipped("", reason, context)
}

// RecordSkipped is RecordFallbackCall for a call made on behalf of a phase.
func (t *Tracker) RecordSkipped(phase, reason, context string) (metrics.CallRecord, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "fallback"
	}
	rec := metrics.CallRecord{
		ID:             uuid.New().String()[:8],
		Phase:          phase,
		PromptSummary:  metrics.SummarizePrompt(context),
		Outcome:        metrics.OutcomeFailureFallback,
		FallbackReason: reason,
		Attempted:      false,
		Timestamp:      t.now(),
	}
	return t.Append(rec)
}

// RecordPhase stores a phase output under a unique key, in execution order.
func (t *Tracker) RecordPhase(name string, result any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return fmt.Errorf("record phase %q: %w", name, ErrNoActiveSession)
	}
	if _, exists := t.active.phases[name]; exists {
		return fmt.Errorf("record phase %q: %w", name, ErrDuplicatePhase)
	}
	t.active.phases[name] = result
	t.active.phaseOrder = append(t.active.phaseOrder, name)
	return nil
}

// PhaseResult returns a phase output of the active session.
func (t *Tracker) PhaseResult(name string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return nil, false
	}
	v, ok := t.active.phases[name]
	return v, ok
}

func (t *Tracker) Calls() ([]metrics.CallRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return nil, ErrNoActiveSession
	}
	out := make([]metrics.CallRecord, len(t.active.calls))
	copy(out, t.active.calls)
	return out, nil
}

// EndSession finalizes the active session, folds its summary into the global
// statistics and clears the active marker.
func (t *Tracker) EndSession() (metrics.SessionSummary, error) {
	t.mu.Lock()
	s := t.active
	if s == nil {
		t.mu.Unlock()
		return metrics.SessionSummary{}, fmt.Errorf("end session: %w", ErrNoActiveSession)
	}

	summary := metrics.Summarize(s.calls)
	summary.SessionID = s.id
	summary.Name = s.name
	summary.Description = s.description
	summary.StartedAt = s.startedAt
	summary.EndedAt = t.now()

	t.global.Add(summary)
	t.last = &Session{
		ID:          s.id,
		Name:        s.name,
		Description: s.description,
		StartedAt:   s.startedAt,
		EndedAt:     summary.EndedAt,
		Calls:       s.calls,
		Phases:      s.phaseOrder,
		Summary:     summary,
	}
	t.active = nil
	t.mu.Unlock()

	t.emit(Event{Type: EventSessionEnded, Session: s.id, Summary: &summary})
	return summary, nil
}

// LastSession returns a copy of the most recently ended session.
func (t *Tracker) LastSession() (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Session{}, false
	}
	out := *t.last
	out.Calls = append([]metrics.CallRecord(nil), t.last.Calls...)
	out.Phases = append([]string(nil), t.last.Phases...)
	return out, true
}

func (t *Tracker) GlobalStats() metrics.GlobalStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.global
}

func (t *Tracker) emit(e Event) {
	if t.listener != nil {
		t.listener(e)
	}
}
