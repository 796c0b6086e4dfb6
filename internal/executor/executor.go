// Package executor runs several plans side by side. Every plan gets its own
// tracker, caller and orchestrator; phases inside a plan stay sequential.
package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"metateam/internal/caller"
	"metateam/internal/llm_client"
	"metateam/internal/logger"
	"metateam/internal/metrics"
	"metateam/internal/orchestrator"
	"metateam/internal/plan"
	"metateam/internal/tracker"
)

const defaultConcurrency = 4

type Options struct {
	Concurrency int
	// Policy applies to plans that do not set their own.
	Policy      orchestrator.Policy
	CallTimeout time.Duration
	Model       string
	Fetcher     plan.ContextFetcher
	Listener    func(tracker.Event)
}

// Outcome is the result of one plan. Report is nil when the plan never
// started a session, e.g. because it failed validation.
type Outcome struct {
	Plan   string
	Report *orchestrator.Report
	Err    error
}

// ExecutePlans runs plans with bounded parallelism and returns their outcomes
// in input order. A failing plan does not stop the others.
func ExecutePlans(ctx context.Context, plans []plan.Plan, provider llm_client.Provider, opts Options) []Outcome {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	if opts.Policy == "" {
		opts.Policy = orchestrator.ContinueOnFallback
	}

	outcomes := make([]Outcome, len(plans))
	var g errgroup.Group
	g.SetLimit(limit)

	for i, p := range plans {
		g.Go(func() error {
			outcomes[i] = runOne(ctx, p, provider, opts)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func runOne(ctx context.Context, p plan.Plan, provider llm_client.Provider, opts Options) (out Outcome) {
	out.Plan = p.Name
	// Panic safety: one broken plan must not take down the batch.
	defer func() {
		if rec := recover(); rec != nil {
			out.Err = fmt.Errorf("panic in plan %s: %v", p.Name, rec)
		}
	}()

	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	policy, err := p.FallbackPolicy(opts.Policy)
	if err != nil {
		out.Err = err
		return out
	}
	session, err := plan.Build(p, opts.Fetcher)
	if err != nil {
		out.Err = err
		return out
	}

	var trOpts []tracker.Option
	if opts.Listener != nil {
		trOpts = append(trOpts, tracker.WithListener(opts.Listener))
	}
	tr := tracker.New(trOpts...)
	c := caller.New(provider, tr, caller.WithTimeout(opts.CallTimeout), caller.WithModel(opts.Model))
	o := orchestrator.New(tr, c, orchestrator.WithPolicy(policy))

	logger.Log.Printf("[Executor] Running plan '%s' (%d phases, policy=%s)", p.Name, len(p.Phases), policy)
	out.Report, out.Err = o.Run(ctx, session)
	return out
}

// Totals folds every plan that produced a summary into one GlobalStats.
func Totals(outcomes []Outcome) metrics.GlobalStats {
	var g metrics.GlobalStats
	for _, o := range outcomes {
		if o.Report != nil && o.Report.SessionID != "" {
			g.Add(o.Report.Summary)
		}
	}
	return g
}

// Failed returns the outcomes that ended with an error.
func Failed(outcomes []Outcome) []Outcome {
	var out []Outcome
	for _, o := range outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}
