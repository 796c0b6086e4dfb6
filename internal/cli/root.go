package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"metateam/internal/config"
	"metateam/internal/llm_client"
	"metateam/internal/logger"
	"metateam/internal/store"
	"metateam/internal/tracker"
)

// app carries what every command needs. Flags write straight into cfg, so
// they override the environment.
type app struct {
	cfg *config.Config

	// newProvider is replaced in tests.
	newProvider func(llm_client.Config) (llm_client.Provider, error)
}

// NewRootCmd builds the command tree around cfg.
func NewRootCmd(cfg *config.Config) *cobra.Command {
	return newRootCmd(&app{cfg: cfg, newProvider: llm_client.New})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "metateam",
		Short: "Run phased LLM sessions with fallbacks and usage tracking",
		Long: `metateam runs sessions of ordered phases against a language model. Every call
is timed and recorded; a failing call is replaced by its fallback answer and the
session keeps going. Finished sessions are stored for the stats command.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if err := logger.Init(a.cfg.LogPath()); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logger.Log.Printf("[CLI] %s (backend=%s, store=%s)", cmd.CommandPath(), a.cfg.Backend, a.cfg.Store)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfg.Backend, "backend", a.cfg.Backend, fmt.Sprintf("model backend %v", llm_client.Backends()))
	pf.StringVar(&a.cfg.Model, "model", a.cfg.Model, "model name (backend default when empty)")
	pf.DurationVar(&a.cfg.CallTimeout, "timeout", a.cfg.CallTimeout, "per-call timeout")
	pf.StringVar(&a.cfg.Store, "store", a.cfg.Store, "where sessions are kept: sqlite, json or none")

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newChatCmd(a),
		newStatsCmd(a),
	)
	return root
}

// Execute runs the CLI until it finishes or receives SIGINT/SIGTERM.
func Execute(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd(cfg).ExecuteContext(ctx)
}

// provider returns nil without an error when the backend has no API key, so
// every call degrades to its fallback instead of failing the command.
func (a *app) provider(cmd *cobra.Command) (llm_client.Provider, error) {
	p, err := a.newProvider(a.cfg.LLM())
	if errors.Is(err, llm_client.ErrMissingAPIKey) {
		logger.Log.Printf("[CLI] No provider: %v", err)
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v; every call will use its fallback\n", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Log.Printf("[CLI] Using %s backend (model=%s)", p.Name(), p.AllowedModelOrDefault(a.cfg.Model))
	return p, nil
}

func (a *app) openStore() (store.Store, error) {
	s, err := store.Open(a.cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

// logEvent writes tracker events to the log file.
func logEvent(e tracker.Event) {
	switch e.Type {
	case tracker.EventCallRecorded:
		if e.Call != nil {
			logger.Log.Printf("[Tracker] session=%s call=%s phase=%q outcome=%s duration=%dms",
				e.Session, e.Call.ID, e.Call.Phase, e.Call.Outcome, e.Call.DurationMs)
		}
	case tracker.EventSessionEnded:
		if e.Summary != nil {
			logger.Log.Printf("[Tracker] session=%s ended: %d calls, %d%% success",
				e.Session, e.Summary.TotalCalls, e.Summary.SuccessRatePercent)
		}
	default:
		logger.Log.Printf("[Tracker] session=%s %s", e.Session, e.Type)
	}
}
