// Package store persists finished session reports and reads back the usage
// history used by the stats command.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"metateam/internal/metrics"
	"metateam/internal/orchestrator"
)

const (
	KindSQLite = "sqlite"
	KindJSON   = "json"
	KindNone   = "none"
)

var (
	ErrUnknownKind = errors.New("unknown store kind")
	ErrNoSession   = errors.New("report has no session")
)

type Store interface {
	SaveReport(ctx context.Context, r *orchestrator.Report) error
	GlobalStats(ctx context.Context) (metrics.GlobalStats, error)
	// RecentSessions returns up to limit of the latest sessions, oldest first.
	RecentSessions(ctx context.Context, limit int) ([]metrics.SessionSummary, error)
	Close() error
}

type Config struct {
	Kind string
	Dir  string
}

func Open(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindSQLite:
		return NewSQLite(filepath.Join(cfg.Dir, "metateam.db"))
	case KindJSON:
		return NewJSON(cfg.Dir)
	case KindNone:
		return NoopStore{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
}

func checkReport(r *orchestrator.Report) error {
	if r == nil || r.SessionID == "" {
		return ErrNoSession
	}
	return nil
}

// NoopStore discards reports.
type NoopStore struct{}

func (NoopStore) SaveReport(context.Context, *orchestrator.Report) error { return nil }

func (NoopStore) GlobalStats(context.Context) (metrics.GlobalStats, error) {
	return metrics.GlobalStats{}, nil
}

func (NoopStore) RecentSessions(context.Context, int) ([]metrics.SessionSummary, error) {
	return nil, nil
}

func (NoopStore) Close() error { return nil }
