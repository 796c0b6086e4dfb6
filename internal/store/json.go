package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"metateam/internal/metrics"
	"metateam/internal/orchestrator"
)

const usageLogName = "usage.jsonl"

// JSONStore keeps one snapshot file per session plus an append-only usage
// log with one line per call, written when the session is first saved.
type JSONStore struct {
	dir string
	mu  sync.Mutex
}

func NewJSON(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("store: create sessions dir: %w", err)
	}
	return &JSONStore{dir: dir}, nil
}

func (s *JSONStore) sessionPath(id string) string {
	return filepath.Join(s.dir, "sessions", id+".json")
}

func (s *JSONStore) SaveReport(_ context.Context, r *orchestrator.Report) error {
	if err := checkReport(r); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.sessionPath(r.SessionID)
	_, statErr := os.Stat(path)
	if err := writeAtomic(path, data); err != nil {
		return err
	}
	// A resaved session replaces its snapshot; its calls are logged once.
	if statErr == nil {
		return nil
	}
	return s.appendUsage(r.Calls)
}

// writeAtomic writes to a temp file in the target directory, then renames it
// into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "session-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *JSONStore) appendUsage(calls []metrics.CallRecord) error {
	if len(calls) == 0 {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(s.dir, usageLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("store: open usage log: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, c := range calls {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("store: append usage: %w", err)
		}
	}
	return nil
}

func (s *JSONStore) loadReports() ([]orchestrator.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	var out []orchestrator.Report
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, "sessions", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("store: read %s: %w", e.Name(), err)
		}
		var r orchestrator.Report
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", e.Name(), err)
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Summary.EndedAt.Before(out[j].Summary.EndedAt)
	})
	return out, nil
}

// Report reads back a stored session.
func (s *JSONStore) Report(id string) (*orchestrator.Report, error) {
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		return nil, fmt.Errorf("store: read session %s: %w", id, err)
	}
	var r orchestrator.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("store: decode session %s: %w", id, err)
	}
	return &r, nil
}

func (s *JSONStore) GlobalStats(_ context.Context) (metrics.GlobalStats, error) {
	reports, err := s.loadReports()
	if err != nil {
		return metrics.GlobalStats{}, err
	}
	var g metrics.GlobalStats
	for _, r := range reports {
		g.Add(r.Summary)
	}
	return g, nil
}

func (s *JSONStore) RecentSessions(_ context.Context, limit int) ([]metrics.SessionSummary, error) {
	if limit <= 0 {
		return nil, nil
	}
	reports, err := s.loadReports()
	if err != nil {
		return nil, err
	}
	if len(reports) > limit {
		reports = reports[len(reports)-limit:]
	}
	out := make([]metrics.SessionSummary, 0, len(reports))
	for _, r := range reports {
		out = append(out, r.Summary)
	}
	return out, nil
}

func (s *JSONStore) Close() error { return nil }
