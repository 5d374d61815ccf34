// Package window builds bounded, task-relevant context windows over the
// memory store. Window building is synchronous, stateless and safe for
// unbounded parallel invocation; only the store calls underneath can block.
package window

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/strandlabs/strand-memory/internal/model"
	"github.com/strandlabs/strand-memory/internal/observability"
	"github.com/strandlabs/strand-memory/internal/priority"
	"github.com/strandlabs/strand-memory/internal/store"
)

const (
	// The candidate pool over-fetches to amortize relevance filtering
	// loss, capped at an absolute ceiling so a large MaxSize cannot
	// trigger an unbounded store scan.
	overFetchFactor = 3
	maxCandidates   = 512
)

// Config bounds one window request.
type Config struct {
	MaxSize      int                `json:"max_size"`
	TimeWindow   time.Duration      `json:"time_window"`
	Types        []model.MemoryType `json:"types,omitempty"`
	MinRelevance float64            `json:"min_relevance"`
}

// Manager assembles context windows. Construct one per store; it holds no
// mutable state of its own.
type Manager struct {
	store   store.Store
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New builds a window manager. logger and metrics may be nil.
func New(s store.Store, logger *zap.Logger, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: s, logger: logger, metrics: metrics, now: time.Now}
}

// Create returns a ranked window of at most cfg.MaxSize entries relevant
// to the task description. An empty window means "no relevant history",
// never a failure: candidates below cfg.MinRelevance are dropped rather
// than padded back in.
func (m *Manager) Create(ctx context.Context, ownerID, task string, cfg Config) ([]priority.Prioritized, error) {
	if cfg.MaxSize <= 0 {
		return []priority.Prioritized{}, nil
	}

	limit := cfg.MaxSize * overFetchFactor
	if limit > maxCandidates {
		limit = maxCandidates
	}

	f := store.Filters{Types: cfg.Types, Limit: limit}
	if cfg.TimeWindow > 0 {
		f.Since = m.now().Add(-cfg.TimeWindow)
	}

	candidates, err := m.store.Retrieve(ctx, ownerID, f)
	if err != nil {
		return nil, err
	}

	window := m.rank(ctx, ownerID, task, cfg, candidates)
	m.touch(ctx, ownerID, window)
	m.metrics.ObserveWindow(len(window))
	return window, nil
}

// Update re-ranks the union of an existing window and entries that
// accumulated mid-execution, under the same config. Duplicate IDs keep
// the fresh copy, which carries newer access state.
func (m *Manager) Update(ctx context.Context, ownerID, task string, cfg Config, existing []priority.Prioritized, fresh []model.MemoryEntry) ([]priority.Prioritized, error) {
	if cfg.MaxSize <= 0 {
		return []priority.Prioritized{}, nil
	}

	merged := make([]model.MemoryEntry, 0, len(existing)+len(fresh))
	seen := map[string]int{}
	for _, p := range existing {
		seen[p.ID] = len(merged)
		merged = append(merged, p.MemoryEntry)
	}
	for _, e := range fresh {
		if i, ok := seen[e.ID]; ok {
			merged[i] = e
			continue
		}
		seen[e.ID] = len(merged)
		merged = append(merged, e)
	}

	window := m.rank(ctx, ownerID, task, cfg, merged)
	m.metrics.ObserveWindow(len(window))
	return window, nil
}

// rank scores, filters, sorts and truncates a candidate pool. Pure apart
// from the max-access-count read used for normalization.
func (m *Manager) rank(ctx context.Context, ownerID, task string, cfg Config, candidates []model.MemoryEntry) []priority.Prioritized {
	window := []priority.Prioritized{}
	if len(candidates) == 0 {
		return window
	}

	maxAccess, err := m.store.MaxAccessCount(ctx, ownerID)
	if err != nil {
		// Degrade to pool-local normalization rather than failing the
		// whole build.
		m.logger.Warn("max access count unavailable, using pool maximum",
			zap.String("owner_id", ownerID), zap.Error(err))
		for _, e := range candidates {
			if e.AccessCount > maxAccess {
				maxAccess = e.AccessCount
			}
		}
	}

	now := m.now()
	for _, e := range candidates {
		scored := priority.Score(e, task, now, maxAccess)
		if scored.RelevanceScore < cfg.MinRelevance {
			continue
		}
		window = append(window, scored)
	}

	sort.SliceStable(window, func(i, j int) bool {
		if window[i].PriorityScore != window[j].PriorityScore {
			return window[i].PriorityScore > window[j].PriorityScore
		}
		return window[i].LastAccessedAt.After(window[j].LastAccessedAt)
	})

	if len(window) > cfg.MaxSize {
		window = window[:cfg.MaxSize]
	}
	return window
}

// touch records that the windowed entries were served. Best effort: a
// failed bump degrades future scoring slightly but never the window.
func (m *Manager) touch(ctx context.Context, ownerID string, window []priority.Prioritized) {
	if len(window) == 0 {
		return
	}
	ids := make([]string, len(window))
	for i, p := range window {
		ids[i] = p.ID
	}
	if err := m.store.RecordAccess(ctx, ownerID, ids); err != nil {
		m.logger.Warn("record access failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
}
