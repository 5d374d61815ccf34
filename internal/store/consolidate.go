package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/strandlabs/strand-memory/internal/model"
	"github.com/strandlabs/strand-memory/internal/observability"
)

// Consolidator compacts aged memory entries into summarized records. It
// runs off the request path, typically on a schedule or session teardown.
//
// Write-then-delete ordering makes a pass crash-safe: the consolidated
// record is durably written before any source entry is removed. A delete
// failure leaves duplicate sources behind, which the next pass skips via
// SourceIDs, so repeated passes converge without losing information.
type Consolidator struct {
	store   Store
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	// One mutex per owner. Two concurrent passes for the same owner
	// would double-summarize; retrieval and fresh persistence are not
	// blocked since a pass only targets entries older than its cutoff.
	owners sync.Map
}

// NewConsolidator builds a consolidator over the given store. logger and
// metrics may be nil.
func NewConsolidator(s Store, logger *zap.Logger, metrics *observability.Metrics) *Consolidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{
		store:   s,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

func (c *Consolidator) ownerLock(ownerID string) *sync.Mutex {
	mu, _ := c.owners.LoadOrStore(ownerID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Consolidate groups the owner's entries older than olderThan by
// (type, ISO week of creation) and replaces each group of two or more with
// one ConsolidatedMemory. Single-entry groups are left untouched. A pass
// already running for the same owner yields *ConsolidationConflictError.
func (c *Consolidator) Consolidate(ctx context.Context, ownerID string, olderThan time.Duration) (*ConsolidationReport, error) {
	mu := c.ownerLock(ownerID)
	if !mu.TryLock() {
		c.metrics.ObserveConsolidation("conflict")
		return nil, &ConsolidationConflictError{OwnerID: ownerID}
	}
	defer mu.Unlock()

	now := c.now().UTC()
	cutoff := now.Add(-olderThan)

	entries, err := c.store.Retrieve(ctx, ownerID, Filters{Until: cutoff})
	if err != nil {
		c.metrics.ObserveConsolidation("error")
		return nil, err
	}

	report := &ConsolidationReport{OwnerID: ownerID, Examined: len(entries)}
	if len(entries) == 0 {
		c.metrics.ObserveConsolidation("completed")
		return report, nil
	}

	// Entries already subsumed by a consolidated record survive only when
	// a previous delete failed; skipping them keeps the pass idempotent.
	subsumed, err := c.subsumedIDs(ctx, ownerID)
	if err != nil {
		c.metrics.ObserveConsolidation("error")
		return nil, err
	}

	groups := map[string][]model.MemoryEntry{}
	for _, e := range entries {
		if subsumed[e.ID] {
			report.Skipped++
			continue
		}
		groups[groupKey(e)] = append(groups[groupKey(e)], e)
	}
	report.Groups = len(groups)

	// Deterministic pass order.
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		group := groups[k]
		if len(group) < 2 {
			report.Skipped += len(group)
			continue
		}

		cm := summarizeGroup(ownerID, group, now)
		if err := c.store.PutConsolidated(ctx, cm); err != nil {
			// No deletion without a durable summary; the pass retries
			// this group next time.
			c.logger.Warn("consolidated write failed, keeping sources",
				zap.String("owner_id", ownerID), zap.String("group", k), zap.Error(err))
			continue
		}
		report.Consolidated = append(report.Consolidated, cm)

		if err := c.store.Delete(ctx, ownerID, cm.SourceIDs); err != nil {
			// Duplicates are tolerated; the next pass skips them via
			// SourceIDs.
			c.logger.Warn("source delete failed after consolidated write",
				zap.String("owner_id", ownerID), zap.String("group", k), zap.Error(err))
			report.DeleteFailures++
			continue
		}
		report.SourcesDeleted += len(cm.SourceIDs)
	}

	c.metrics.ObserveConsolidation("completed")
	c.logger.Info("consolidation pass finished",
		zap.String("owner_id", ownerID),
		zap.Int("examined", report.Examined),
		zap.Int("created", len(report.Consolidated)),
		zap.Int("sources_deleted", report.SourcesDeleted))
	return report, nil
}

func (c *Consolidator) subsumedIDs(ctx context.Context, ownerID string) (map[string]bool, error) {
	existing, err := c.store.ListConsolidated(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	ids := map[string]bool{}
	for _, cm := range existing {
		for _, id := range cm.SourceIDs {
			ids[id] = true
		}
	}
	return ids, nil
}

func groupKey(e model.MemoryEntry) string {
	year, week := e.CreatedAt.UTC().ISOWeek()
	return fmt.Sprintf("%s|%04d-W%02d", e.Type, year, week)
}

// summarizeGroup builds the consolidated record for one (type, week)
// group. The summary keeps the highest-importance entry's content plus
// every key-insight entry verbatim; the rest contribute only their tags.
func summarizeGroup(ownerID string, group []model.MemoryEntry, now time.Time) model.ConsolidatedMemory {
	sorted := make([]model.MemoryEntry, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Importance > sorted[j].Importance
	})

	var parts []string
	var sourceIDs []string
	tagSet := map[string]bool{}
	for i, e := range sorted {
		sourceIDs = append(sourceIDs, e.ID)
		for _, t := range e.Tags {
			tagSet[t] = true
		}
		if i == 0 || e.Importance >= model.KeyInsightThreshold {
			parts = append(parts, e.Content)
		}
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	start, end := weekBounds(group[0].CreatedAt)
	return model.ConsolidatedMemory{
		ID:                 newEntryID(),
		OwnerID:            ownerID,
		Type:               group[0].Type,
		SourceIDs:          sourceIDs,
		Summary:            strings.Join(parts, "\n\n"),
		RepresentativeTags: tags,
		PeriodStart:        start,
		PeriodEnd:          end,
		CreatedAt:          now,
	}
}

// weekBounds returns the [Monday 00:00 UTC, next Monday) bounds of t's
// ISO week.
func weekBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1-weekday)
	return start, start.AddDate(0, 0, 7)
}
