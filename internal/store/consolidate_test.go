package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/strandlabs/strand-memory/internal/model"
)

// mondayBase is a Monday, so week arithmetic in the tests stays readable.
var mondayBase = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestConsolidator(t *testing.T) (*Consolidator, *SQLiteStore) {
	t.Helper()
	s := newTestStore(t)
	c := NewConsolidator(s, zap.NewNop(), nil)
	c.now = func() time.Time { return mondayBase.AddDate(0, 0, 60) }
	return c, s
}

func agedEntry(owner, content string, typ model.MemoryType, createdAt time.Time, importance float64) model.MemoryEntry {
	return model.MemoryEntry{
		OwnerID:    owner,
		Type:       typ,
		Content:    content,
		Importance: importance,
		CreatedAt:  createdAt,
	}
}

func TestConsolidateGroupsByTypeAndWeek(t *testing.T) {
	ctx := context.Background()
	c, s := newTestConsolidator(t)

	week0 := mondayBase
	week1 := mondayBase.AddDate(0, 0, 7)
	if _, err := s.Persist(ctx, "o1", []model.MemoryEntry{
		agedEntry("o1", "ship checklist", model.TypeKnowledge, week0, 0.95),
		agedEntry("o1", "retro insight", model.TypeKnowledge, week0.Add(24*time.Hour), 0.9),
		agedEntry("o1", "lunch order", model.TypeKnowledge, week0.Add(48*time.Hour), 0.2),
		agedEntry("o1", "fix flaky test", model.TypeTask, week1, 0.5),
		agedEntry("o1", "update deps", model.TypeTask, week1.Add(time.Hour), 0.5),
		agedEntry("o1", "standup notes", model.TypeContext, week0, 0.5),
	}); err != nil {
		t.Fatalf("persist: %v", err)
	}

	report, err := c.Consolidate(ctx, "o1", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}

	if report.Examined != 6 {
		t.Errorf("expected 6 examined, got %d", report.Examined)
	}
	if report.Groups != 3 {
		t.Errorf("expected 3 groups, got %d", report.Groups)
	}
	if len(report.Consolidated) != 2 {
		t.Fatalf("expected 2 consolidated records, got %d", len(report.Consolidated))
	}
	if report.SourcesDeleted != 5 {
		t.Errorf("expected 5 sources deleted, got %d", report.SourcesDeleted)
	}
	// The lone context entry is too small a group to consolidate.
	if report.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", report.Skipped)
	}

	remaining, _ := s.Retrieve(ctx, "o1", Filters{})
	if len(remaining) != 1 || remaining[0].Type != model.TypeContext {
		t.Errorf("expected only the context entry to survive, got %v", remaining)
	}
}

func TestConsolidateKeepsKeyInsights(t *testing.T) {
	ctx := context.Background()
	c, s := newTestConsolidator(t)

	s.Persist(ctx, "o1", []model.MemoryEntry{
		agedEntry("o1", "top finding", model.TypeKnowledge, mondayBase, 0.95),
		agedEntry("o1", "critical insight", model.TypeKnowledge, mondayBase.Add(time.Hour), 0.85),
		agedEntry("o1", "background noise", model.TypeKnowledge, mondayBase.Add(2*time.Hour), 0.3),
	})

	report, err := c.Consolidate(ctx, "o1", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if len(report.Consolidated) != 1 {
		t.Fatalf("expected 1 consolidated record, got %d", len(report.Consolidated))
	}

	summary := report.Consolidated[0].Summary
	if !strings.Contains(summary, "top finding") {
		t.Error("summary dropped the highest-importance entry")
	}
	if !strings.Contains(summary, "critical insight") {
		t.Error("summary dropped a key insight")
	}
	if strings.Contains(summary, "background noise") {
		t.Error("summary kept a low-importance entry verbatim")
	}
}

func TestConsolidatePeriodBounds(t *testing.T) {
	ctx := context.Background()
	c, s := newTestConsolidator(t)

	// A Wednesday and a Friday of the same ISO week.
	s.Persist(ctx, "o1", []model.MemoryEntry{
		agedEntry("o1", "a", model.TypeTask, mondayBase.AddDate(0, 0, 2), 0.5),
		agedEntry("o1", "b", model.TypeTask, mondayBase.AddDate(0, 0, 4), 0.5),
	})

	report, err := c.Consolidate(ctx, "o1", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	cm := report.Consolidated[0]

	wantStart := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if !cm.PeriodStart.Equal(wantStart) {
		t.Errorf("expected period start %v, got %v", wantStart, cm.PeriodStart)
	}
	if !cm.PeriodEnd.Equal(wantStart.AddDate(0, 0, 7)) {
		t.Errorf("expected one-week period, got end %v", cm.PeriodEnd)
	}
}

func TestConsolidateIdempotent(t *testing.T) {
	ctx := context.Background()
	c, s := newTestConsolidator(t)

	res, _ := s.Persist(ctx, "o1", []model.MemoryEntry{
		agedEntry("o1", "a", model.TypeTask, mondayBase, 0.5),
		agedEntry("o1", "b", model.TypeTask, mondayBase.Add(time.Hour), 0.5),
	})

	// Simulate a crashed pass: the consolidated record exists but the
	// sources were never deleted.
	s.PutConsolidated(ctx, model.ConsolidatedMemory{
		OwnerID:     "o1",
		Type:        model.TypeTask,
		SourceIDs:   res.Written,
		Summary:     "previous pass",
		PeriodStart: mondayBase,
		PeriodEnd:   mondayBase.AddDate(0, 0, 7),
	})

	report, err := c.Consolidate(ctx, "o1", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if len(report.Consolidated) != 0 {
		t.Errorf("expected no new records for already-subsumed entries, got %d", len(report.Consolidated))
	}
	if report.Skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", report.Skipped)
	}

	existing, _ := s.ListConsolidated(ctx, "o1")
	if len(existing) != 1 {
		t.Errorf("expected the single prior record, got %d", len(existing))
	}
}

func TestConsolidateThreeWeeksOfTasks(t *testing.T) {
	ctx := context.Background()
	c, s := newTestConsolidator(t)

	// Two task entries per week for three consecutive weeks.
	var entries []model.MemoryEntry
	for week := 0; week < 3; week++ {
		start := mondayBase.AddDate(0, 0, 7*week)
		entries = append(entries,
			agedEntry("o1", "task a", model.TypeTask, start, 0.5),
			agedEntry("o1", "task b", model.TypeTask, start.Add(48*time.Hour), 0.5),
		)
	}
	if _, err := s.Persist(ctx, "o1", entries); err != nil {
		t.Fatalf("persist: %v", err)
	}

	report, err := c.Consolidate(ctx, "o1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if len(report.Consolidated) != 3 {
		t.Fatalf("expected one record per week, got %d", len(report.Consolidated))
	}
	if report.SourcesDeleted != 6 {
		t.Errorf("expected all 6 sources deleted, got %d", report.SourcesDeleted)
	}

	remaining, _ := s.Retrieve(ctx, "o1", Filters{})
	if len(remaining) != 0 {
		t.Errorf("expected no original entries, %d remain", len(remaining))
	}

	// A second pass with nothing new is a no-op.
	again, err := c.Consolidate(ctx, "o1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("second consolidate: %v", err)
	}
	if len(again.Consolidated) != 0 || again.SourcesDeleted != 0 {
		t.Errorf("second pass was not a no-op: %+v", again)
	}
	records, _ := s.ListConsolidated(ctx, "o1")
	if len(records) != 3 {
		t.Errorf("expected 3 consolidated records after rerun, got %d", len(records))
	}
}

func TestConsolidateConcurrentPassConflicts(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConsolidator(t)

	mu := c.ownerLock("o1")
	mu.Lock()
	defer mu.Unlock()

	_, err := c.Consolidate(ctx, "o1", 30*24*time.Hour)
	var conflict *ConsolidationConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConsolidationConflictError, got %v", err)
	}
	if conflict.OwnerID != "o1" {
		t.Errorf("conflict names wrong owner: %q", conflict.OwnerID)
	}

	// Other owners proceed.
	if _, err := c.Consolidate(ctx, "o2", 30*24*time.Hour); err != nil {
		t.Errorf("other owner blocked: %v", err)
	}
}

func TestConsolidateLeavesFreshEntries(t *testing.T) {
	ctx := context.Background()
	c, s := newTestConsolidator(t)

	fresh := c.now().Add(-24 * time.Hour)
	s.Persist(ctx, "o1", []model.MemoryEntry{
		agedEntry("o1", "yesterday a", model.TypeTask, fresh, 0.5),
		agedEntry("o1", "yesterday b", model.TypeTask, fresh.Add(time.Hour), 0.5),
	})

	report, err := c.Consolidate(ctx, "o1", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if report.Examined != 0 {
		t.Errorf("fresh entries examined: %d", report.Examined)
	}

	remaining, _ := s.Retrieve(ctx, "o1", Filters{})
	if len(remaining) != 2 {
		t.Errorf("fresh entries touched, %d remain", len(remaining))
	}
}
