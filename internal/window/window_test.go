package window

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/strandlabs/strand-memory/internal/model"
	"github.com/strandlabs/strand-memory/internal/store"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, zap.NewNop(), nil), s
}

func seed(t *testing.T, s store.Store, owner string, entries ...model.MemoryEntry) []string {
	t.Helper()
	res, err := s.Persist(context.Background(), owner, entries)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(res.Failed) > 0 {
		t.Fatalf("seed failures: %v", res.Failed)
	}
	return res.Written
}

func entry(owner, content string, typ model.MemoryType, importance float64) model.MemoryEntry {
	return model.MemoryEntry{OwnerID: owner, Type: typ, Content: content, Importance: importance}
}

func TestCreateBoundsWindowSize(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)

	var entries []model.MemoryEntry
	for i := 0; i < 8; i++ {
		entries = append(entries, entry("o1", "note about deployments", model.TypeContext, 0.5))
	}
	seed(t, s, "o1", entries...)

	window, err := m.Create(ctx, "o1", "deployments", Config{MaxSize: 3, TimeWindow: 24 * time.Hour})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(window) != 3 {
		t.Errorf("expected window of 3, got %d", len(window))
	}
	for _, p := range window {
		if p.PriorityScore <= 0 {
			t.Errorf("entry %s has no priority score", p.ID)
		}
	}
}

func TestCreateEmptyWhenNothingRelevant(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)

	seed(t, s, "o1",
		entry("o1", "grocery list", model.TypeTask, 0.3),
		entry("o1", "weekend plans", model.TypeTask, 0.2),
	)

	window, err := m.Create(ctx, "o1", "kubernetes upgrade", Config{MaxSize: 5, MinRelevance: 0.9})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// An empty window is a valid answer, never padded back in.
	if len(window) != 0 {
		t.Errorf("expected empty window, got %d entries", len(window))
	}
}

func TestCreateZeroMaxSize(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	seed(t, s, "o1", entry("o1", "anything", model.TypeTask, 0.5))

	window, err := m.Create(ctx, "o1", "anything", Config{MaxSize: 0})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(window) != 0 {
		t.Errorf("expected empty window for MaxSize 0, got %d", len(window))
	}
}

func TestCreateRanksByPriority(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)

	seed(t, s, "o1",
		entry("o1", "redis cache eviction policy decision", model.TypeKnowledge, 0.9),
		entry("o1", "unrelated standup chatter", model.TypeContext, 0.2),
		entry("o1", "redis connection pool sizing", model.TypeKnowledge, 0.7),
	)

	window, err := m.Create(ctx, "o1", "redis eviction", Config{MaxSize: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(window) < 2 {
		t.Fatalf("expected at least 2 entries, got %d", len(window))
	}
	for i := 1; i < len(window); i++ {
		if window[i].PriorityScore > window[i-1].PriorityScore {
			t.Errorf("window not sorted: %v before %v", window[i-1].PriorityScore, window[i].PriorityScore)
		}
	}
	if window[0].Content != "redis cache eviction policy decision" {
		t.Errorf("expected the matching high-importance entry first, got %q", window[0].Content)
	}
}

func TestCreateFiltersByTypeAndTime(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)

	old := entry("o1", "ancient history", model.TypeKnowledge, 0.9)
	old.CreatedAt = time.Now().UTC().AddDate(0, 0, -90)
	seed(t, s, "o1",
		old,
		entry("o1", "fresh knowledge", model.TypeKnowledge, 0.5),
		entry("o1", "fresh task", model.TypeTask, 0.5),
	)

	window, err := m.Create(ctx, "o1", "", Config{
		MaxSize:    10,
		TimeWindow: 30 * 24 * time.Hour,
		Types:      []model.MemoryType{model.TypeKnowledge},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(window) != 1 || window[0].Content != "fresh knowledge" {
		t.Errorf("expected only fresh knowledge, got %v", window)
	}
}

func TestCreateRecordsAccess(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)

	ids := seed(t, s, "o1", entry("o1", "served entry", model.TypeContext, 0.5))

	if _, err := m.Create(ctx, "o1", "served", Config{MaxSize: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _ := s.Retrieve(ctx, "o1", store.Filters{})
	if len(got) != 1 || got[0].ID != ids[0] {
		t.Fatalf("entry lost: %v", got)
	}
	if got[0].AccessCount != 1 {
		t.Errorf("expected access_count 1 after serving, got %d", got[0].AccessCount)
	}
}

func TestUpdateMergesFreshEntries(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)

	seed(t, s, "o1",
		entry("o1", "initial context", model.TypeContext, 0.5),
		entry("o1", "initial knowledge", model.TypeKnowledge, 0.6),
	)

	cfg := Config{MaxSize: 3}
	window, err := m.Create(ctx, "o1", "initial", cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// One duplicate carrying newer access state, one genuinely new entry.
	dup := window[0].MemoryEntry
	dup.AccessCount += 5
	fresh := model.MemoryEntry{
		ID: "mid-exec", OwnerID: "o1", Type: model.TypeTask,
		Content: "initial follow-up discovered mid-task", Importance: 0.8,
		CreatedAt: time.Now().UTC(), LastAccessedAt: time.Now().UTC(),
	}

	updated, err := m.Update(ctx, "o1", "initial", cfg, window, []model.MemoryEntry{dup, fresh})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated) > cfg.MaxSize {
		t.Fatalf("update exceeded max size: %d", len(updated))
	}

	seen := map[string]int{}
	for _, p := range updated {
		seen[p.ID]++
		if p.ID == dup.ID && p.AccessCount != dup.AccessCount {
			t.Errorf("duplicate kept stale copy: access %d", p.AccessCount)
		}
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("entry %s appears %d times", id, n)
		}
	}
	if seen["mid-exec"] == 0 {
		t.Error("fresh entry missing from updated window")
	}
}
