package model

import (
	"testing"
	"time"
)

func validEntry() MemoryEntry {
	now := time.Now().UTC()
	return MemoryEntry{
		ID:             "e1",
		OwnerID:        "o1",
		Type:           TypeContext,
		Content:        "hello",
		Importance:     0.5,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}

func TestMemoryTypeValid(t *testing.T) {
	for _, typ := range Types {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if MemoryType("episodic").Valid() {
		t.Error("unknown type accepted")
	}
	if MemoryType("").Valid() {
		t.Error("empty type accepted")
	}
}

func TestMemoryEntryValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*MemoryEntry)
		wantErr string
	}{
		{"valid", func(e *MemoryEntry) {}, ""},
		{"missing owner", func(e *MemoryEntry) { e.OwnerID = "" }, "owner_id"},
		{"bad type", func(e *MemoryEntry) { e.Type = "bogus" }, "type"},
		{"empty content", func(e *MemoryEntry) { e.Content = "" }, "content"},
		{"importance too high", func(e *MemoryEntry) { e.Importance = 1.5 }, "importance"},
		{"importance negative", func(e *MemoryEntry) { e.Importance = -0.1 }, "importance"},
		{"negative access count", func(e *MemoryEntry) { e.AccessCount = -1 }, "access_count"},
		{"accessed before created", func(e *MemoryEntry) {
			e.LastAccessedAt = e.CreatedAt.Add(-time.Hour)
		}, "last_accessed_at"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := validEntry()
			tc.mutate(&e)
			err := e.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			ve, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if ve.Field != tc.wantErr {
				t.Errorf("expected field %q, got %q", tc.wantErr, ve.Field)
			}
		})
	}
}

func TestRatingScore(t *testing.T) {
	cases := []struct {
		rating int
		want   float64
	}{
		{1, 0}, {2, 0.25}, {3, 0.5}, {4, 0.75}, {5, 1},
		{0, 0}, {9, 1}, // out-of-range clamps
	}
	for _, tc := range cases {
		r := FeedbackRecord{Rating: tc.rating}
		if got := r.RatingScore(); got != tc.want {
			t.Errorf("RatingScore(%d) = %v, want %v", tc.rating, got, tc.want)
		}
	}
}

func TestFeedbackPositive(t *testing.T) {
	for rating := MinRating; rating <= MaxRating; rating++ {
		r := FeedbackRecord{Rating: rating}
		if r.Positive() != (rating >= PositiveRating) {
			t.Errorf("Positive() wrong for rating %d", rating)
		}
	}
}

func TestPreferencesState(t *testing.T) {
	p := DefaultPreferences("u1")
	if p.State() != StateUninitialized {
		t.Errorf("fresh preferences state = %s", p.State())
	}

	p.Version = 1
	p.SampleCount = 2
	if p.State() != StateLearning {
		t.Errorf("under-sampled state = %s", p.State())
	}

	p.SampleCount = MinSamplesForLearning
	if p.State() != StateConverged {
		t.Errorf("sampled state = %s", p.State())
	}
}

func TestPreferencesCloneIsDeep(t *testing.T) {
	p := DefaultPreferences("u1")
	p.TopicWeights["golang"] = 0.5

	c := p.Clone()
	c.TopicWeights["golang"] = 0.9
	c.FormatWeights["table"] = 1

	if p.TopicWeights["golang"] != 0.5 {
		t.Error("clone aliases topic weights")
	}
	if len(p.FormatWeights) != 0 {
		t.Error("clone aliases format weights")
	}
}

func TestTaskCloneIsDeep(t *testing.T) {
	task := Task{ID: "t1", TopicWeights: map[string]float64{"golang": 0.5}}
	c := task.Clone()
	c.TopicWeights["golang"] = 0.9
	if task.TopicWeights["golang"] != 0.5 {
		t.Error("clone aliases topic weights")
	}
}
