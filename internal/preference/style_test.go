package preference

import (
	"strings"
	"testing"

	"github.com/strandlabs/strand-memory/internal/model"
)

func TestSnapshotFormality(t *testing.T) {
	formal := "Therefore, the committee will proceed accordingly with respect to the proposal."
	informal := "hey! gonna ship it, it's kinda done, yeah!"

	f := snapshotFormality(formal)
	i := snapshotFormality(informal)
	if f <= 0.5 {
		t.Errorf("formal text scored %v", f)
	}
	if i >= 0.5 {
		t.Errorf("informal text scored %v", i)
	}
	if f < 0 || f > 1 || i < 0 || i > 1 {
		t.Errorf("formality out of range: %v, %v", f, i)
	}

	if got := snapshotFormality("The deployment finished."); got != 0.5 {
		t.Errorf("neutral text scored %v, want 0.5", got)
	}
}

func TestSnapshotTone(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Thanks so much, happy to help!", "friendly"},
		{"Furthermore, the analysis indicates a regression.", "professional"},
		{"btw this is kinda broken", "casual"},
		{"The deployment finished.", ""},
	}
	for _, tc := range cases {
		if got := snapshotTone(tc.text); got != tc.want {
			t.Errorf("snapshotTone(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestLengthBucket(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{0, model.LengthShort},
		{399, model.LengthShort},
		{400, model.LengthMedium},
		{1599, model.LengthMedium},
		{1600, model.LengthLong},
	}
	for _, tc := range cases {
		if got := lengthBucket(tc.n); got != tc.want {
			t.Errorf("lengthBucket(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestStyleFromSnapshots(t *testing.T) {
	long := strings.Repeat("Furthermore, the data supports the conclusion. ", 40)
	positives := []model.FeedbackRecord{
		{Rating: 5, ContentSnapshot: long},
		{Rating: 5, ContentSnapshot: "Therefore we proceed. Moreover, results hold."},
		{Rating: 4, ContentSnapshot: "Regarding the rollout, it is complete."},
		{Rating: 4}, // no snapshot, ignored
	}

	style := styleFromSnapshots(positives)
	if style.Tone != "professional" {
		t.Errorf("tone = %q, want professional", style.Tone)
	}
	if style.Formality <= 0.5 {
		t.Errorf("formality = %v, want above neutral", style.Formality)
	}
	if style.Length != model.LengthMedium {
		t.Errorf("length = %q, want medium for the averaged size", style.Length)
	}
}

func TestStyleFromSnapshotsEmpty(t *testing.T) {
	style := styleFromSnapshots([]model.FeedbackRecord{{Rating: 5}})
	if style.Tone != "neutral" || style.Formality != 0.5 || style.Length != model.LengthMedium {
		t.Errorf("expected neutral defaults, got %+v", style)
	}
}
