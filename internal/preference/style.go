package preference

import (
	"strings"

	"github.com/strandlabs/strand-memory/internal/model"
)

// Lightweight lexical style inference over content snapshots. Deliberately
// marker-based rather than model-based: deterministic, cheap, and good
// enough to steer tone/formality defaults.

var formalMarkers = []string{
	"therefore", "furthermore", "moreover", "regarding", "accordingly",
	"consequently", "pursuant", "hereby", "with respect to",
}

var informalMarkers = []string{
	"gonna", "wanna", "kinda", "btw", "fyi", "hey", "yeah", "cool", "awesome",
}

var friendlyMarkers = []string{
	"thanks", "thank you", "great", "love", "happy to", "glad",
}

// snapshotFormality scores a snapshot's formality in [0,1], 0.5 neutral.
func snapshotFormality(text string) float64 {
	lower := strings.ToLower(text)

	score := 0.5
	for _, m := range formalMarkers {
		if strings.Contains(lower, m) {
			score += 0.1
		}
	}
	for _, m := range informalMarkers {
		if strings.Contains(lower, m) {
			score -= 0.1
		}
	}
	// Contractions and exclamations read informal.
	score -= 0.05 * float64(min(strings.Count(lower, "'"), 4))
	score -= 0.05 * float64(min(strings.Count(lower, "!"), 4))

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// snapshotTone classifies a snapshot into a coarse tone label, or ""
// when nothing distinctive shows.
func snapshotTone(text string) string {
	lower := strings.ToLower(text)
	for _, m := range friendlyMarkers {
		if strings.Contains(lower, m) {
			return "friendly"
		}
	}
	for _, m := range formalMarkers {
		if strings.Contains(lower, m) {
			return "professional"
		}
	}
	for _, m := range informalMarkers {
		if strings.Contains(lower, m) {
			return "casual"
		}
	}
	return ""
}

// lengthBucket maps a snapshot length in bytes onto a preferred-length
// bucket.
func lengthBucket(n int) string {
	switch {
	case n < 400:
		return model.LengthShort
	case n < 1600:
		return model.LengthMedium
	default:
		return model.LengthLong
	}
}

// styleFromSnapshots derives a content style from positively rated
// records: mean formality, majority tone, median length bucket.
func styleFromSnapshots(positives []model.FeedbackRecord) model.ContentStyle {
	style := model.ContentStyle{Tone: "neutral", Formality: 0.5, Length: model.LengthMedium}

	var formalitySum float64
	var lengthSum, counted int
	toneVotes := map[string]int{}
	for _, r := range positives {
		if r.ContentSnapshot == "" {
			continue
		}
		counted++
		formalitySum += snapshotFormality(r.ContentSnapshot)
		lengthSum += len(r.ContentSnapshot)
		if tone := snapshotTone(r.ContentSnapshot); tone != "" {
			toneVotes[tone]++
		}
	}
	if counted == 0 {
		return style
	}

	style.Formality = formalitySum / float64(counted)
	style.Length = lengthBucket(lengthSum / counted)

	best := 0
	for tone, votes := range toneVotes {
		if votes > best {
			best = votes
			style.Tone = tone
		}
	}
	return style
}
