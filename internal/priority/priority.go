// Package priority scores memory entries for retrieval ranking and
// consolidation. It is a pure library: no persisted state, no failure
// modes. Unknown types and malformed inputs coerce to zero-contribution
// terms instead of erroring.
package priority

import (
	"math"
	"strings"
	"time"

	"github.com/strandlabs/strand-memory/internal/model"
)

// Scoring weights. Fixed rather than per-call configurable so results stay
// deterministic; tuning happens here, not at call sites.
const (
	// Recency blends two half-life decay curves: one anchored on creation,
	// one on last access. A recently touched memory outranks a merely
	// recently created one.
	recencyCreatedWeight  = 0.3
	recencyAccessedWeight = 0.7

	// Relevance is a weighted sum of entry properties plus query match.
	relevanceImportanceWeight = 0.4
	relevanceAccessWeight     = 0.3
	relevanceTypeWeight       = 0.2
	relevanceKeywordWeight    = 0.1

	// Priority combines relevance and recency with a small bonus for
	// frequently accessed entries.
	priorityRelevanceWeight = 0.45
	priorityRecencyWeight   = 0.45
	accessBonusDivisor      = 50.0
	accessBonusCap          = 0.1
)

// HalfLife returns the type-specific recency decay half-life. Durable
// knowledge decays slowly; transient task notes fade within weeks.
func HalfLife(t model.MemoryType) time.Duration {
	const day = 24 * time.Hour
	switch t {
	case model.TypePattern:
		return 90 * day
	case model.TypeKnowledge:
		return 60 * day
	case model.TypeFeedback:
		return 30 * day
	case model.TypeContext:
		return 21 * day
	case model.TypeTask:
		return 14 * day
	default:
		// Unknown types decay like task notes.
		return 14 * day
	}
}

// TypePriority returns the fixed per-type relevance contribution.
func TypePriority(t model.MemoryType) float64 {
	switch t {
	case model.TypePattern:
		return 1.0
	case model.TypeKnowledge:
		return 0.9
	case model.TypeFeedback:
		return 0.8
	case model.TypeContext:
		return 0.7
	case model.TypeTask:
		return 0.6
	default:
		return 0
	}
}

// Prioritized annotates an entry with its scores. It is a transient
// artifact of a single scoring pass and is never persisted.
type Prioritized struct {
	model.MemoryEntry
	RelevanceScore float64 `json:"relevance_score"`
	RecencyScore   float64 `json:"recency_score"`
	PriorityScore  float64 `json:"priority_score"`
}

// RecencyScore returns the decayed recency of e at the given instant,
// in [0,1]. Score halves every type-specific half-life.
func RecencyScore(e model.MemoryEntry, now time.Time) float64 {
	hl := HalfLife(e.Type)
	accessedAt := e.LastAccessedAt
	if accessedAt.IsZero() {
		accessedAt = e.CreatedAt
	}
	created := decay(now.Sub(e.CreatedAt), hl)
	accessed := decay(now.Sub(accessedAt), hl)
	return clamp01(recencyCreatedWeight*created + recencyAccessedWeight*accessed)
}

func decay(age time.Duration, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Seconds()/halfLife.Seconds())
}

// RelevanceScore returns how relevant e is to the query, in [0,1].
// maxAccessCount is the owner's maximum observed access count, used to
// normalize access frequency; values below 1 are treated as 1.
func RelevanceScore(e model.MemoryEntry, query string, maxAccessCount int) float64 {
	if maxAccessCount < 1 {
		maxAccessCount = 1
	}
	accessNorm := clamp01(float64(e.AccessCount) / float64(maxAccessCount))

	score := clamp01(e.Importance)*relevanceImportanceWeight +
		accessNorm*relevanceAccessWeight +
		TypePriority(e.Type)*relevanceTypeWeight +
		keywordMatch(e, query)*relevanceKeywordWeight
	return clamp01(score)
}

// keywordMatch is the fraction of query keywords present in the entry's
// content or tags, matched case-insensitively as substrings. An empty
// query contributes nothing.
func keywordMatch(e model.MemoryEntry, query string) float64 {
	keywords := strings.Fields(strings.ToLower(query))
	if len(keywords) == 0 {
		return 0
	}
	content := strings.ToLower(e.Content)
	tags := make([]string, len(e.Tags))
	for i, t := range e.Tags {
		tags[i] = strings.ToLower(t)
	}

	matched := 0
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			matched++
			continue
		}
		for _, tag := range tags {
			if strings.Contains(tag, kw) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(keywords))
}

// AccessBonus rewards frequently accessed entries, capped at 0.1.
func AccessBonus(accessCount int) float64 {
	if accessCount < 0 {
		return 0
	}
	return math.Min(float64(accessCount)/accessBonusDivisor, accessBonusCap)
}

// PriorityScore combines relevance, recency and the access bonus.
func PriorityScore(e model.MemoryEntry, query string, now time.Time, maxAccessCount int) float64 {
	return clamp01(priorityRelevanceWeight*RelevanceScore(e, query, maxAccessCount) +
		priorityRecencyWeight*RecencyScore(e, now) +
		AccessBonus(e.AccessCount))
}

// Score runs a full scoring pass over one entry.
func Score(e model.MemoryEntry, query string, now time.Time, maxAccessCount int) Prioritized {
	return Prioritized{
		MemoryEntry:    e,
		RelevanceScore: RelevanceScore(e, query, maxAccessCount),
		RecencyScore:   RecencyScore(e, now),
		PriorityScore:  PriorityScore(e, query, now, maxAccessCount),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
