package model

import "time"

// Rating bounds for feedback records. Ratings at or above PositiveRating
// count as positive signals for preference learning.
const (
	MinRating      = 1
	MaxRating      = 5
	PositiveRating = 4
)

// EngagementMetrics are optional behavioral signals attached to feedback.
type EngagementMetrics struct {
	DwellSeconds float64 `json:"dwell_seconds,omitempty"`
	Shares       int     `json:"shares,omitempty"`
	Saves        int     `json:"saves,omitempty"`
}

// FeedbackRecord is one append-only feedback signal for a completed task.
// Records outlive the task that produced them; retention is external.
type FeedbackRecord struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	TaskID          string             `json:"task_id"`
	StrandID        string             `json:"strand_id"`
	Rating          int                `json:"rating"`
	EditDistance    float64            `json:"edit_distance,omitempty"`
	Engagement      *EngagementMetrics `json:"engagement,omitempty"`
	Confidence      float64            `json:"confidence,omitempty"`
	HadCitations    bool               `json:"had_citations,omitempty"`
	Topics          []string           `json:"topics,omitempty"`
	Formats         []string           `json:"formats,omitempty"`
	ContentSnapshot string             `json:"content_snapshot,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// Positive reports whether the record carries a positive rating.
func (r *FeedbackRecord) Positive() bool { return r.Rating >= PositiveRating }

// RatingScore maps the discrete rating onto [0,1].
func (r *FeedbackRecord) RatingScore() float64 {
	rating := r.Rating
	if rating < MinRating {
		rating = MinRating
	}
	if rating > MaxRating {
		rating = MaxRating
	}
	return float64(rating-MinRating) / float64(MaxRating-MinRating)
}

// Validate checks a feedback record before it is appended.
func (r *FeedbackRecord) Validate() error {
	if r.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if r.TaskID == "" {
		return &ValidationError{Field: "task_id", Reason: "must not be empty"}
	}
	if r.Rating < MinRating || r.Rating > MaxRating {
		return &ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return &ValidationError{Field: "confidence", Reason: "must be in [0,1]"}
	}
	return nil
}

// Length buckets for preferred content length.
const (
	LengthShort  = "short"
	LengthMedium = "medium"
	LengthLong   = "long"
)

// ContentStyle captures how a user likes content written.
type ContentStyle struct {
	Tone      string  `json:"tone"`
	Formality float64 `json:"formality"`
	Length    string  `json:"length"`
}

// Preference record states. Transitions are driven only by the preference
// engine's learn/update calls.
const (
	StateUninitialized = "uninitialized"
	StateLearning      = "learning"
	StateConverged     = "converged"
)

// MinSamplesForLearning is the feedback count below which learning keeps
// the stored preferences unchanged (cold start).
const MinSamplesForLearning = 5

// UserPreferences is the per-user learned behavioral profile. All weight
// maps stay normalized into [0,1] and SampleCount never decreases.
// Version supports optimistic-concurrency writes; it is zero until the
// record has been stored once.
type UserPreferences struct {
	UserID             string             `json:"user_id"`
	ContentStyle       ContentStyle       `json:"content_style"`
	TopicWeights       map[string]float64 `json:"topic_weights,omitempty"`
	FormatWeights      map[string]float64 `json:"format_weights,omitempty"`
	QualityThreshold   float64            `json:"quality_threshold"`
	CitationPreference bool               `json:"citation_preference"`
	SampleCount        int                `json:"sample_count"`
	LastUpdatedAt      time.Time          `json:"last_updated_at"`
	Version            int                `json:"version"`
}

// DefaultPreferences returns the neutral profile used when a user has no
// stored preferences yet. Callers never special-case "no preferences".
func DefaultPreferences(userID string) UserPreferences {
	return UserPreferences{
		UserID: userID,
		ContentStyle: ContentStyle{
			Tone:      "neutral",
			Formality: 0.5,
			Length:    LengthMedium,
		},
		TopicWeights:     map[string]float64{},
		FormatWeights:    map[string]float64{},
		QualityThreshold: 0.6,
	}
}

// State reports where the record sits in its lifecycle.
func (p *UserPreferences) State() string {
	switch {
	case p.Version == 0 && p.SampleCount == 0:
		return StateUninitialized
	case p.SampleCount < MinSamplesForLearning:
		return StateLearning
	default:
		return StateConverged
	}
}

// Clone returns a deep copy so callers can mutate without aliasing the
// stored maps.
func (p UserPreferences) Clone() UserPreferences {
	out := p
	out.TopicWeights = cloneWeights(p.TopicWeights)
	out.FormatWeights = cloneWeights(p.FormatWeights)
	return out
}

func cloneWeights(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
