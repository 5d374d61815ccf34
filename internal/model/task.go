package model

// Task holds the adjustable parameters of a task about to execute.
// The preference engine rewrites a copy of it before the executor runs;
// the original is never mutated.
type Task struct {
	ID               string             `json:"id"`
	StrandID         string             `json:"strand_id,omitempty"`
	Description      string             `json:"description"`
	Tone             string             `json:"tone,omitempty"`
	Formality        float64            `json:"formality,omitempty"`
	Length           string             `json:"length,omitempty"`
	TopicWeights     map[string]float64 `json:"topic_weights,omitempty"`
	FormatWeights    map[string]float64 `json:"format_weights,omitempty"`
	QualityThreshold float64            `json:"quality_threshold,omitempty"`
	RequireCitations bool               `json:"require_citations,omitempty"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	out := t
	out.TopicWeights = cloneWeights(t.TopicWeights)
	out.FormatWeights = cloneWeights(t.FormatWeights)
	return out
}
