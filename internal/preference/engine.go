// Package preference learns per-user behavioral preferences from feedback
// and rewrites task parameters before execution.
package preference

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/strandlabs/strand-memory/internal/model"
	"github.com/strandlabs/strand-memory/internal/observability"
	"github.com/strandlabs/strand-memory/internal/store"
)

const (
	// RecencyWeight is the EMA blend factor: new observations contribute
	// this share, the stored value the rest.
	RecencyWeight = 0.7

	// ConfidenceThreshold gates full-weight incremental updates. Signals
	// below it still apply, with the weight scaled down by the signal's
	// confidence, so rarely-updated users keep adapting.
	ConfidenceThreshold = 0.6

	// Topic and format weights blend rating against engagement.
	ratingShare     = 0.6
	engagementShare = 0.4

	// Preference writes are serialized per user through a version-checked
	// read-modify-write loop; EMA updates do not commute.
	maxWriteRetries = 3
)

// Engine owns the UserPreferences lifecycle. No other component writes
// preference records.
type Engine struct {
	store   store.Store
	logger  *zap.Logger
	metrics *observability.Metrics
	cache   *ristretto.Cache
	now     func() time.Time
}

// NewEngine builds a preference engine over the given store. logger and
// metrics may be nil.
func NewEngine(s store.Store, logger *zap.Logger, metrics *observability.Metrics) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("preference cache: %w", err)
	}
	return &Engine{store: s, logger: logger, metrics: metrics, cache: cache, now: time.Now}, nil
}

// Get returns the user's stored preferences, or the neutral default when
// none exist. On a store failure it returns the default alongside the
// error so callers can degrade instead of blocking the task.
func (e *Engine) Get(ctx context.Context, userID string) (model.UserPreferences, error) {
	if v, ok := e.cache.Get(userID); ok {
		return v.(model.UserPreferences).Clone(), nil
	}

	stored, err := e.store.GetPreferences(ctx, userID)
	if err != nil {
		return model.DefaultPreferences(userID), err
	}
	if stored == nil {
		return model.DefaultPreferences(userID), nil
	}

	e.cache.Set(userID, stored.Clone(), 1)
	return stored.Clone(), nil
}

// Learn recomputes preferences from a full feedback history. Below
// MinSamplesForLearning it returns the current preferences untouched;
// a cold start is not an error.
func (e *Engine) Learn(ctx context.Context, userID string, records []model.FeedbackRecord) (model.UserPreferences, error) {
	current, err := e.Get(ctx, userID)
	if err != nil {
		return current, err
	}
	if len(records) < model.MinSamplesForLearning {
		return current, nil
	}

	learned := current.Clone()
	learned.TopicWeights = mentionWeights(records, func(r model.FeedbackRecord) []string { return r.Topics })
	learned.FormatWeights = mentionWeights(records, func(r model.FeedbackRecord) []string { return r.Formats })

	// Style comes only from output the user actually liked.
	positives := positiveRecords(records)
	if len(positives) > 0 {
		learned.ContentStyle = styleFromSnapshots(positives)
		learned.QualityThreshold = qualityFloor(positives, current.QualityThreshold)
		learned.CitationPreference = majorityCited(positives)
	}

	if len(records) > learned.SampleCount {
		learned.SampleCount = len(records)
	}
	learned.LastUpdatedAt = e.now().UTC()

	out, err := e.write(ctx, userID, func(stored model.UserPreferences) model.UserPreferences {
		result := learned.Clone()
		result.Version = stored.Version
		if stored.SampleCount > result.SampleCount {
			result.SampleCount = stored.SampleCount
		}
		return result
	})
	if err != nil {
		return current, err
	}
	e.metrics.ObservePreferenceUpdate("learn")
	return out, nil
}

// Update folds one feedback record into the stored preferences with an
// exponential moving average, avoiding a full-history recompute.
func (e *Engine) Update(ctx context.Context, userID string, rec model.FeedbackRecord) (model.UserPreferences, error) {
	if err := rec.Validate(); err != nil {
		return model.DefaultPreferences(userID), err
	}

	out, err := e.write(ctx, userID, func(stored model.UserPreferences) model.UserPreferences {
		return e.fold(stored, rec)
	})
	if err != nil {
		return model.DefaultPreferences(userID), err
	}
	e.metrics.ObservePreferenceUpdate("update")
	return out, nil
}

// write runs a version-checked read-modify-write loop. mutate receives
// the freshly read record and must return the full replacement.
func (e *Engine) write(ctx context.Context, userID string, mutate func(model.UserPreferences) model.UserPreferences) (model.UserPreferences, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		stored, err := e.store.GetPreferences(ctx, userID)
		if err != nil {
			return model.UserPreferences{}, err
		}
		base := model.DefaultPreferences(userID)
		if stored != nil {
			base = stored.Clone()
		}

		next := mutate(base)
		next.UserID = userID
		next.Version = base.Version

		if err := e.store.PutPreferences(ctx, next); err != nil {
			if err == store.ErrVersionConflict {
				lastErr = err
				continue
			}
			return model.UserPreferences{}, err
		}

		next.Version = base.Version + 1
		e.cache.Del(userID)
		e.cache.Set(userID, next.Clone(), 1)
		return next, nil
	}
	return model.UserPreferences{}, fmt.Errorf("preferences for %s kept changing: %w", userID, lastErr)
}

// fold applies one EMA step. Low-confidence signals are not dropped; their
// weight is scaled by the confidence so sparse feedback still moves the
// needle, just slowly.
func (e *Engine) fold(current model.UserPreferences, rec model.FeedbackRecord) model.UserPreferences {
	w := RecencyWeight
	conf := signalConfidence(rec)
	if conf < ConfidenceThreshold {
		w *= conf
	}

	out := current.Clone()
	observed := ratingShare*rec.RatingScore() + engagementShare*engagementScore(rec)

	for _, topic := range rec.Topics {
		out.TopicWeights[topic] = ema(out.TopicWeights[topic], observed, w)
	}
	for _, format := range rec.Formats {
		out.FormatWeights[format] = ema(out.FormatWeights[format], observed, w)
	}

	if rec.Positive() && rec.ContentSnapshot != "" {
		out.ContentStyle.Formality = ema(out.ContentStyle.Formality, snapshotFormality(rec.ContentSnapshot), w)
		if tone := snapshotTone(rec.ContentSnapshot); tone != "" {
			out.ContentStyle.Tone = tone
		}
		out.ContentStyle.Length = lengthBucket(len(rec.ContentSnapshot))
	}
	if rec.Positive() && rec.Confidence > 0 {
		out.QualityThreshold = clampQuality(ema(out.QualityThreshold, rec.Confidence, w))
	}
	if rec.Positive() {
		out.CitationPreference = rec.HadCitations
	}

	out.SampleCount++
	out.LastUpdatedAt = e.now().UTC()
	return out
}

// Apply returns a copy of task rewritten by the preferences. The input
// task is never mutated.
func Apply(task model.Task, prefs model.UserPreferences) model.Task {
	out := task.Clone()

	out.Tone = prefs.ContentStyle.Tone
	out.Formality = prefs.ContentStyle.Formality
	out.Length = prefs.ContentStyle.Length

	// Preference weights blend half-and-half with whatever the task
	// already asked for; topics the user has no opinion on pass through.
	for topic, taskWeight := range out.TopicWeights {
		if prefWeight, ok := prefs.TopicWeights[topic]; ok {
			out.TopicWeights[topic] = (taskWeight + prefWeight) / 2
		}
	}
	for format, taskWeight := range out.FormatWeights {
		if prefWeight, ok := prefs.FormatWeights[format]; ok {
			out.FormatWeights[format] = (taskWeight + prefWeight) / 2
		}
	}

	if prefs.QualityThreshold > out.QualityThreshold {
		out.QualityThreshold = prefs.QualityThreshold
	}
	out.RequireCitations = prefs.CitationPreference
	return out
}

func ema(old, observed, w float64) float64 {
	return old*(1-w) + observed*w
}

// signalConfidence estimates how unambiguous one feedback record is:
// extreme ratings are clear signals, mid-scale ratings without engagement
// data are not.
func signalConfidence(rec model.FeedbackRecord) float64 {
	extremity := math.Abs(rec.RatingScore()-0.5) * 2
	conf := 0.7 * extremity
	if rec.Engagement != nil {
		conf += 0.3
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func engagementScore(rec model.FeedbackRecord) float64 {
	if rec.Engagement == nil {
		return 0
	}
	dwell := math.Min(rec.Engagement.DwellSeconds/300, 1)
	actions := math.Min(float64(rec.Engagement.Shares+rec.Engagement.Saves), 5) / 5
	return 0.5*dwell + 0.5*actions
}

// mentionWeights averages the blended rating/engagement score across all
// records mentioning each topic or format. Scores land in [0,1] by
// construction.
func mentionWeights(records []model.FeedbackRecord, mentions func(model.FeedbackRecord) []string) map[string]float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, r := range records {
		observed := ratingShare*r.RatingScore() + engagementShare*engagementScore(r)
		for _, name := range mentions(r) {
			sums[name] += observed
			counts[name]++
		}
	}

	weights := make(map[string]float64, len(sums))
	for name, sum := range sums {
		weights[name] = sum / float64(counts[name])
	}
	return weights
}

func positiveRecords(records []model.FeedbackRecord) []model.FeedbackRecord {
	var out []model.FeedbackRecord
	for _, r := range records {
		if r.Positive() {
			out = append(out, r)
		}
	}
	return out
}

// qualityFloor takes the lowest confidence the user still rated
// positively as the minimum acceptable confidence going forward.
func qualityFloor(positives []model.FeedbackRecord, fallback float64) float64 {
	floor := math.Inf(1)
	for _, r := range positives {
		if r.Confidence > 0 && r.Confidence < floor {
			floor = r.Confidence
		}
	}
	if math.IsInf(floor, 1) {
		return fallback
	}
	return clampQuality(floor)
}

func clampQuality(v float64) float64 {
	if v < 0.3 {
		return 0.3
	}
	if v > 0.95 {
		return 0.95
	}
	return v
}

func majorityCited(positives []model.FeedbackRecord) bool {
	cited := 0
	for _, r := range positives {
		if r.HadCitations {
			cited++
		}
	}
	return cited*2 > len(positives)
}
