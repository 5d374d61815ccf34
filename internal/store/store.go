// Package store provides durable persistence for memory entries, feedback
// records and user preferences, plus the consolidation pass that compacts
// aged entries. SQLite and PostgreSQL backends implement the same contract.
package store

import (
	"context"
	"time"

	"github.com/strandlabs/strand-memory/internal/model"
)

// Filters narrows a Retrieve call. Zero values mean "no constraint".
type Filters struct {
	Types []model.MemoryType
	Tags  []string
	Since time.Time // entries created at or after
	Until time.Time // entries created strictly before
	Limit int
}

// EntryFailure reports one entry of a batch that could not be written.
type EntryFailure struct {
	EntryID string `json:"entry_id"`
	Err     error  `json:"-"`
	Reason  string `json:"reason"`
}

// BatchResult reports a Persist call per entry, so callers can retry just
// the failed subset instead of replaying the whole batch.
type BatchResult struct {
	Written []string       `json:"written"`
	Failed  []EntryFailure `json:"failed,omitempty"`
}

// ConsolidationReport summarizes one consolidation pass.
type ConsolidationReport struct {
	OwnerID        string                     `json:"owner_id"`
	Examined       int                        `json:"examined"`
	Groups         int                        `json:"groups"`
	Consolidated   []model.ConsolidatedMemory `json:"consolidated,omitempty"`
	SourcesDeleted int                        `json:"sources_deleted"`
	DeleteFailures int                        `json:"delete_failures"`
	Skipped        int                        `json:"skipped"`
}

// OwnerStats holds per-owner entry counts.
type OwnerStats struct {
	OwnerID      string `json:"owner_id"`
	Entries      int    `json:"entries"`
	Consolidated int    `json:"consolidated"`
}

// Stats holds store-wide counts.
type Stats struct {
	TotalEntries    int          `json:"total_entries"`
	Consolidated    int          `json:"consolidated"`
	FeedbackRecords int          `json:"feedback_records"`
	PreferenceUsers int          `json:"preference_users"`
	Owners          []OwnerStats `json:"owners,omitempty"`
}

// Store is the persistence boundary. Absence is never an error: Retrieve
// returns an empty slice when nothing matches and GetPreferences returns
// nil when the user has no record. Only backend failures surface as errors,
// wrapped in *StorageError; callers retry those with backoff.
type Store interface {
	// Persist writes each entry, reporting per-entry failures in the
	// result. The error is non-nil only when the store itself is
	// unreachable.
	Persist(ctx context.Context, ownerID string, entries []model.MemoryEntry) (*BatchResult, error)

	// Retrieve returns entries matching the filters in no guaranteed
	// order; ranking is the caller's concern. Malformed rows are skipped
	// and logged rather than aborting the read.
	Retrieve(ctx context.Context, ownerID string, f Filters) ([]model.MemoryEntry, error)

	// Delete hard-deletes entries, for explicit user-initiated clearing.
	Delete(ctx context.Context, ownerID string, entryIDs []string) error

	// RecordAccess bumps access counts and last-access times for entries
	// that were served to a task.
	RecordAccess(ctx context.Context, ownerID string, entryIDs []string) error

	// MaxAccessCount returns the owner's highest observed access count,
	// used to normalize access frequency during scoring.
	MaxAccessCount(ctx context.Context, ownerID string) (int, error)

	// PutConsolidated durably writes a consolidated record. Sources are
	// deleted only after this returns nil.
	PutConsolidated(ctx context.Context, cm model.ConsolidatedMemory) error

	// ListConsolidated returns the owner's consolidated records, newest
	// first.
	ListConsolidated(ctx context.Context, ownerID string) ([]model.ConsolidatedMemory, error)

	// AppendFeedback appends one feedback record. Records are append-only.
	AppendFeedback(ctx context.Context, rec model.FeedbackRecord) error

	// ListFeedback returns the user's feedback records, newest first.
	ListFeedback(ctx context.Context, userID string, limit int) ([]model.FeedbackRecord, error)

	// GetPreferences returns the stored preferences, or nil when the user
	// has none yet.
	GetPreferences(ctx context.Context, userID string) (*model.UserPreferences, error)

	// PutPreferences writes prefs conditionally on prefs.Version matching
	// the stored version (0 for a new record), storing Version+1. A lost
	// race returns ErrVersionConflict.
	PutPreferences(ctx context.Context, prefs model.UserPreferences) error

	// Stats returns store-wide counts.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}
