// Package model defines the core memory and preference data types.
package model

import (
	"fmt"
	"time"
)

// MemoryType classifies what a memory entry holds. The set is closed:
// per-type behavior (decay half-life, type priority) switches exhaustively
// on it, so adding a type is a compile-time-visible change.
type MemoryType string

const (
	TypeTask      MemoryType = "task"
	TypeContext   MemoryType = "context"
	TypeKnowledge MemoryType = "knowledge"
	TypeFeedback  MemoryType = "feedback"
	TypePattern   MemoryType = "pattern"
)

// Types lists all valid memory types.
var Types = []MemoryType{TypeTask, TypeContext, TypeKnowledge, TypeFeedback, TypePattern}

// Valid reports whether t is one of the closed set of memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeTask, TypeContext, TypeKnowledge, TypeFeedback, TypePattern:
		return true
	}
	return false
}

// MemoryEntry is an atomic unit of retained information for one owner
// (a strand instance bound to a user).
//
// Importance is caller-supplied at creation and immutable afterwards;
// importance drift is modeled through access tracking and recency decay,
// never by mutating this field. AccessCount only increases, and
// LastAccessedAt is never earlier than CreatedAt.
type MemoryEntry struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	Type           MemoryType `json:"type"`
	Content        string     `json:"content"`
	Tags           []string   `json:"tags,omitempty"`
	Importance     float64    `json:"importance"`
	AccessCount    int        `json:"access_count"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
}

// Validate checks an entry before it is written. It never mutates the entry.
func (e *MemoryEntry) Validate() error {
	if e.OwnerID == "" {
		return &ValidationError{Field: "owner_id", Reason: "must not be empty"}
	}
	if !e.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown memory type %q", e.Type)}
	}
	if e.Content == "" {
		return &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if e.Importance < 0 || e.Importance > 1 {
		return &ValidationError{Field: "importance", Reason: "must be in [0,1]"}
	}
	if e.AccessCount < 0 {
		return &ValidationError{Field: "access_count", Reason: "must be >= 0"}
	}
	if !e.LastAccessedAt.IsZero() && !e.CreatedAt.IsZero() && e.LastAccessedAt.Before(e.CreatedAt) {
		return &ValidationError{Field: "last_accessed_at", Reason: "must not precede created_at"}
	}
	return nil
}

// KeyInsightThreshold marks entries whose content must survive consolidation
// verbatim: anything at or above this importance carries a key insight.
const KeyInsightThreshold = 0.8

// ConsolidatedMemory is a derived summary replacing a group of aged entries
// of the same type created within the same ISO week for the same owner.
// SourceIDs keeps the subsumed entry IDs for auditability and for skipping
// already-consolidated entries on a later pass.
type ConsolidatedMemory struct {
	ID                 string     `json:"id"`
	OwnerID            string     `json:"owner_id"`
	Type               MemoryType `json:"type"`
	SourceIDs          []string   `json:"source_ids"`
	Summary            string     `json:"summary"`
	RepresentativeTags []string   `json:"representative_tags,omitempty"`
	PeriodStart        time.Time  `json:"period_start"`
	PeriodEnd          time.Time  `json:"period_end"`
	CreatedAt          time.Time  `json:"created_at"`
}

// ValidationError rejects malformed input before any write. No partial
// state is ever produced by a validation failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
