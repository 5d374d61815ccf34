package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/strandlabs/strand-memory/internal/model"
)

// SQLiteStore implements Store on an embedded SQLite database. It is the
// default backend for single-process deployments and tests.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id               TEXT PRIMARY KEY,
		owner_id         TEXT NOT NULL,
		type             TEXT NOT NULL,
		content          TEXT NOT NULL,
		tags             TEXT,
		importance       REAL NOT NULL DEFAULT 0.5,
		access_count     INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL,
		last_accessed_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_owner_created ON entries(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_owner_type ON entries(owner_id, type);

	CREATE TABLE IF NOT EXISTS consolidated (
		id           TEXT PRIMARY KEY,
		owner_id     TEXT NOT NULL,
		type         TEXT NOT NULL,
		summary      TEXT NOT NULL,
		source_ids   TEXT NOT NULL,
		tags         TEXT,
		period_start TEXT NOT NULL,
		period_end   TEXT NOT NULL,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_consolidated_owner ON consolidated(owner_id, created_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		task_id          TEXT NOT NULL,
		strand_id        TEXT,
		rating           INTEGER NOT NULL,
		edit_distance    REAL,
		engagement       TEXT,
		confidence       REAL NOT NULL DEFAULT 0,
		had_citations    INTEGER NOT NULL DEFAULT 0,
		topics           TEXT,
		formats          TEXT,
		content_snapshot TEXT,
		created_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_user_created ON feedback(user_id, created_at);

	CREATE TABLE IF NOT EXISTS preferences (
		user_id           TEXT PRIMARY KEY,
		tone              TEXT NOT NULL,
		formality         REAL NOT NULL,
		length            TEXT NOT NULL,
		topic_weights     TEXT,
		format_weights    TEXT,
		quality_threshold REAL NOT NULL,
		citations         INTEGER NOT NULL DEFAULT 0,
		sample_count      INTEGER NOT NULL DEFAULT 0,
		version           INTEGER NOT NULL DEFAULT 1,
		updated_at        TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// sqliteTimeLayout pads nanoseconds to fixed width so lexicographic
// comparison on the text column matches chronological order. RFC3339Nano
// trims trailing zeros, which breaks ordering within a second.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func newEntryID() string { return ulid.Make().String() }

func (s *SQLiteStore) Persist(ctx context.Context, ownerID string, entries []model.MemoryEntry) (*BatchResult, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return nil, storageErr("persist", err)
	}

	now := time.Now().UTC()
	result := &BatchResult{}
	for i := range entries {
		e := entries[i]
		if e.ID == "" {
			e.ID = newEntryID()
		}
		if e.OwnerID == "" {
			e.OwnerID = ownerID
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.LastAccessedAt.IsZero() {
			e.LastAccessedAt = e.CreatedAt
		}

		if e.OwnerID != ownerID {
			result.Failed = append(result.Failed, EntryFailure{
				EntryID: e.ID,
				Err:     &model.ValidationError{Field: "owner_id", Reason: "does not match batch owner"},
				Reason:  "owner mismatch",
			})
			continue
		}
		if err := e.Validate(); err != nil {
			result.Failed = append(result.Failed, EntryFailure{EntryID: e.ID, Err: err, Reason: err.Error()})
			continue
		}

		_, err := s.db.ExecContext(ctx,
			`INSERT INTO entries (id, owner_id, type, content, tags, importance, access_count, created_at, last_accessed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.OwnerID, string(e.Type), e.Content, tagsJSON(e.Tags), e.Importance, e.AccessCount,
			e.CreatedAt.Format(sqliteTimeLayout), e.LastAccessedAt.Format(sqliteTimeLayout))
		if err != nil {
			s.logger.Warn("persist entry failed", zap.String("entry_id", e.ID), zap.Error(err))
			result.Failed = append(result.Failed, EntryFailure{EntryID: e.ID, Err: err, Reason: err.Error()})
			continue
		}
		result.Written = append(result.Written, e.ID)
	}
	return result, nil
}

func (s *SQLiteStore) Retrieve(ctx context.Context, ownerID string, f Filters) ([]model.MemoryEntry, error) {
	where := []string{"owner_id = ?"}
	args := []interface{}{ownerID}

	if len(f.Types) > 0 {
		ph := make([]string, len(f.Types))
		for i, t := range f.Types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "type IN ("+strings.Join(ph, ", ")+")")
	}
	for _, tag := range f.Tags {
		where = append(where, "tags LIKE ?")
		args = append(args, "%\""+tag+"\"%")
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(sqliteTimeLayout))
	}
	if !f.Until.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, f.Until.UTC().Format(sqliteTimeLayout))
	}

	query := `SELECT id, owner_id, type, content, tags, importance, access_count, created_at, last_accessed_at
	          FROM entries WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("retrieve", err)
	}
	defer rows.Close()

	entries := []model.MemoryEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			// Partial result over total failure: one bad row must not
			// abort the whole read.
			s.logger.Warn("skipping malformed entry row", zap.String("owner_id", ownerID), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("retrieve", err)
	}
	return entries, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, ownerID string, entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	args := []interface{}{ownerID}
	ph := make([]string, len(entryIDs))
	for i, id := range entryIDs {
		ph[i] = "?"
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE owner_id = ? AND id IN (`+strings.Join(ph, ", ")+`)`, args...)
	if err != nil {
		return storageErr("delete", err)
	}
	return nil
}

func (s *SQLiteStore) RecordAccess(ctx context.Context, ownerID string, entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(sqliteTimeLayout)
	args := []interface{}{now, ownerID}
	ph := make([]string, len(entryIDs))
	for i, id := range entryIDs {
		ph[i] = "?"
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE entries SET access_count = access_count + 1, last_accessed_at = ?
		 WHERE owner_id = ? AND id IN (`+strings.Join(ph, ", ")+`)`, args...)
	if err != nil {
		return storageErr("record access", err)
	}
	return nil
}

func (s *SQLiteStore) MaxAccessCount(ctx context.Context, ownerID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(access_count), 0) FROM entries WHERE owner_id = ?`, ownerID).Scan(&max)
	if err != nil {
		return 0, storageErr("max access count", err)
	}
	return max, nil
}

func (s *SQLiteStore) PutConsolidated(ctx context.Context, cm model.ConsolidatedMemory) error {
	if cm.ID == "" {
		cm.ID = newEntryID()
	}
	if cm.CreatedAt.IsZero() {
		cm.CreatedAt = time.Now().UTC()
	}
	sourceIDs, _ := json.Marshal(cm.SourceIDs)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consolidated (id, owner_id, type, summary, source_ids, tags, period_start, period_end, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cm.ID, cm.OwnerID, string(cm.Type), cm.Summary, string(sourceIDs), tagsJSON(cm.RepresentativeTags),
		cm.PeriodStart.UTC().Format(sqliteTimeLayout), cm.PeriodEnd.UTC().Format(sqliteTimeLayout),
		cm.CreatedAt.Format(sqliteTimeLayout))
	if err != nil {
		return storageErr("put consolidated", err)
	}
	return nil
}

func (s *SQLiteStore) ListConsolidated(ctx context.Context, ownerID string) ([]model.ConsolidatedMemory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, type, summary, source_ids, tags, period_start, period_end, created_at
		 FROM consolidated WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, storageErr("list consolidated", err)
	}
	defer rows.Close()

	var out []model.ConsolidatedMemory
	for rows.Next() {
		var cm model.ConsolidatedMemory
		var typ, sourceIDs, periodStart, periodEnd, createdAt string
		var tags sql.NullString
		if err := rows.Scan(&cm.ID, &cm.OwnerID, &typ, &cm.Summary, &sourceIDs, &tags, &periodStart, &periodEnd, &createdAt); err != nil {
			s.logger.Warn("skipping malformed consolidated row", zap.String("owner_id", ownerID), zap.Error(err))
			continue
		}
		cm.Type = model.MemoryType(typ)
		json.Unmarshal([]byte(sourceIDs), &cm.SourceIDs)
		if tags.Valid {
			json.Unmarshal([]byte(tags.String), &cm.RepresentativeTags)
		}
		cm.PeriodStart, _ = time.Parse(time.RFC3339Nano, periodStart)
		cm.PeriodEnd, _ = time.Parse(time.RFC3339Nano, periodEnd)
		cm.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, cm)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list consolidated", err)
	}
	return out, nil
}

func (s *SQLiteStore) AppendFeedback(ctx context.Context, rec model.FeedbackRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var engagement interface{}
	if rec.Engagement != nil {
		b, _ := json.Marshal(rec.Engagement)
		engagement = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, user_id, task_id, strand_id, rating, edit_distance, engagement,
		                       confidence, had_citations, topics, formats, content_snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.TaskID, rec.StrandID, rec.Rating, rec.EditDistance, engagement,
		rec.Confidence, boolInt(rec.HadCitations), tagsJSON(rec.Topics), tagsJSON(rec.Formats),
		rec.ContentSnapshot, rec.CreatedAt.Format(sqliteTimeLayout))
	if err != nil {
		return storageErr("append feedback", err)
	}
	return nil
}

func (s *SQLiteStore) ListFeedback(ctx context.Context, userID string, limit int) ([]model.FeedbackRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, task_id, strand_id, rating, edit_distance, engagement,
		        confidence, had_citations, topics, formats, content_snapshot, created_at
		 FROM feedback WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, storageErr("list feedback", err)
	}
	defer rows.Close()

	records := []model.FeedbackRecord{}
	for rows.Next() {
		var r model.FeedbackRecord
		var strandID, engagement, topics, formats, snapshot sql.NullString
		var editDistance sql.NullFloat64
		var hadCitations int
		var createdAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.TaskID, &strandID, &r.Rating, &editDistance, &engagement,
			&r.Confidence, &hadCitations, &topics, &formats, &snapshot, &createdAt); err != nil {
			s.logger.Warn("skipping malformed feedback row", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		r.StrandID = strandID.String
		if editDistance.Valid {
			r.EditDistance = editDistance.Float64
		}
		if engagement.Valid {
			var em model.EngagementMetrics
			if json.Unmarshal([]byte(engagement.String), &em) == nil {
				r.Engagement = &em
			}
		}
		r.HadCitations = hadCitations != 0
		if topics.Valid {
			json.Unmarshal([]byte(topics.String), &r.Topics)
		}
		if formats.Valid {
			json.Unmarshal([]byte(formats.String), &r.Formats)
		}
		r.ContentSnapshot = snapshot.String
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list feedback", err)
	}
	return records, nil
}

func (s *SQLiteStore) GetPreferences(ctx context.Context, userID string) (*model.UserPreferences, error) {
	var p model.UserPreferences
	var topicWeights, formatWeights sql.NullString
	var citations int
	var updatedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, tone, formality, length, topic_weights, format_weights,
		        quality_threshold, citations, sample_count, version, updated_at
		 FROM preferences WHERE user_id = ?`, userID).Scan(
		&p.UserID, &p.ContentStyle.Tone, &p.ContentStyle.Formality, &p.ContentStyle.Length,
		&topicWeights, &formatWeights, &p.QualityThreshold, &citations, &p.SampleCount, &p.Version, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get preferences", err)
	}

	p.CitationPreference = citations != 0
	p.TopicWeights = map[string]float64{}
	p.FormatWeights = map[string]float64{}
	if topicWeights.Valid {
		json.Unmarshal([]byte(topicWeights.String), &p.TopicWeights)
	}
	if formatWeights.Valid {
		json.Unmarshal([]byte(formatWeights.String), &p.FormatWeights)
	}
	p.LastUpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &p, nil
}

func (s *SQLiteStore) PutPreferences(ctx context.Context, prefs model.UserPreferences) error {
	topicWeights, _ := json.Marshal(prefs.TopicWeights)
	formatWeights, _ := json.Marshal(prefs.FormatWeights)
	if prefs.LastUpdatedAt.IsZero() {
		prefs.LastUpdatedAt = time.Now().UTC()
	}
	updatedAt := prefs.LastUpdatedAt.Format(sqliteTimeLayout)

	if prefs.Version == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO preferences (user_id, tone, formality, length, topic_weights, format_weights,
			                          quality_threshold, citations, sample_count, version, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			prefs.UserID, prefs.ContentStyle.Tone, prefs.ContentStyle.Formality, prefs.ContentStyle.Length,
			string(topicWeights), string(formatWeights), prefs.QualityThreshold,
			boolInt(prefs.CitationPreference), prefs.SampleCount, updatedAt)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "constraint") {
				return ErrVersionConflict
			}
			return storageErr("put preferences", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE preferences
		 SET tone = ?, formality = ?, length = ?, topic_weights = ?, format_weights = ?,
		     quality_threshold = ?, citations = ?, sample_count = ?, version = version + 1, updated_at = ?
		 WHERE user_id = ? AND version = ?`,
		prefs.ContentStyle.Tone, prefs.ContentStyle.Formality, prefs.ContentStyle.Length,
		string(topicWeights), string(formatWeights), prefs.QualityThreshold,
		boolInt(prefs.CitationPreference), prefs.SampleCount, updatedAt,
		prefs.UserID, prefs.Version)
	if err != nil {
		return storageErr("put preferences", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("put preferences", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&st.TotalEntries)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consolidated`).Scan(&st.Consolidated)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&st.FeedbackRecords)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM preferences`).Scan(&st.PreferenceUsers)

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.owner_id, COUNT(*) AS cnt,
		       (SELECT COUNT(*) FROM consolidated c WHERE c.owner_id = e.owner_id)
		FROM entries e GROUP BY e.owner_id ORDER BY cnt DESC`)
	if err != nil {
		return st, storageErr("stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o OwnerStats
		rows.Scan(&o.OwnerID, &o.Entries, &o.Consolidated)
		st.Owners = append(st.Owners, o)
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (model.MemoryEntry, error) {
	var e model.MemoryEntry
	var typ string
	var tags sql.NullString
	var createdAt, lastAccessedAt string

	err := row.Scan(&e.ID, &e.OwnerID, &typ, &e.Content, &tags, &e.Importance, &e.AccessCount, &createdAt, &lastAccessedAt)
	if err != nil {
		return e, err
	}

	e.Type = model.MemoryType(typ)
	if !e.Type.Valid() {
		return e, fmt.Errorf("unknown memory type %q in row %s", typ, e.ID)
	}
	if tags.Valid {
		json.Unmarshal([]byte(tags.String), &e.Tags)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return e, fmt.Errorf("bad created_at in row %s: %w", e.ID, err)
	}
	if e.LastAccessedAt, err = time.Parse(time.RFC3339Nano, lastAccessedAt); err != nil {
		return e, fmt.Errorf("bad last_accessed_at in row %s: %w", e.ID, err)
	}
	return e, nil
}

func tagsJSON(tags []string) interface{} {
	if len(tags) == 0 {
		return nil
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
