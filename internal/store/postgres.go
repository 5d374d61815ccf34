package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/strandlabs/strand-memory/internal/model"
)

// PostgresStore implements Store on PostgreSQL, for deployments where
// multiple strands of the same user share one durable partition.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id               TEXT PRIMARY KEY,
			owner_id         TEXT NOT NULL,
			type             TEXT NOT NULL,
			content          TEXT NOT NULL,
			tags             JSONB,
			importance       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			access_count     INTEGER NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL,
			last_accessed_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_entries_owner_created ON entries (owner_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_entries_owner_type ON entries (owner_id, type);`,
		`CREATE TABLE IF NOT EXISTS consolidated (
			id           TEXT PRIMARY KEY,
			owner_id     TEXT NOT NULL,
			type         TEXT NOT NULL,
			summary      TEXT NOT NULL,
			source_ids   JSONB NOT NULL,
			tags         JSONB,
			period_start TIMESTAMPTZ NOT NULL,
			period_end   TIMESTAMPTZ NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_consolidated_owner ON consolidated (owner_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS feedback (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			task_id          TEXT NOT NULL,
			strand_id        TEXT,
			rating           INTEGER NOT NULL,
			edit_distance    DOUBLE PRECISION,
			engagement       JSONB,
			confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
			had_citations    BOOLEAN NOT NULL DEFAULT FALSE,
			topics           JSONB,
			formats          JSONB,
			content_snapshot TEXT,
			created_at       TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_user_created ON feedback (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS preferences (
			user_id           TEXT PRIMARY KEY,
			tone              TEXT NOT NULL,
			formality         DOUBLE PRECISION NOT NULL,
			length            TEXT NOT NULL,
			topic_weights     JSONB,
			format_weights    JSONB,
			quality_threshold DOUBLE PRECISION NOT NULL,
			citations         BOOLEAN NOT NULL DEFAULT FALSE,
			sample_count      INTEGER NOT NULL DEFAULT 0,
			version           INTEGER NOT NULL DEFAULT 1,
			updated_at        TIMESTAMPTZ NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Persist(ctx context.Context, ownerID string, entries []model.MemoryEntry) (*BatchResult, error) {
	if err := s.pool.Ping(ctx); err != nil {
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

		_, err := s.pool.Exec(ctx,
			`INSERT INTO entries (id, owner_id, type, content, tags, importance, access_count, created_at, last_accessed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, e.OwnerID, string(e.Type), e.Content, tagsJSON(e.Tags), e.Importance, e.AccessCount,
			e.CreatedAt, e.LastAccessedAt)
		if err != nil {
			s.logger.Warn("persist entry failed", zap.String("entry_id", e.ID), zap.Error(err))
			result.Failed = append(result.Failed, EntryFailure{EntryID: e.ID, Err: err, Reason: err.Error()})
			continue
		}
		result.Written = append(result.Written, e.ID)
	}
	return result, nil
}

func (s *PostgresStore) Retrieve(ctx context.Context, ownerID string, f Filters) ([]model.MemoryEntry, error) {
	where := []string{"owner_id = $1"}
	args := []interface{}{ownerID}

	if len(f.Types) > 0 {
		ph := make([]string, len(f.Types))
		for i, t := range f.Types {
			args = append(args, string(t))
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "type IN ("+strings.Join(ph, ", ")+")")
	}
	for _, tag := range f.Tags {
		args = append(args, tag)
		where = append(where, fmt.Sprintf("tags ? $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since.UTC())
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until.UTC())
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `SELECT id, owner_id, type, content, tags, importance, access_count, created_at, last_accessed_at
	          FROM entries WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("retrieve", err)
	}
	defer rows.Close()

	entries := []model.MemoryEntry{}
	for rows.Next() {
		var e model.MemoryEntry
		var typ string
		var tags []byte
		if err := rows.Scan(&e.ID, &e.OwnerID, &typ, &e.Content, &tags, &e.Importance, &e.AccessCount,
			&e.CreatedAt, &e.LastAccessedAt); err != nil {
			s.logger.Warn("skipping malformed entry row", zap.String("owner_id", ownerID), zap.Error(err))
			continue
		}
		e.Type = model.MemoryType(typ)
		if !e.Type.Valid() {
			s.logger.Warn("skipping entry with unknown type", zap.String("entry_id", e.ID), zap.String("type", typ))
			continue
		}
		if tags != nil {
			json.Unmarshal(tags, &e.Tags)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("retrieve", err)
	}
	return entries, nil
}

func (s *PostgresStore) Delete(ctx context.Context, ownerID string, entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM entries WHERE owner_id = $1 AND id = ANY($2)`, ownerID, entryIDs)
	if err != nil {
		return storageErr("delete", err)
	}
	return nil
}

func (s *PostgresStore) RecordAccess(ctx context.Context, ownerID string, entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE entries SET access_count = access_count + 1, last_accessed_at = now()
		 WHERE owner_id = $1 AND id = ANY($2)`, ownerID, entryIDs)
	if err != nil {
		return storageErr("record access", err)
	}
	return nil
}

func (s *PostgresStore) MaxAccessCount(ctx context.Context, ownerID string) (int, error) {
	var max int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(access_count), 0) FROM entries WHERE owner_id = $1`, ownerID).Scan(&max)
	if err != nil {
		return 0, storageErr("max access count", err)
	}
	return max, nil
}

func (s *PostgresStore) PutConsolidated(ctx context.Context, cm model.ConsolidatedMemory) error {
	if cm.ID == "" {
		cm.ID = newEntryID()
	}
	if cm.CreatedAt.IsZero() {
		cm.CreatedAt = time.Now().UTC()
	}
	sourceIDs, _ := json.Marshal(cm.SourceIDs)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO consolidated (id, owner_id, type, summary, source_ids, tags, period_start, period_end, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cm.ID, cm.OwnerID, string(cm.Type), cm.Summary, string(sourceIDs), tagsJSON(cm.RepresentativeTags),
		cm.PeriodStart.UTC(), cm.PeriodEnd.UTC(), cm.CreatedAt)
	if err != nil {
		return storageErr("put consolidated", err)
	}
	return nil
}

func (s *PostgresStore) ListConsolidated(ctx context.Context, ownerID string) ([]model.ConsolidatedMemory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, type, summary, source_ids, tags, period_start, period_end, created_at
		 FROM consolidated WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, storageErr("list consolidated", err)
	}
	defer rows.Close()

	var out []model.ConsolidatedMemory
	for rows.Next() {
		var cm model.ConsolidatedMemory
		var typ string
		var sourceIDs, tags []byte
		if err := rows.Scan(&cm.ID, &cm.OwnerID, &typ, &cm.Summary, &sourceIDs, &tags,
			&cm.PeriodStart, &cm.PeriodEnd, &cm.CreatedAt); err != nil {
			s.logger.Warn("skipping malformed consolidated row", zap.String("owner_id", ownerID), zap.Error(err))
			continue
		}
		cm.Type = model.MemoryType(typ)
		json.Unmarshal(sourceIDs, &cm.SourceIDs)
		if tags != nil {
			json.Unmarshal(tags, &cm.RepresentativeTags)
		}
		out = append(out, cm)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list consolidated", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendFeedback(ctx context.Context, rec model.FeedbackRecord) error {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO feedback (id, user_id, task_id, strand_id, rating, edit_distance, engagement,
		                       confidence, had_citations, topics, formats, content_snapshot, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.UserID, rec.TaskID, rec.StrandID, rec.Rating, rec.EditDistance, engagement,
		rec.Confidence, rec.HadCitations, tagsJSON(rec.Topics), tagsJSON(rec.Formats),
		rec.ContentSnapshot, rec.CreatedAt)
	if err != nil {
		return storageErr("append feedback", err)
	}
	return nil
}

func (s *PostgresStore) ListFeedback(ctx context.Context, userID string, limit int) ([]model.FeedbackRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, task_id, strand_id, rating, edit_distance, engagement,
		        confidence, had_citations, topics, formats, content_snapshot, created_at
		 FROM feedback WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, storageErr("list feedback", err)
	}
	defer rows.Close()

	records := []model.FeedbackRecord{}
	for rows.Next() {
		var r model.FeedbackRecord
		var strandID, snapshot *string
		var editDistance *float64
		var engagement, topics, formats []byte
		if err := rows.Scan(&r.ID, &r.UserID, &r.TaskID, &strandID, &r.Rating, &editDistance, &engagement,
			&r.Confidence, &r.HadCitations, &topics, &formats, &snapshot, &r.CreatedAt); err != nil {
			s.logger.Warn("skipping malformed feedback row", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if strandID != nil {
			r.StrandID = *strandID
		}
		if editDistance != nil {
			r.EditDistance = *editDistance
		}
		if engagement != nil {
			var em model.EngagementMetrics
			if json.Unmarshal(engagement, &em) == nil {
				r.Engagement = &em
			}
		}
		if topics != nil {
			json.Unmarshal(topics, &r.Topics)
		}
		if formats != nil {
			json.Unmarshal(formats, &r.Formats)
		}
		if snapshot != nil {
			r.ContentSnapshot = *snapshot
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list feedback", err)
	}
	return records, nil
}

func (s *PostgresStore) GetPreferences(ctx context.Context, userID string) (*model.UserPreferences, error) {
	var p model.UserPreferences
	var topicWeights, formatWeights []byte

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, tone, formality, length, topic_weights, format_weights,
		        quality_threshold, citations, sample_count, version, updated_at
		 FROM preferences WHERE user_id = $1`, userID).Scan(
		&p.UserID, &p.ContentStyle.Tone, &p.ContentStyle.Formality, &p.ContentStyle.Length,
		&topicWeights, &formatWeights, &p.QualityThreshold, &p.CitationPreference,
		&p.SampleCount, &p.Version, &p.LastUpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get preferences", err)
	}

	p.TopicWeights = map[string]float64{}
	p.FormatWeights = map[string]float64{}
	if topicWeights != nil {
		json.Unmarshal(topicWeights, &p.TopicWeights)
	}
	if formatWeights != nil {
		json.Unmarshal(formatWeights, &p.FormatWeights)
	}
	return &p, nil
}

func (s *PostgresStore) PutPreferences(ctx context.Context, prefs model.UserPreferences) error {
	topicWeights, _ := json.Marshal(prefs.TopicWeights)
	formatWeights, _ := json.Marshal(prefs.FormatWeights)
	if prefs.LastUpdatedAt.IsZero() {
		prefs.LastUpdatedAt = time.Now().UTC()
	}

	if prefs.Version == 0 {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO preferences (user_id, tone, formality, length, topic_weights, format_weights,
			                          quality_threshold, citations, sample_count, version, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10)`,
			prefs.UserID, prefs.ContentStyle.Tone, prefs.ContentStyle.Formality, prefs.ContentStyle.Length,
			string(topicWeights), string(formatWeights), prefs.QualityThreshold,
			prefs.CitationPreference, prefs.SampleCount, prefs.LastUpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrVersionConflict
			}
			return storageErr("put preferences", err)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE preferences
		 SET tone = $1, formality = $2, length = $3, topic_weights = $4, format_weights = $5,
		     quality_threshold = $6, citations = $7, sample_count = $8, version = version + 1, updated_at = $9
		 WHERE user_id = $10 AND version = $11`,
		prefs.ContentStyle.Tone, prefs.ContentStyle.Formality, prefs.ContentStyle.Length,
		string(topicWeights), string(formatWeights), prefs.QualityThreshold,
		prefs.CitationPreference, prefs.SampleCount, prefs.LastUpdatedAt,
		prefs.UserID, prefs.Version)
	if err != nil {
		return storageErr("put preferences", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entries`).Scan(&st.TotalEntries)
	s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM consolidated`).Scan(&st.Consolidated)
	s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&st.FeedbackRecords)
	s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM preferences`).Scan(&st.PreferenceUsers)

	rows, err := s.pool.Query(ctx, `
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

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
