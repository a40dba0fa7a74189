package repository

import (
	"context"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

const tableFeedback = "extraction_feedback"

// FeedbackRepository reads human corrections by layout fingerprint. Corrections are written by
// the review tooling, never by the extraction engine.
type FeedbackRepository interface {
	RecentByFingerprint(ctx context.Context, tenantID, fingerprint string, limit int) ([]entity.FeedbackExample, error)
}

type feedbackRepo struct {
	db  *DB
	log *slog.Logger
}

func NewFeedbackRepository(db *DB, log *slog.Logger) FeedbackRepository {
	if log == nil {
		log = slog.Default()
	}
	return &feedbackRepo{db: db, log: log}
}

// RecentByFingerprint returns up to limit corrections, newest first.
func (r *feedbackRepo) RecentByFingerprint(ctx context.Context, tenantID, fingerprint string, limit int) ([]entity.FeedbackExample, error) {
	if fingerprint == "" || limit <= 0 {
		return nil, nil
	}
	b := r.db.builder()
	q, args := b.Select("id", "tenant_id", "layout_fingerprint", "before_snippet", "after_snippet", "created_at").
		From(b.Table(tableFeedback)).
		Where(entsql.And(
			entsql.EQ("tenant_id", tenantID),
			entsql.EQ("layout_fingerprint", fingerprint),
		)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id")).
		Limit(limit).
		Query()

	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []entity.FeedbackExample
	for rows.Next() {
		var ex entity.FeedbackExample
		if err := rows.Scan(&ex.ID, &ex.TenantID, &ex.LayoutFingerprint, &ex.BeforeSnippet, &ex.AfterSnippet, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.log.Debug("feedback lookup", "tenant_id", tenantID, "fingerprint", fingerprint, "found", len(out))
	return out, nil
}
