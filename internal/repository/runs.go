package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/canonical"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

const tableRuns = "extraction_runs"

var runColumns = []string{
	"id", "document_id", "tenant_id", "variant", "status", "created_at", "started_at", "finished_at",
	"confidence", "output", "metrics", "error_code", "error_message", "error_retryable", "pipeline_version",
	"layout_fingerprint",
}

// RunRepository stores terminal extraction runs. Rows are inserted once and never updated;
// a retry is a new row.
type RunRepository interface {
	Insert(ctx context.Context, run entity.ExtractionRun) error
	ListByDocument(ctx context.Context, documentID string) ([]entity.ExtractionRun, error)
}

type runRepo struct {
	db  *DB
	log *slog.Logger
}

func NewRunRepository(db *DB, log *slog.Logger) RunRepository {
	if log == nil {
		log = slog.Default()
	}
	return &runRepo{db: db, log: log}
}

func (r *runRepo) Insert(ctx context.Context, run entity.ExtractionRun) error {
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	var output any
	if run.Output != nil {
		b, err := json.Marshal(run.Output)
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		output = string(b)
	}
	var errCode, errMsg any
	retryable := false
	if run.Error != nil {
		errCode, errMsg, retryable = run.Error.Code, run.Error.Message, run.Error.Retryable
	}

	q, args := r.db.builder().Insert(tableRuns).
		Columns(runColumns...).
		Values(
			run.ID.String(), run.DocumentID, run.TenantID, run.Variant, string(run.Status),
			run.CreatedAt, nullTime(run.StartedAt), nullTime(run.FinishedAt),
			run.Confidence(), output, string(metrics), errCode, errMsg, retryable, run.PipelineVersion,
			run.LayoutFingerprint,
		).
		Query()
	if err := r.db.drv.Exec(ctx, q, args, nil); err != nil {
		r.log.Error("extraction_run insert failed", "run_id", run.ID, "document_id", run.DocumentID, "err", err)
		return err
	}
	r.log.Info("extraction_run inserted",
		"run_id", run.ID,
		"document_id", run.DocumentID,
		"status", run.Status,
		"variant", run.Variant,
		"layout_fingerprint", run.LayoutFingerprint,
	)
	return nil
}

func (r *runRepo) ListByDocument(ctx context.Context, documentID string) ([]entity.ExtractionRun, error) {
	b := r.db.builder()
	q, args := b.Select(runColumns...).
		From(b.Table(tableRuns)).
		Where(entsql.EQ("document_id", documentID)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("id")).
		Query()

	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.ExtractionRun
	for rows.Next() {
		run, err := scanRun(&rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(rows *entsql.Rows) (entity.ExtractionRun, error) {
	var (
		run                 entity.ExtractionRun
		id, status          string
		started, finished   sql.NullTime
		confidence          float64
		output              sql.NullString
		metrics             string
		errCode, errMessage sql.NullString
		retryable           bool
	)
	if err := rows.Scan(&id, &run.DocumentID, &run.TenantID, &run.Variant, &status, &run.CreatedAt,
		&started, &finished, &confidence, &output, &metrics, &errCode, &errMessage, &retryable,
		&run.PipelineVersion, &run.LayoutFingerprint); err != nil {
		return run, fmt.Errorf("scan extraction_run: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return run, fmt.Errorf("extraction_run id %q: %w", id, err)
	}
	run.ID = parsed
	run.Status = constants.RunStatus(status)
	run.CreatedAt = run.CreatedAt.UTC()
	if started.Valid {
		t := started.Time.UTC()
		run.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time.UTC()
		run.FinishedAt = &t
	}
	if output.Valid && output.String != "" {
		run.Output = canonical.New()
		if err := json.Unmarshal([]byte(output.String), run.Output); err != nil {
			return run, fmt.Errorf("decode output of run %s: %w", id, err)
		}
	}
	if err := json.Unmarshal([]byte(metrics), &run.Metrics); err != nil {
		return run, fmt.Errorf("decode metrics of run %s: %w", id, err)
	}
	if errCode.Valid {
		run.Error = &entity.RunError{Code: errCode.String, Message: errMessage.String, Retryable: retryable}
	}
	return run, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
