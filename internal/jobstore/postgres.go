package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fedutinova/readnote/internal/common"
	"github.com/fedutinova/readnote/internal/database"
	"github.com/fedutinova/readnote/internal/job"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `note_id, status, COALESCE(extracted_text, ''), derived_quote, derived_memo,
	COALESCE(error, ''), attempt, created_at, updated_at`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ocr_jobs (
	note_id        UUID PRIMARY KEY,
	status         TEXT NOT NULL,
	extracted_text TEXT,
	derived_quote  TEXT,
	derived_memo   TEXT,
	error          TEXT,
	attempt        BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
)`

type Postgres struct {
	db database.Querier
}

func NewPostgres(db *database.DB) *Postgres {
	return &Postgres{db: db.Querier()}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create ocr_jobs: %w", err)
	}
	return nil
}

func (p *Postgres) Arm(ctx context.Context, noteID uuid.UUID, now time.Time) (*job.Job, error) {
	query := `
		INSERT INTO ocr_jobs (note_id, status, attempt, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $3)
		ON CONFLICT (note_id) DO UPDATE SET
			status = EXCLUDED.status,
			extracted_text = NULL,
			derived_quote = NULL,
			derived_memo = NULL,
			error = NULL,
			attempt = ocr_jobs.attempt + 1,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + jobColumns

	j, err := scanJob(p.db.QueryRow(ctx, query, noteID, job.StatusProcessing, now))
	if err != nil {
		return nil, fmt.Errorf("arm job: %w", err)
	}
	return j, nil
}

func (p *Postgres) Get(ctx context.Context, noteID uuid.UUID) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM ocr_jobs WHERE note_id = $1`

	j, err := scanJob(p.db.QueryRow(ctx, query, noteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (p *Postgres) Complete(ctx context.Context, noteID uuid.UUID, attempt int64, res job.Result, now time.Time) error {
	if err := validateResult(res); err != nil {
		return err
	}

	query := `
		UPDATE ocr_jobs
		SET status = $3, extracted_text = $4, derived_quote = $5, derived_memo = $6, updated_at = $7
		WHERE note_id = $1 AND attempt = $2 AND status = 'processing'
	`
	tag, err := p.db.Exec(ctx, query, noteID, attempt, job.StatusCompleted, res.Text, res.Quote, res.Memo, now)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return settleError(ctx, p, noteID)
	}
	return nil
}

func (p *Postgres) Fail(ctx context.Context, noteID uuid.UUID, attempt int64, reason string, now time.Time) error {
	query := `
		UPDATE ocr_jobs
		SET status = $3, error = $4, updated_at = $5
		WHERE note_id = $1 AND attempt = $2 AND status = 'processing'
	`
	tag, err := p.db.Exec(ctx, query, noteID, attempt, job.StatusFailed, reason, now)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return settleError(ctx, p, noteID)
	}
	return nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	err := row.Scan(
		&j.NoteID,
		&j.Status,
		&j.ExtractedText,
		&j.DerivedQuote,
		&j.DerivedMemo,
		&j.Error,
		&j.Attempt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
