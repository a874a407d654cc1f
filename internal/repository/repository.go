package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fedutinova/readnote/internal/common"
	"github.com/fedutinova/readnote/internal/database"
	"github.com/fedutinova/readnote/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const usageSchema = `
CREATE TABLE IF NOT EXISTS ocr_usage_stats (
	user_id           TEXT PRIMARY KEY,
	success_count     BIGINT NOT NULL DEFAULT 0,
	failure_count     BIGINT NOT NULL DEFAULT 0,
	last_processed_at TIMESTAMPTZ,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS ocr_logs (
	id                     BIGSERIAL PRIMARY KEY,
	user_id                TEXT NOT NULL,
	note_id                UUID,
	status                 TEXT NOT NULL,
	provider               TEXT,
	error_message          TEXT,
	processing_duration_ms BIGINT,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS ocr_logs_created_at_idx ON ocr_logs (created_at DESC);
`

type Repository struct {
	db *database.DB
}

func New(db *database.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *database.DB {
	return r.db
}

// EnsureSchema creates the OCR accounting tables. The notes table belongs to
// the main application and is expected to exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Querier().Exec(ctx, usageSchema); err != nil {
		return fmt.Errorf("create usage tables: %w", err)
	}
	return nil
}

func (r *Repository) GetNote(ctx context.Context, id uuid.UUID) (*models.Note, error) {
	query := `
		SELECT id, user_id, image_url, content, created_at
		FROM notes
		WHERE id = $1
	`

	var note models.Note
	err := r.db.Querier().QueryRow(ctx, query, id).Scan(
		&note.ID,
		&note.UserID,
		&note.ImageURL,
		&note.Content,
		&note.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return &note, nil
}

// RecordOCR bumps the caller's usage counters and appends an OCR log row in
// one transaction.
func (r *Repository) RecordOCR(ctx context.Context, entry models.OCRLog) error {
	success, failure := 0, 0
	if entry.Status == models.LogStatusSuccess {
		success = 1
	} else {
		failure = 1
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO ocr_usage_stats (user_id, success_count, failure_count, last_processed_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (user_id) DO UPDATE SET
				success_count = ocr_usage_stats.success_count + EXCLUDED.success_count,
				failure_count = ocr_usage_stats.failure_count + EXCLUDED.failure_count,
				last_processed_at = EXCLUDED.last_processed_at,
				updated_at = EXCLUDED.updated_at
		`, entry.UserID, success, failure, entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert usage stats: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ocr_logs (user_id, note_id, status, provider, error_message, processing_duration_ms, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, entry.UserID, entry.NoteID, entry.Status, entry.Provider, entry.ErrorMessage, entry.ProcessingDurationMs, entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert ocr log: %w", err)
		}
		return nil
	})
}

func (r *Repository) ListUsageStats(ctx context.Context) ([]models.UsageStat, error) {
	query := `
		SELECT user_id, success_count, failure_count, last_processed_at, updated_at
		FROM ocr_usage_stats
		ORDER BY updated_at DESC
	`

	rows, err := r.db.Querier().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list usage stats: %w", err)
	}
	defer rows.Close()

	stats := []models.UsageStat{}
	for rows.Next() {
		var s models.UsageStat
		if err := rows.Scan(&s.UserID, &s.SuccessCount, &s.FailureCount, &s.LastProcessedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *Repository) ListOCRLogs(ctx context.Context, limit int) ([]models.OCRLog, error) {
	query := `
		SELECT id, user_id, note_id, status, COALESCE(provider, ''), error_message, processing_duration_ms, created_at
		FROM ocr_logs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Querier().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list ocr logs: %w", err)
	}
	defer rows.Close()

	logs := []models.OCRLog{}
	for rows.Next() {
		var l models.OCRLog
		err := rows.Scan(
			&l.ID,
			&l.UserID,
			&l.NoteID,
			&l.Status,
			&l.Provider,
			&l.ErrorMessage,
			&l.ProcessingDurationMs,
			&l.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
