package models

import (
	"time"

	"github.com/google/uuid"
)

// Note is the slice of a reading note the OCR pipeline reads. Notes are
// owned and written by the main application.
type Note struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	ImageURL  *string   `json:"image_url,omitempty" db:"image_url"`
	Content   *string   `json:"content,omitempty" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// UsageStat is the per-user OCR counter row.
type UsageStat struct {
	UserID          string     `json:"user_id" db:"user_id"`
	SuccessCount    int64      `json:"success_count" db:"success_count"`
	FailureCount    int64      `json:"failure_count" db:"failure_count"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty" db:"last_processed_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// OCRLog is one settled extraction attempt.
type OCRLog struct {
	ID                   int64      `json:"id" db:"id"`
	UserID               string     `json:"user_id" db:"user_id"`
	NoteID               *uuid.UUID `json:"note_id,omitempty" db:"note_id"`
	Status               string     `json:"status" db:"status"`
	Provider             string     `json:"provider,omitempty" db:"provider"`
	ErrorMessage         *string    `json:"error_message,omitempty" db:"error_message"`
	ProcessingDurationMs *int64     `json:"processing_duration_ms,omitempty" db:"processing_duration_ms"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
}

const (
	LogStatusSuccess = "success"
	LogStatusFailure = "failure"
)
