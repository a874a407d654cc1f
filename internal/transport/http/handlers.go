package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fedutinova/readnote/internal/admission"
	"github.com/fedutinova/readnote/internal/auth"
	"github.com/fedutinova/readnote/internal/common"
	"github.com/fedutinova/readnote/internal/config"
	"github.com/fedutinova/readnote/internal/job"
	"github.com/fedutinova/readnote/internal/models"
	"github.com/fedutinova/readnote/internal/ocr"
	"github.com/fedutinova/readnote/internal/storage"
	"github.com/fedutinova/readnote/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// UsageReader serves the admin usage endpoints.
type UsageReader interface {
	ListUsageStats(ctx context.Context) ([]models.UsageStat, error)
	ListOCRLogs(ctx context.Context, limit int) ([]models.OCRLog, error)
}

type Handlers struct {
	OCR       *ocr.Service
	Usage     UsageReader
	Admission admission.Gate
	Queue     job.Dispatcher
	DB        Pinger
	Redis     Pinger
	Config    config.Config
}

func (h *Handlers) Routers(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	// uploaded images are served directly when they live on local disk
	if storage.Kind(h.Config) == storage.KindLocal {
		r.Get("/files/*", h.serveFiles)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.JWTMiddleware(h.Config.JWTSecret, h.Config.JWTIssuer))

		submit := r.With(auth.RequirePerm(auth.PermOCRSubmit))
		if h.Admission != nil {
			submit = submit.With(admission.Middleware(h.Admission, callerKey))
		}
		submit.Post("/v1/ocr", h.submitOCR)

		r.With(auth.RequirePerm(auth.PermNoteReadOwn)).Get("/v1/notes/{id}/ocr", h.getOCRStatus)
		r.With(auth.RequirePerm(auth.PermOCRSubmit)).Post("/v1/notes/{id}/ocr/retry", h.retryOCR)
		r.With(auth.RequirePerm(auth.PermNoteReadOwn)).Post("/v1/notes/{id}/ocr/timeout", h.expireOCR)

		r.With(auth.RequirePerm(auth.PermAdminAll)).Get("/v1/admin/ocr/stats", h.getUsageStats)
		r.With(auth.RequirePerm(auth.PermAdminAll)).Get("/v1/admin/ocr/logs", h.getOCRLogs)
	})
}

// callerKey identifies the caller for admission: the JWT user when present,
// the client address otherwise.
func callerKey(r *http.Request) (string, error) {
	if id, err := auth.UserID(r.Context()); err == nil {
		return "user:" + id, nil
	}
	ip, err := admission.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}

func (h *Handlers) serveFiles(w http.ResponseWriter, r *http.Request) {
	filePath := strings.TrimPrefix(r.URL.Path, "/files/")
	if filePath == "" {
		writeError(w, common.ValidationError{Field: "path", Message: "file path required"})
		return
	}

	if strings.Contains(filePath, "..") {
		writeError(w, common.ValidationError{Field: "path", Message: "invalid file path"})
		return
	}

	fullPath := filepath.Join(h.Config.LocalStorageDir, filePath)
	http.ServeFile(w, r, fullPath)
}

func (h *Handlers) submitOCR(w http.ResponseWriter, r *http.Request) {
	var req ocr.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, common.ValidationError{Field: "body", Message: "invalid request body"})
		return
	}
	req.CallerID, _ = auth.UserID(r.Context())

	res, err := h.OCR.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *Handlers) getOCRStatus(w http.ResponseWriter, r *http.Request) {
	noteID, ok := noteIDParam(w, r)
	if !ok {
		return
	}
	callerID, _ := auth.UserID(r.Context())

	j, err := h.OCR.Status(r.Context(), noteID, callerID)
	if errors.Is(err, common.ErrJobNotFound) {
		// a note that was never submitted has no status yet
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error(), "status": nil})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) retryOCR(w http.ResponseWriter, r *http.Request) {
	noteID, ok := noteIDParam(w, r)
	if !ok {
		return
	}
	callerID, _ := auth.UserID(r.Context())

	res, err := h.OCR.Retry(r.Context(), noteID, callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *Handlers) expireOCR(w http.ResponseWriter, r *http.Request) {
	noteID, ok := noteIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Attempt int64 `json:"attempt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Attempt <= 0 {
		writeError(w, common.ValidationError{Field: "attempt", Message: "must be a positive integer"})
		return
	}
	callerID, _ := auth.UserID(r.Context())

	j, err := h.OCR.Expire(r.Context(), noteID, callerID, req.Attempt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) getUsageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Usage.ListUsageStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (h *Handlers) getOCRLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, common.ValidationError{Field: "limit", Message: "must be an integer"})
			return
		}
		limit = n
	}

	logs, err := h.Usage.ListOCRLogs(r.Context(), validation.LogsLimit(limit))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func noteIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, common.ValidationError{Field: "id", Message: "must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case common.IsValidation(err):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, ocr.ErrNoImage):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case common.IsNotFound(err):
		status, msg = http.StatusNotFound, err.Error()
	case common.IsForbidden(err):
		status, msg = http.StatusForbidden, "forbidden"
	case common.IsUnauthorized(err):
		status, msg = http.StatusUnauthorized, "unauthorized"
	case common.IsConflict(err):
		status, msg = http.StatusConflict, err.Error()
	default:
		slog.Error("request failed", "error", err)
	}

	body := map[string]any{"error": msg}
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		body["fields"] = verrs
	}
	writeJSON(w, status, body)
}
