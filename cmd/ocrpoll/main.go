// Command ocrpoll submits or retries an extraction through the API and
// follows the job until it settles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fedutinova/readnote/internal/client"
	appconfig "github.com/fedutinova/readnote/internal/config"
	"github.com/fedutinova/readnote/internal/job"
	"github.com/fedutinova/readnote/internal/logger"
	"github.com/fedutinova/readnote/internal/poller"
	"github.com/google/uuid"
)

func main() {
	var (
		noteArg = flag.String("note", "", "note id (UUID)")
		submit  = flag.String("submit", "", "submit this image reference before polling")
		retry   = flag.Bool("retry", false, "retry the note's current image before polling")
		apiURL  = flag.String("api", envOr("READNOTE_API_URL", "http://localhost:8080"), "API base URL")
		token   = flag.String("token", os.Getenv("READNOTE_TOKEN"), "bearer token")
	)
	flag.Parse()

	cfg := appconfig.Load()
	logger.Setup(cfg)

	noteID, err := uuid.Parse(*noteArg)
	if err != nil {
		slog.Error("invalid note id (must be UUID)", "note", *noteArg, "error", err)
		os.Exit(2)
	}
	if *submit != "" && *retry {
		slog.Error("-submit and -retry are mutually exclusive")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*apiURL, client.WithToken(*token))

	switch {
	case *submit != "":
		res, err := c.Submit(ctx, noteID, *submit)
		if err != nil {
			exitOnAPIError("submit", err)
		}
		slog.Info("submitted", "note_id", res.NoteID, "attempt", res.Attempt)
	case *retry:
		res, err := c.Retry(ctx, noteID)
		if err != nil {
			exitOnAPIError("retry", err)
		}
		slog.Info("retry accepted", "note_id", res.NoteID, "attempt", res.Attempt)
	}

	p := poller.New(c, noteID, poller.Config{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.PollMaxAttempts,
		Timeout:     cfg.PollTimeout,
	}, poller.OnComplete(func(j *job.Job) {
		fmt.Println(j.ExtractedText)
	}))

	u := p.Run(ctx, func(u poller.Update) {
		slog.Debug("poll", "status", u.Status, "attempts", u.Attempts)
	})

	switch {
	case u.Status == job.StatusCompleted:
		return
	case !u.Done:
		slog.Warn("polling cancelled", "attempts", u.Attempts)
	case u.Job != nil && u.Job.Error != "":
		slog.Error("extraction failed", "reason", u.Job.Error, "error", u.Err)
	default:
		slog.Error("extraction failed", "error", u.Err)
	}
	os.Exit(1)
}

func exitOnAPIError(op string, err error) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		slog.Error(op+" rejected", "status", apiErr.StatusCode, "retry_after", apiErr.RetryAfter, "error", apiErr.Message)
	} else {
		slog.Error(op+" failed", "error", err)
	}
	os.Exit(1)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
