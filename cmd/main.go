package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fedutinova/readnote/internal/admission"
	appconfig "github.com/fedutinova/readnote/internal/config"
	"github.com/fedutinova/readnote/internal/database"
	"github.com/fedutinova/readnote/internal/fetch"
	"github.com/fedutinova/readnote/internal/job"
	"github.com/fedutinova/readnote/internal/jobstore"
	"github.com/fedutinova/readnote/internal/logger"
	"github.com/fedutinova/readnote/internal/memq"
	"github.com/fedutinova/readnote/internal/ocr"
	"github.com/fedutinova/readnote/internal/provider"
	"github.com/fedutinova/readnote/internal/queue"
	"github.com/fedutinova/readnote/internal/redis"
	"github.com/fedutinova/readnote/internal/repository"
	"github.com/fedutinova/readnote/internal/server"
	"github.com/fedutinova/readnote/internal/storage"
	httpapi "github.com/fedutinova/readnote/internal/transport/http"
)

func main() {
	cfg := appconfig.Load()
	logger.Setup(cfg)
	slog.Info("starting readnote ocr", "addr", cfg.HTTPAddr, "workers", cfg.QueueWorkers,
		"dispatch", cfg.DispatchMode, "job_store", cfg.JobStore, "provider", cfg.OCRProvider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDB(ctx, cfg.DatabaseURL, database.Options{
		MaxConns:        int32(cfg.DBMaxConns),
		MinConns:        int32(cfg.DBMinConns),
		MaxConnLifetime: 30 * time.Minute,
		DialTimeout:     cfg.DBDialTimeout,
	})
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := repository.New(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		slog.Error("failed to prepare usage schema", "err", err)
		os.Exit(1)
	}

	store, closeStore, err := openJobStore(ctx, cfg, db)
	if err != nil {
		slog.Error("failed to open job store", "store", cfg.JobStore, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// redis is only dialed when something depends on it
	var redisService *redis.Service
	if cfg.DispatchMode == "redis" || cfg.AdmissionBackend == "redis" {
		redisService, err = redis.New(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisService.Close()
	}

	storageService, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	slog.Info("storage initialized", "type", storage.Kind(cfg))

	extractor, err := provider.New(cfg)
	if err != nil {
		slog.Error("failed to initialize OCR provider", "err", err)
		os.Exit(1)
	}

	var dispatcher job.Dispatcher
	switch cfg.DispatchMode {
	case "redis":
		qcfg := queue.DefaultConfig()
		qcfg.Stream = cfg.QueueStream
		qcfg.MaxJobTime = cfg.JobMaxDuration
		qcfg.ClaimTimeout = cfg.QueueClaimTimeout
		if host, err := os.Hostname(); err == nil {
			qcfg.Consumer = host
		}
		rq, err := queue.NewRedisQueue(ctx, redisService.Client(), qcfg)
		if err != nil {
			slog.Error("failed to create redis dispatcher", "err", err)
			os.Exit(1)
		}
		dispatcher = rq
	default:
		dispatcher = memq.NewMemoryQueue(cfg.QueueBuf, cfg.JobMaxDuration)
	}

	worker := ocr.NewWorker(store, repo, fetch.New(storageService, cfg.OCRFetchTimeout, cfg.OCRMaxImageBytes), extractor,
		ocr.WithProviderTimeout(cfg.OCRProviderTimeout),
		ocr.WithUsageRecorder(repo),
	)
	dispatcher.StartConsumers(ctx, cfg.QueueWorkers, worker.Handle)

	var gate admission.Gate
	switch cfg.AdmissionBackend {
	case "redis":
		gate = admission.NewRedis(redisService.Client(), "readnote:admission:", cfg.AdmissionLimit, cfg.AdmissionWindow)
	case "off":
		slog.Warn("admission gate disabled")
	default:
		mem := admission.NewMemory(cfg.AdmissionLimit, cfg.AdmissionWindow)
		go mem.Run(ctx, cfg.AdmissionSweep)
		gate = mem
	}

	handlers := &httpapi.Handlers{
		OCR:       ocr.NewService(repo, store, dispatcher, cfg.PollTimeout),
		Usage:     repo,
		Admission: gate,
		Queue:     dispatcher,
		DB:        db,
		Config:    cfg,
	}
	if redisService != nil {
		handlers.Redis = redisService
	}
	r := server.NewRouter(handlers, cfg)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	cancel()
	if err := dispatcher.Close(); err != nil {
		slog.Error("failed to stop dispatcher", "err", err)
	}
}

func openJobStore(ctx context.Context, cfg appconfig.Config, db *database.DB) (jobstore.Store, func(), error) {
	switch cfg.JobStore {
	case "mongo":
		client, col, err := jobstore.ConnectMongo(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}
		return jobstore.NewMongo(col), closeFn, nil
	case "memory":
		slog.Warn("job records are kept in memory and lost on restart")
		return jobstore.NewMemory(), func() {}, nil
	default:
		pg := jobstore.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return pg, func() {}, nil
	}
}
