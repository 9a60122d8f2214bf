package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/export"
	"github.com/joseph-ayodele/exams-tracker/internal/extraction"
	"github.com/joseph-ayodele/exams-tracker/internal/notify"
	"github.com/joseph-ayodele/exams-tracker/internal/progress"
	repo "github.com/joseph-ayodele/exams-tracker/internal/repository"
	"github.com/joseph-ayodele/exams-tracker/internal/save"
	"github.com/joseph-ayodele/exams-tracker/internal/server"
	"github.com/joseph-ayodele/exams-tracker/internal/session"
	"github.com/joseph-ayodele/exams-tracker/internal/storage"
)

func main() {
	cfg := common.LoadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	examsRepo := repo.NewExamRepository(db.Driver, logger)
	notesRepo := repo.NewNoteRepository(db.Driver, logger)

	objects, err := storage.NewLocalStore(cfg.Storage.Root, cfg.Server.PublicBaseURL+"/files", logger)
	if err != nil {
		logger.Error("failed to open object store", "root", cfg.Storage.Root, "error", err)
		os.Exit(1)
	}
	blobs := storage.NewBlobRegistry(cfg.Server.PublicBaseURL+"/blobs", cfg.Storage.BlobURLTTL)
	attachments := storage.NewAttachmentStore(objects, blobs, logger)

	client := extraction.NewClient(extraction.Config{
		BaseURL: cfg.Extraction.BaseURL,
		Timeout: cfg.Extraction.Timeout,
	}, logger)
	extractor := extraction.NewRouter(client,
		extraction.NewHTTPFetcher(cfg.Extraction.Timeout, logger),
		objects,
		extraction.NewDocumentInspector(logger),
		logger)

	coordinator := save.NewCoordinator(examsRepo, notesRepo, attachments, save.Config{
		MaxAttempts:       cfg.Save.MaxAttempts,
		Backoff:           cfg.Save.Backoff,
		UploadConcurrency: cfg.Save.UploadConcurrency,
	}, logger)

	drafts := session.NewRegistry(session.Deps{
		Extractor:   extractor,
		Saver:       coordinator,
		Attachments: attachments,
		Progress: progress.NewEmitter(progress.Config{
			Interval: cfg.Progress.Interval,
			Cap:      cfg.Progress.Cap,
			Hold:     cfg.Progress.Hold,
		}, logger),
		Sink:   notify.NewSlogSink(logger),
		Logger: logger,
	})

	if cfg.Server.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	healthCheck := func(ctx context.Context) error {
		return db.HealthCheck(ctx, 2*time.Second)
	}
	handler := server.NewHandler(server.Deps{
		Extractor:   extractor,
		Drafts:      drafts,
		Exams:       examsRepo,
		Notes:       notesRepo,
		Attachments: attachments,
		Exports:     export.NewService(examsRepo, logger),
		Objects:     objects,
		Blobs:       blobs,
		Health:      healthCheck,
	}, logger)

	logger.Info("exams-tracker starting",
		"addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"db_driver", cfg.Database.Driver,
		"extraction_url", cfg.Extraction.BaseURL,
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, cfg.Server.HTTPAddr, server.NewRouter(handler), logger)
	})
	if cfg.Server.GRPCAddr != "" {
		grpcServer, healthServer := server.NewGRPCServer()
		g.Go(func() error {
			server.WatchHealth(gctx, healthServer, healthCheck, cfg.Server.HealthInterval, logger)
			return nil
		})
		g.Go(func() error {
			return server.ServeGRPC(gctx, cfg.Server.GRPCAddr, grpcServer, logger)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("exams-tracker stopped", "open_drafts", drafts.Len())
}
