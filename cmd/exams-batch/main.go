package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/exams-tracker/internal/async"
	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/export"
	"github.com/joseph-ayodele/exams-tracker/internal/extraction"
	"github.com/joseph-ayodele/exams-tracker/internal/ingest"
	"github.com/joseph-ayodele/exams-tracker/internal/notify"
	"github.com/joseph-ayodele/exams-tracker/internal/progress"
	repo "github.com/joseph-ayodele/exams-tracker/internal/repository"
	"github.com/joseph-ayodele/exams-tracker/internal/save"
	"github.com/joseph-ayodele/exams-tracker/internal/session"
	"github.com/joseph-ayodele/exams-tracker/internal/storage"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		inmem   = flag.Bool("inmem", false, "use an in-memory SQLite database and object store")
		dir     = flag.String("dir", "", "directory to process exam files from (required)")
		watch   = flag.Bool("watch", false, "keep watching the directory for new files until interrupted")
		out     = flag.String("out", "", "output XLSX file path (optional, defaults to parent directory)")
		owner   = flag.String("owner", "local", "owner id the exams are stored under")
		patient = flag.String("patient", "", "patient id the exams belong to (required)")
		workers = flag.Int("workers", 4, "number of files processed concurrently; 1 processes in order")
		fromStr = flag.String("from", "", "export from date YYYY-MM-DD")
		toStr   = flag.String("to", "", "export to date YYYY-MM-DD")
	)
	flag.Parse()

	if *dir == "" || *patient == "" {
		printError("Error: --dir and --patient are required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(*dir), "exames.xlsx")
	}
	from, err := parseDate(*fromStr)
	if err != nil {
		printError("Error: invalid --from date format, use YYYY-MM-DD: %v\n", err)
		os.Exit(1)
	}
	to, err := parseDate(*toStr)
	if err != nil {
		printError("Error: invalid --to date format, use YYYY-MM-DD: %v\n", err)
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	if *inmem {
		cfg.Database.Driver = "sqlite"
		cfg.Database.DSN = ""
	}
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repo.InitDatabase(ctx, repo.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	examsRepo := repo.NewExamRepository(db.Driver, logger)
	notesRepo := repo.NewNoteRepository(db.Driver, logger)

	var objects storage.ObjectStore
	if *inmem {
		objects = storage.NewMemoryStore(cfg.Server.PublicBaseURL + "/files")
	} else {
		local, err := storage.NewLocalStore(cfg.Storage.Root, cfg.Server.PublicBaseURL+"/files", logger)
		if err != nil {
			logger.Error("failed to open object store", "root", cfg.Storage.Root, "error", err)
			os.Exit(1)
		}
		objects = local
	}
	attachments := storage.NewAttachmentStore(objects, nil, logger)

	client := extraction.NewClient(extraction.Config{
		BaseURL: cfg.Extraction.BaseURL,
		Timeout: cfg.Extraction.Timeout,
	}, logger)
	extractor := extraction.NewRouter(client, nil, objects, extraction.NewDocumentInspector(logger), logger)

	ingestor := ingest.NewExamIngestor(session.Deps{
		Extractor: extractor,
		Saver: save.NewCoordinator(examsRepo, notesRepo, attachments, save.Config{
			MaxAttempts:       cfg.Save.MaxAttempts,
			Backoff:           cfg.Save.Backoff,
			UploadConcurrency: cfg.Save.UploadConcurrency,
		}, logger),
		Attachments: attachments,
		// no one watches the bar in batch mode
		Progress: progress.NewEmitter(progress.Config{Interval: time.Minute, Hold: -1}, logger),
		Sink:     notify.NewSlogSink(logger),
		Logger:   logger,
	}, logger)

	var results []ingest.Result
	if *workers <= 1 && !*watch {
		var stats ingest.DirStats
		results, stats, err = ingest.IngestDirectory(ctx, ingestor, *owner, *patient, *dir, true)
		if err != nil {
			logger.Error("failed to ingest directory", "error", err)
			os.Exit(1)
		}
		logger.Info("ingestion complete",
			"matched", stats.Matched,
			"succeeded", stats.Succeeded,
			"deduplicated", stats.Deduplicated,
			"failed", stats.Failed,
		)
	} else {
		results, err = runQueued(ctx, ingestor, *owner, *patient, *dir, *workers, *watch, logger)
		if err != nil {
			logger.Error("failed to ingest directory", "error", err)
			os.Exit(1)
		}
	}
	printSummary(results)

	// the signal context may be done in watch mode; the export still has to run
	exportCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	data, err := export.NewService(examsRepo, logger).ExportPatientXLSX(exportCtx, *owner, *patient, from, to)
	if err != nil {
		logger.Error("failed to export exams", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		logger.Error("failed to write export file", "path", *out, "error", err)
		os.Exit(1)
	}
	logger.Info("export written", "path", *out, "bytes", len(data))
}

// runQueued feeds the worker queue from a directory scan, or from the watcher until ctx ends.
func runQueued(ctx context.Context, ing ingest.Ingestor, owner, patient, dir string, workers int, watch bool, logger *slog.Logger) ([]ingest.Result, error) {
	var (
		mu      sync.Mutex
		results []ingest.Result
	)
	queue := async.NewWorkerQueue(async.HandlerFunc(func(ctx context.Context, job async.Job) error {
		r, err := ing.IngestPath(ctx, job.OwnerID, job.PatientID, job.Path)
		if err != nil {
			r.Err = err.Error()
		}
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
		return err
	}), logger,
		async.WithWorkers(workers),
		async.WithQueueSize(64),
		async.WithProcessTimeout(3*time.Minute),
	)

	enqueue := func(path string) error {
		return queue.Enqueue(ctx, async.Job{Path: path, OwnerID: owner, PatientID: patient, TraceID: uuid.NewString()})
	}

	if watch {
		events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
			Roots:       []string{dir},
			InitialScan: true,
			Debounce:    500 * time.Millisecond,
			SkipHidden:  true,
		}, logger)
		if err != nil {
			queue.Shutdown(context.Background())
			return nil, err
		}
		logger.Info("watching for exam files", "dir", dir)
	loop:
		for {
			select {
			case path, ok := <-events:
				if !ok {
					break loop
				}
				if err := enqueue(path); err != nil {
					logger.Warn("enqueue failed", "path", path, "error", err)
				}
			case err, ok := <-errs:
				if ok {
					logger.Warn("watcher error", "error", err)
				}
			case <-ctx.Done():
				break loop
			}
		}
	} else {
		paths, err := ingest.ScanDirectory(dir, true)
		if err != nil {
			queue.Shutdown(context.Background())
			return nil, err
		}
		for _, p := range paths {
			if err := enqueue(p); err != nil {
				logger.Warn("enqueue failed", "path", p, "error", err)
				break
			}
		}
	}

	queue.Shutdown(context.Background())
	mu.Lock()
	defer mu.Unlock()
	return results, nil
}

func printSummary(results []ingest.Result) {
	var saved, dup, skipped, failed int
	for _, r := range results {
		switch {
		case r.Err != "":
			failed++
		case r.Deduplicated:
			dup++
		case r.ExamID != "":
			saved++
		default:
			skipped++
		}
	}
	fmt.Printf("processed=%d saved=%d deduplicated=%d skipped=%d failed=%d\n",
		len(results), saved, dup, skipped, failed)
	for _, r := range results {
		if r.Err != "" {
			fmt.Printf("  FAILED %s: %s\n", r.SourcePath, r.Err)
		} else if r.Outcome != "" && r.ExamID == "" && !r.Deduplicated {
			fmt.Printf("  SKIPPED %s: %s %s\n", r.SourcePath, r.Outcome, r.Message)
		}
	}
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
