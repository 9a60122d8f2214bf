package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/joseph-ayodele/exams-tracker/constants"
	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/extraction"
	"github.com/joseph-ayodele/exams-tracker/internal/notify"
)

func main() {
	cfg := common.LoadConfig()
	var (
		baseURL = flag.String("url", cfg.Extraction.BaseURL, "extraction service base URL")
		timeout = flag.Duration("timeout", cfg.Extraction.Timeout, "request timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if flag.NArg() != 1 {
		logger.Error("usage: extract [-url URL] [-timeout 60s] <file>")
		os.Exit(2)
	}
	path := flag.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read file", "path", path, "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := extraction.NewClient(extraction.Config{BaseURL: *baseURL, Timeout: *timeout}, logger)
	router := extraction.NewRouter(client, nil, nil, extraction.NewDocumentInspector(logger), logger)

	name := filepath.Base(path)
	out := router.Extract(ctx, extraction.Source{
		Name:     name,
		MimeType: constants.MimeTypeForExt(filepath.Ext(name)),
		Blob:     data,
	}, func(stage string) {
		logger.Info("extract.stage", "stage", stage)
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Outcome      extraction.Outcome  `json:"outcome"`
		Notification notify.Notification `json:"notification"`
	}{out, notify.FromOutcome(name, out)}); err != nil {
		logger.Error("failed to write outcome", "error", err)
		os.Exit(1)
	}
	if !out.IsSuccess() {
		os.Exit(1)
	}
}
