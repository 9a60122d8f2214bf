package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/joseph-ayodele/exams-tracker/constants"
	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/extraction"
	"github.com/joseph-ayodele/exams-tracker/internal/session"
)

// ExamIngestor runs one file through a fresh editing session: stage, process, save.
// Files with a content hash already seen by this ingestor are skipped.
type ExamIngestor struct {
	deps   session.Deps
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]*claim
}

// claim reserves a content hash while one file with that content is ingested.
type claim struct {
	done  chan struct{}
	res   Result
	saved bool
}

func NewExamIngestor(deps session.Deps, logger *slog.Logger) *ExamIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExamIngestor{deps: deps, logger: logger, seen: map[string]*claim{}}
}

// reserve returns a new claim for hash, or the result of the file that already saved this content.
// A caller finding the hash in flight waits for it; if that file is not saved the hash is free again.
func (i *ExamIngestor) reserve(ctx context.Context, hash string) (*claim, *Result, error) {
	for {
		i.mu.Lock()
		c, ok := i.seen[hash]
		if !ok {
			c = &claim{done: make(chan struct{})}
			i.seen[hash] = c
			i.mu.Unlock()
			return c, nil, nil
		}
		i.mu.Unlock()

		select {
		case <-c.done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		if c.saved {
			prev := c.res
			return nil, &prev, nil
		}
	}
}

func (i *ExamIngestor) settle(hash string, c *claim, res Result, saved bool) {
	i.mu.Lock()
	c.res = res
	c.saved = saved
	if !saved {
		delete(i.seen, hash)
	}
	i.mu.Unlock()
	close(c.done)
}

func (i *ExamIngestor) IngestPath(ctx context.Context, ownerID, patientID, path string) (Result, error) {
	out := Result{SourcePath: path}

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}
	out.SourcePath = abs

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !AllowedExt(ext) {
		return out, common.ValidationFailed(fmt.Sprintf("unsupported or missing extension: %q", ext))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		i.logger.Error("ingest.read_failed", "path", abs, "error", err)
		return out, fmt.Errorf("read: %w", err)
	}
	sum := sha256.Sum256(data)
	out.HashHex = hex.EncodeToString(sum[:])

	c, prev, err := i.reserve(ctx, out.HashHex)
	if err != nil {
		return out, err
	}
	if prev != nil {
		prev.SourcePath = abs
		prev.Deduplicated = true
		i.logger.Info("ingest.deduplicated", "path", abs, "hash", out.HashHex)
		return *prev, nil
	}
	saved := false
	defer func() { i.settle(out.HashHex, c, out, saved) }()

	s := session.New(ownerID, patientID, i.deps)
	defer s.Close()

	name := filepath.Base(abs)
	if _, err := s.Stage(name, "", data); err != nil {
		return out, err
	}

	outcome, err := s.Process(ctx, name)
	if err != nil {
		return out, err
	}
	out.Outcome = string(outcome.Kind)
	out.Message = outcome.Message
	if !outcome.IsSuccess() {
		i.logger.Warn("ingest.not_extracted", "path", abs, "kind", outcome.Kind, "message", outcome.Message)
		if outcome.Kind == extraction.KindFailure {
			return out, fmt.Errorf("extract %s: %s", name, outcome.Message)
		}
		return out, nil
	}

	res, err := s.Save(ctx)
	if err != nil {
		return out, err
	}
	out.ExamID = res.ExamID().String()
	out.Results = res.Exam.Results.Len()
	out.FailedUploads = len(res.FailedUploads)
	saved = true
	i.logger.Info("ingest.saved", "path", abs, "exam_id", out.ExamID, "results", out.Results)
	return out, nil
}
