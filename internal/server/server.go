package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/exams-tracker/internal/entity"
	"github.com/joseph-ayodele/exams-tracker/internal/extraction"
	"github.com/joseph-ayodele/exams-tracker/internal/session"
	"github.com/joseph-ayodele/exams-tracker/internal/storage"
)

const defaultMaxUploadBytes = 50 << 20

type Extractor interface {
	Extract(ctx context.Context, src extraction.Source, report extraction.ProgressFunc) extraction.Outcome
}

// ExamStore is the part of the exam repository the API reads and deletes through.
type ExamStore interface {
	GetByID(ctx context.Context, examID uuid.UUID) (*entity.Exam, error)
	ListByPatient(ctx context.Context, ownerID, patientID string) ([]*entity.Exam, error)
	Delete(ctx context.Context, examID uuid.UUID) error
}

type NoteReader interface {
	GetByExamID(ctx context.Context, examID uuid.UUID) (*entity.Note, error)
}

type URLResolver interface {
	ResolveURL(ctx context.Context, a entity.Attachment, loc storage.Locator) (storage.Resolved, error)
}

type Exporter interface {
	ExportExamXLSX(ctx context.Context, examID uuid.UUID) ([]byte, error)
	ExportPatientXLSX(ctx context.Context, ownerID, patientID string, from, to *time.Time) ([]byte, error)
}

// Deps are the collaborators behind the HTTP API.
type Deps struct {
	Extractor   Extractor
	Drafts      *session.Registry
	Exams       ExamStore
	Notes       NoteReader
	Attachments URLResolver
	Exports     Exporter
	Objects     storage.ObjectStore
	Blobs       *storage.BlobRegistry
	// Health reports record store liveness; nil means always healthy.
	Health         func(ctx context.Context) error
	MaxUploadBytes int64
}

// Handler serves the exams API.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{deps: deps, logger: logger}
}

// NewRouter wires every route onto a gin engine.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(h.logger))

	r.GET("/healthz", h.health)
	r.GET("/files/*path", h.serveFile)
	r.GET("/blobs/:id", h.serveBlob)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/healthz", h.health)
		v1.POST("/extract", h.extractOnce)

		patient := v1.Group("/owners/:ownerId/patients/:patientId", ownerScope())
		{
			patient.POST("/drafts", h.createDraft)
			patient.GET("/exams", h.listExams)
			patient.GET("/export.xlsx", h.exportPatient)
			patient.GET("/exams/:examId", h.getExam)
			patient.DELETE("/exams/:examId", h.deleteExam)
			patient.POST("/exams/:examId/drafts", h.openDraft)
			patient.GET("/exams/:examId/export.xlsx", h.exportExam)
			patient.GET("/exams/:examId/attachments/:fileName/url", h.examAttachmentURL)
		}

		drafts := v1.Group("/drafts/:draftId")
		{
			drafts.GET("", h.getDraft)
			drafts.PATCH("", h.patchDraft)
			drafts.DELETE("", h.closeDraft)
			drafts.POST("/save", h.saveDraft)
			drafts.POST("/attachments", h.stageAttachment)
			drafts.DELETE("/attachments/:fileName", h.removeAttachment)
			drafts.GET("/attachments/:fileName/url", h.draftAttachmentURL)
			drafts.POST("/attachments/:fileName/extract", h.processAttachment)
			drafts.POST("/attachments/:fileName/cancel", h.cancelExtraction)
			drafts.GET("/attachments/:fileName/progress", h.progress)
		}
	}
	return r
}

func (h *Handler) health(c *gin.Context) {
	if h.deps.Health != nil {
		if err := h.deps.Health(c.Request.Context()); err != nil {
			h.logger.Warn("http.health.failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Serve runs handler on addr until ctx ends, then drains in-flight requests.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http.listen", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("http.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
