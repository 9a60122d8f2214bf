package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/exams-tracker/constants"
	"github.com/joseph-ayodele/exams-tracker/internal/export"
	"github.com/joseph-ayodele/exams-tracker/internal/extraction"
	"github.com/joseph-ayodele/exams-tracker/internal/notify"
	"github.com/joseph-ayodele/exams-tracker/internal/progress"
	"github.com/joseph-ayodele/exams-tracker/internal/repository"
	"github.com/joseph-ayodele/exams-tracker/internal/save"
	"github.com/joseph-ayodele/exams-tracker/internal/session"
	"github.com/joseph-ayodele/exams-tracker/internal/storage"
)

type extractFunc func(ctx context.Context, src extraction.Source, report extraction.ProgressFunc) extraction.Outcome

func (f extractFunc) Extract(ctx context.Context, src extraction.Source, report extraction.ProgressFunc) extraction.Outcome {
	return f(ctx, src, report)
}

var (
	_ Extractor   = extractFunc(nil)
	_ URLResolver = (*storage.AttachmentStore)(nil)
	_ Exporter    = (*export.Service)(nil)
)

func hemograma(ctx context.Context, src extraction.Source, report extraction.ProgressFunc) extraction.Outcome {
	report("Enviando documento...")
	return extraction.Success(map[string]map[string]string{
		constants.LabGerais: {"Hemoglobina": "14 g/dL"},
	})
}

type fixture struct {
	router  *gin.Engine
	objects *storage.MemoryStore
	blobs   *storage.BlobRegistry
	drafts  *session.Registry
	health  error
}

func newFixture(t *testing.T, ext extractFunc) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	db, err := repository.InitDatabase(ctx, repository.Config{Driver: "sqlite"}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	exams := repository.NewExamRepository(db.Driver, logger)
	notes := repository.NewNoteRepository(db.Driver, logger)
	objects := storage.NewMemoryStore("http://test/files")
	blobs := storage.NewBlobRegistry("http://test/blobs", time.Minute)
	attachments := storage.NewAttachmentStore(objects, blobs, logger)
	coordinator := save.NewCoordinator(exams, notes, attachments, save.Config{MaxAttempts: 1}, logger)

	drafts := session.NewRegistry(session.Deps{
		Extractor:   ext,
		Saver:       coordinator,
		Attachments: attachments,
		Progress:    progress.NewEmitter(progress.Config{Interval: time.Hour, Hold: -1}, logger),
		Sink:        &notify.Recorder{},
		Logger:      logger,
	})

	f := &fixture{objects: objects, blobs: blobs, drafts: drafts}
	h := NewHandler(Deps{
		Extractor:   ext,
		Drafts:      drafts,
		Exams:       exams,
		Notes:       notes,
		Attachments: attachments,
		Exports:     export.NewService(exams, logger),
		Objects:     objects,
		Blobs:       blobs,
		Health:      func(context.Context) error { return f.health },
	}, logger)
	f.router = NewRouter(h)
	return f
}

func (f *fixture) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) json(method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		r = bytes.NewReader(raw)
	}
	return f.do(method, path, r, "application/json")
}

func (f *fixture) upload(t *testing.T, path, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return f.do(http.MethodPost, path, &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, hemograma)

	w := f.do(http.MethodGet, "/api/v1/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))

	f.health = errors.New("db down")
	w = f.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestExtractOnce(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, src extraction.Source, report extraction.ProgressFunc) extraction.Outcome {
		if src.Name == "foto.jpg" {
			return extraction.ImageQualityFailure("Imagem ilegível", "Tire outra foto com mais luz")
		}
		assert.Equal(t, "application/pdf", src.MimeType)
		assert.Equal(t, []byte("%PDF-1.4"), src.Blob)
		return hemograma(ctx, src, report)
	})

	tests := []struct {
		name   string
		file   string
		status int
		kind   extraction.Kind
	}{
		{"document", "laudo.pdf", http.StatusOK, extraction.KindSuccess},
		{"blurry photo", "foto.jpg", http.StatusUnprocessableEntity, extraction.KindImageQuality},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte("%PDF-1.4")
			w := f.upload(t, "/api/v1/extract", tt.file, body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decode[outcomeResponse](t, w)
			assert.Equal(t, tt.kind, resp.Outcome.Kind)
			assert.NotEmpty(t, resp.Notification.Message)
		})
	}

	w := f.do(http.MethodPost, "/api/v1/extract", strings.NewReader(""), "multipart/form-data; boundary=x")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOutcomeStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnsupportedMediaType, outcomeStatus(extraction.Warning("unsupported type")))
	assert.Equal(t, http.StatusGatewayTimeout, outcomeStatus(extraction.Failure("timeout", "transient")))
	assert.Equal(t, http.StatusBadRequest, outcomeStatus(extraction.Failure("empty", "validation")))
	assert.Equal(t, http.StatusBadGateway, outcomeStatus(extraction.Failure("server error 500", "")))
}

func TestDraftLifecycle(t *testing.T) {
	f := newFixture(t, hemograma)
	base := "/api/v1/owners/owner-1/patients/pat-1"

	w := f.json(http.MethodPost, base+"/drafts", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	draft := decode[draftView](t, w)
	assert.Equal(t, constants.DefaultCategory, draft.Exam.Category)
	draftPath := "/api/v1/drafts/" + draft.ID.String()

	w = f.upload(t, draftPath+"/attachments", "hemograma.pdf", []byte("%PDF-1.4 laudo"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []string{"hemograma.pdf"}, decode[draftView](t, w).Staged)

	w = f.upload(t, draftPath+"/attachments", "hemograma.pdf", []byte("%PDF"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// a staged attachment resolves to a transient blob URL served by the API
	w = f.do(http.MethodGet, draftPath+"/attachments/hemograma.pdf/url", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	blobURL := decode[map[string]string](t, w)
	assert.Equal(t, storage.SourceBlob, blobURL["source"])
	w = f.do(http.MethodGet, strings.TrimPrefix(blobURL["url"], "http://test"), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4 laudo", w.Body.String())

	w = f.json(http.MethodPost, draftPath+"/attachments/hemograma.pdf/extract", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	processed := decode[outcomeResponse](t, w)
	require.NotNil(t, processed.Draft)
	entry, ok := processed.Draft.Exam.Results.Get(constants.LabGerais, "Hemoglobina")
	require.True(t, ok)
	assert.Equal(t, "14 g/dL", entry.Value)
	assert.Equal(t, "hemograma", processed.Draft.Exam.Title)
	assert.Contains(t, processed.Draft.Exam.Observations, "hemograma.pdf")

	w = f.json(http.MethodGet, draftPath+"/attachments/hemograma.pdf/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[session.ProgressState](t, w).Running)

	w = f.json(http.MethodPatch, draftPath, map[string]any{
		"title":    "Hemograma completo",
		"examDate": "2024-05-02",
		"results":  map[string]map[string]string{constants.Vitaminas: {"Vitamina D": "30 ng/mL"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	patched := decode[draftView](t, w)
	assert.Equal(t, "Hemograma completo", patched.Exam.Title)
	assert.Equal(t, 2, patched.Exam.Results.Len())

	w = f.json(http.MethodPost, draftPath+"/save", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	saved := decode[saveResponse](t, w)
	require.NotEqual(t, uuid.Nil, saved.ExamID)
	assert.Empty(t, saved.FailedUploads)
	assert.Empty(t, saved.Draft.Staged)
	assert.Equal(t, notify.Success, saved.Notification.Severity)
	examPath := base + "/exams/" + saved.ExamID.String()

	w = f.json(http.MethodGet, base+"/exams", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), saved.ExamID.String())

	w = f.json(http.MethodGet, examPath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Hemograma completo")

	w = f.json(http.MethodGet, examPath+"/attachments/hemograma.pdf/url", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stored := decode[map[string]string](t, w)
	assert.Equal(t, storage.SourceFileURL, stored["source"])
	wantPath := storage.ObjectPath(storage.ExamPrefix("owner-1", "pat-1", saved.ExamID), "hemograma.pdf")
	assert.Equal(t, "http://test/files/"+wantPath, stored["url"])

	w = f.do(http.MethodGet, "/files/"+wantPath, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4 laudo", w.Body.String())

	w = f.do(http.MethodGet, examPath+"/export.xlsx", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.NotZero(t, w.Body.Len())

	w = f.do(http.MethodGet, base+"/export.xlsx?from=2024-01-01&to=2024-12-31", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(http.MethodGet, base+"/export.xlsx?from=yesterday", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.json(http.MethodPost, examPath+"/drafts", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	reopened := decode[draftView](t, w)
	assert.Equal(t, saved.ExamID, reopened.Exam.ID)
	assert.NotEqual(t, draft.ID, reopened.ID)

	w = f.json(http.MethodDelete, examPath, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.objects.Paths())
	w = f.json(http.MethodGet, examPath, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.json(http.MethodDelete, draftPath, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.json(http.MethodGet, draftPath, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelDiscardsLateResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, src extraction.Source, report extraction.ProgressFunc) extraction.Outcome {
		close(started)
		<-release
		return hemograma(ctx, src, report)
	})
	s := f.drafts.New("owner-1", "pat-1")
	_, err := s.Stage("laudo.pdf", "", []byte("%PDF"))
	require.NoError(t, err)
	draftPath := "/api/v1/drafts/" + s.ID.String()

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- f.json(http.MethodPost, draftPath+"/attachments/laudo.pdf/extract", nil)
	}()
	<-started

	w := f.json(http.MethodGet, draftPath+"/attachments/laudo.pdf/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[session.ProgressState](t, w).Running)

	w = f.json(http.MethodPost, draftPath+"/attachments/laudo.pdf/extract", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.json(http.MethodDelete, draftPath+"/attachments/laudo.pdf", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.json(http.MethodPost, draftPath+"/attachments/laudo.pdf/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[session.ProgressState](t, w).Running)

	close(release)
	late := <-done
	assert.Equal(t, http.StatusConflict, late.Code)
	assert.Equal(t, "EXTRACTION_CANCELLED", decode[map[string]any](t, late)["code"])
	assert.True(t, s.Snapshot().Results.IsEmpty())

	w = f.json(http.MethodDelete, draftPath+"/attachments/laudo.pdf", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "warning")
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, hemograma)
	s := f.drafts.New("owner-1", "pat-1")
	draftPath := "/api/v1/drafts/" + s.ID.String()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"malformed draft id", http.MethodGet, "/api/v1/drafts/nope", nil, http.StatusBadRequest},
		{"unknown draft", http.MethodGet, "/api/v1/drafts/" + uuid.NewString(), nil, http.StatusNotFound},
		{"bad date", http.MethodPatch, draftPath, map[string]any{"examDate": "02/05/2024"}, http.StatusBadRequest},
		{"empty title", http.MethodPatch, draftPath, map[string]any{"title": " "}, http.StatusBadRequest},
		{"unknown attachment", http.MethodPost, draftPath + "/attachments/x.pdf/extract", nil, http.StatusNotFound},
		{"cancel with nothing running", http.MethodPost, draftPath + "/attachments/x.pdf/cancel", nil, http.StatusNotFound},
		{"save without title", http.MethodPost, draftPath + "/save", nil, http.StatusBadRequest},
		{"foreign exam", http.MethodGet, "/api/v1/owners/o/patients/p/exams/" + uuid.NewString(), nil, http.StatusNotFound},
		{"expired blob", http.MethodGet, "/blobs/" + uuid.NewString(), nil, http.StatusNotFound},
		{"missing file", http.MethodGet, "/files/o/patients/p/x.pdf", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.json(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestForeignOwnerCannotReadExam(t *testing.T) {
	f := newFixture(t, hemograma)
	s := f.drafts.New("owner-1", "pat-1")
	title := "Perfil lipídico"
	require.NoError(t, s.SetFields(session.Fields{Title: &title}))
	res, err := s.Save(context.Background())
	require.NoError(t, err)

	w := f.json(http.MethodGet, "/api/v1/owners/owner-2/patients/pat-1/exams/"+res.ExamID().String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.json(http.MethodGet, "/api/v1/owners/owner-1/patients/pat-1/exams/"+res.ExamID().String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
