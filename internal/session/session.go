package session

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/exams-tracker/constants"
	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/entity"
	"github.com/joseph-ayodele/exams-tracker/internal/extraction"
	"github.com/joseph-ayodele/exams-tracker/internal/merge"
	"github.com/joseph-ayodele/exams-tracker/internal/notify"
	"github.com/joseph-ayodele/exams-tracker/internal/progress"
	"github.com/joseph-ayodele/exams-tracker/internal/save"
	"github.com/joseph-ayodele/exams-tracker/internal/storage"
)

// ErrDiscarded is returned by Process when the extraction was cancelled before its result arrived.
var ErrDiscarded = common.NewAppError("EXTRACTION_CANCELLED", "extraction was cancelled; result discarded", common.ErrConflict)

type Extractor interface {
	Extract(ctx context.Context, src extraction.Source, report extraction.ProgressFunc) extraction.Outcome
}

type Saver interface {
	Save(ctx context.Context, draft *entity.Exam) (*save.Result, error)
}

type AttachmentStore interface {
	Stage(fileName, fileType string, data []byte) (entity.Attachment, error)
	Remove(ctx context.Context, list []entity.Attachment, fileName string) ([]entity.Attachment, error)
	ResolveURL(ctx context.Context, a entity.Attachment, loc storage.Locator) (storage.Resolved, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Extractor   Extractor
	Saver       Saver
	Attachments AttachmentStore
	Progress    *progress.Emitter
	Sink        notify.Sink
	Logger      *slog.Logger
}

// Fields is a partial update of the exam's scalar fields. Nil fields are left alone.
type Fields struct {
	Title        *string    `json:"title,omitempty"`
	ExamDate     *time.Time `json:"examDate,omitempty"`
	Category     *string    `json:"category,omitempty"`
	Observations *string    `json:"observations,omitempty"`
}

// ProgressState is the progress of one attachment's extraction.
type ProgressState struct {
	FileName string `json:"fileName"`
	Percent  int    `json:"percent"`
	Stage    string `json:"stage,omitempty"`
	Running  bool   `json:"running"`
}

type job struct {
	token     *progress.Token
	stage     string
	cancelled bool
}

// Session is the single mutator of one exam draft: its fields, result table and attachment list.
type Session struct {
	ID     uuid.UUID
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	exam     *entity.Exam
	noteID   uuid.UUID
	inflight map[string]*job
	last     map[string]*job
}

// New starts a draft for a new exam.
func New(ownerID, patientID string, deps Deps) *Session {
	return Open(&entity.Exam{
		OwnerID:   ownerID,
		PatientID: patientID,
		Category:  constants.DefaultCategory,
		ExamDate:  entity.DateOnly(time.Now().UTC()),
	}, deps)
}

// Open starts a draft from an existing exam.
func Open(exam *entity.Exam, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Sink == nil {
		deps.Sink = notify.NewSlogSink(logger)
	}
	if deps.Progress == nil {
		deps.Progress = progress.NewEmitter(progress.Config{}, logger)
	}
	draft := exam.Clone()
	if draft.Results == nil {
		draft.Results = entity.NewResultTable()
	}
	id := uuid.New()
	return &Session{
		ID:       id,
		deps:     deps,
		logger:   logger.With("session_id", id),
		exam:     draft,
		inflight: map[string]*job{},
		last:     map[string]*job{},
	}
}

// Snapshot returns a copy of the current draft.
func (s *Session) Snapshot() *entity.Exam {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exam.Clone()
}

func (s *Session) SetFields(f Fields) error {
	v := common.NewValidator()
	if f.Title != nil {
		v.Field("title", *f.Title, common.Required, common.MaxLength(200))
	}
	if f.Category != nil {
		v.Field("category", *f.Category, common.Required)
	}
	if err := common.ValidateAndReturnError(v); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Title != nil {
		s.exam.Title = strings.TrimSpace(*f.Title)
	}
	if f.ExamDate != nil {
		s.exam.ExamDate = entity.DateOnly(*f.ExamDate)
	}
	if f.Category != nil {
		s.exam.Category = *f.Category
	}
	if f.Observations != nil {
		s.exam.Observations = *f.Observations
	}
	return nil
}

// SetResult writes one result entry by hand.
func (s *Session) SetResult(category, exam, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exam.Results.Set(category, exam, value)
}

// ClearResults drops every result. It is the only way merged values go away.
func (s *Session) ClearResults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exam.Results = entity.NewResultTable()
}

// Stage adds a local file to the attachment list.
func (s *Session) Stage(fileName, fileType string, data []byte) (entity.Attachment, error) {
	a, err := s.deps.Attachments.Stage(fileName, fileType, data)
	if err != nil {
		return entity.Attachment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.find(a.FileName); ok {
		return entity.Attachment{}, common.ValidationFailed(fmt.Sprintf("an attachment named %q already exists", a.FileName))
	}
	s.exam.Attachments = append(s.exam.Attachments, a)
	s.logger.Info("session.stage", "file_name", a.FileName, "size", a.FileSize)
	return a, nil
}

// Remove drops an attachment, deleting the remote object first when it was persisted.
// The attachment leaves the list even when the remote delete fails; that error is returned.
func (s *Session) Remove(ctx context.Context, fileName string) error {
	s.mu.Lock()
	if _, busy := s.inflight[fileName]; busy {
		s.mu.Unlock()
		return common.NewAppError("EXTRACTION_IN_PROGRESS", fmt.Sprintf("%s is being processed", fileName), common.ErrConflict)
	}
	list := append([]entity.Attachment(nil), s.exam.Attachments...)
	s.mu.Unlock()

	next, err := s.deps.Attachments.Remove(ctx, list, fileName)

	s.mu.Lock()
	s.exam.Attachments = next
	delete(s.last, fileName)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("session.remove.failed", "file_name", fileName, "error", err)
	}
	return err
}

// Process extracts results from one attachment and merges them into the draft.
// A second call for the same attachment while one is running is rejected.
func (s *Session) Process(ctx context.Context, fileName string) (extraction.Outcome, error) {
	s.mu.Lock()
	a, ok := s.find(fileName)
	if !ok {
		s.mu.Unlock()
		return extraction.Outcome{}, common.NewAppError("NOT_FOUND", fmt.Sprintf("attachment %s not found", fileName), common.ErrNotFound)
	}
	if _, busy := s.inflight[fileName]; busy {
		s.mu.Unlock()
		return extraction.Outcome{}, common.NewAppError("EXTRACTION_IN_PROGRESS", fmt.Sprintf("%s is already being processed", fileName), common.ErrConflict)
	}
	j := &job{}
	j.token = s.deps.Progress.Start(nil)
	s.inflight[fileName] = j
	s.last[fileName] = j
	s.mu.Unlock()

	s.logger.Info("session.process.start", "file_name", fileName)
	out := s.deps.Extractor.Extract(ctx, sourceOf(a), func(stage string) {
		s.mu.Lock()
		j.stage = stage
		s.mu.Unlock()
	})

	s.mu.Lock()
	if j.cancelled {
		s.mu.Unlock()
		s.logger.Info("session.process.discarded", "file_name", fileName, "kind", out.Kind)
		return out, ErrDiscarded
	}
	delete(s.inflight, fileName)
	if out.IsSuccess() {
		stats := merge.Diff(s.exam.Results, out.Data)
		s.exam.Results = merge.Merge(s.exam.Results, out.Data)
		s.exam.AppendObservation(fmt.Sprintf("Resultados extraídos automaticamente de %s em %s.",
			fileName, time.Now().UTC().Format("02/01/2006")))
		if strings.TrimSpace(s.exam.Title) == "" {
			s.exam.Title = titleFromFile(fileName)
		}
		s.logger.Info("session.process.merged", "file_name", fileName,
			"added", stats.Added, "overwritten", stats.Overwritten, "overflow", stats.Overflow)
	}
	s.mu.Unlock()

	if out.IsSuccess() {
		j.token.Complete()
	} else {
		j.token.Cancel()
	}
	s.deps.Sink.Notify(ctx, notify.FromOutcome(fileName, out))
	return out, nil
}

// Cancel abandons a running extraction. Its result is discarded when it arrives.
func (s *Session) Cancel(fileName string) error {
	s.mu.Lock()
	j, ok := s.inflight[fileName]
	if !ok {
		s.mu.Unlock()
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("no extraction running for %s", fileName), common.ErrNotFound)
	}
	j.cancelled = true
	delete(s.inflight, fileName)
	s.mu.Unlock()

	j.token.Cancel()
	s.logger.Info("session.process.cancelled", "file_name", fileName)
	return nil
}

func (s *Session) Progress(fileName string) ProgressState {
	s.mu.Lock()
	j, ok := s.last[fileName]
	_, running := s.inflight[fileName]
	stage := ""
	if ok {
		stage = j.stage
	}
	s.mu.Unlock()

	st := ProgressState{FileName: fileName, Stage: stage, Running: running}
	if ok {
		st.Percent = j.token.Percent()
	}
	return st
}

// Save persists the draft. On success the draft picks up the stored id and attachment list.
func (s *Session) Save(ctx context.Context) (*save.Result, error) {
	draft := s.Snapshot()
	res, err := s.deps.Saver.Save(ctx, draft)
	s.deps.Sink.Notify(ctx, notify.FromSave(res, err))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.exam.ID = res.Exam.ID
	s.exam.CreatedAt = res.Exam.CreatedAt
	s.exam.LastModified = res.Exam.LastModified
	s.exam.Attachments = reconcile(s.exam.Attachments, res.Exam.Attachments)
	if res.Note != nil {
		s.noteID = res.Note.ID
	}
	s.mu.Unlock()
	return res, nil
}

// ResolveURL finds a displayable URL for an attachment of the draft.
func (s *Session) ResolveURL(ctx context.Context, fileName string) (storage.Resolved, error) {
	s.mu.Lock()
	a, ok := s.find(fileName)
	loc := storage.Locator{OwnerID: s.exam.OwnerID, PatientID: s.exam.PatientID, ExamID: s.exam.ID, NoteID: s.noteID}
	s.mu.Unlock()
	if !ok {
		return storage.Resolved{}, common.NewAppError("NOT_FOUND", fmt.Sprintf("attachment %s not found", fileName), common.ErrNotFound)
	}
	return s.deps.Attachments.ResolveURL(ctx, a, loc)
}

// Close cancels every running extraction.
func (s *Session) Close() {
	s.mu.Lock()
	names := make([]string, 0, len(s.inflight))
	for name := range s.inflight {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		_ = s.Cancel(name)
	}
}

func (s *Session) find(fileName string) (entity.Attachment, bool) {
	for _, a := range s.exam.Attachments {
		if a.FileName == fileName {
			return a, true
		}
	}
	return entity.Attachment{}, false
}

func sourceOf(a entity.Attachment) extraction.Source {
	src := extraction.Source{Name: a.FileName, MimeType: a.FileType, StoragePath: a.StoragePath}
	switch {
	case a.Local != nil:
		src.Blob = a.Local.Data
	case a.FileURL != "":
		src.URL = a.FileURL
	default:
		src.URL = a.URL
	}
	return src
}

// reconcile adopts the saved form of attachments that are still in the draft. Attachments
// staged while the save ran are kept as they are.
func reconcile(current, saved []entity.Attachment) []entity.Attachment {
	byName := make(map[string]entity.Attachment, len(saved))
	for _, a := range saved {
		byName[a.FileName] = a
	}
	out := make([]entity.Attachment, 0, len(current))
	for _, a := range current {
		if p, ok := byName[a.FileName]; ok && p.IsPersisted() {
			out = append(out, p)
			continue
		}
		out = append(out, a)
	}
	return out
}

func titleFromFile(fileName string) string {
	base := strings.TrimSuffix(fileName, path.Ext(fileName))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	base = strings.TrimSpace(base)
	if base == "" {
		return "Exame"
	}
	return base
}
