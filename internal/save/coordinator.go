package save

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/exams-tracker/constants"
	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/entity"
	"github.com/joseph-ayodele/exams-tracker/internal/storage"
)

// ExamWriter is the subset of the exam repository the coordinator needs.
type ExamWriter interface {
	Create(ctx context.Context, exam *entity.Exam) (*entity.Exam, error)
	Update(ctx context.Context, exam *entity.Exam) (*entity.Exam, error)
	UpdateAttachments(ctx context.Context, examID uuid.UUID, attachments []entity.Attachment) error
}

type NoteStore interface {
	GetByExamID(ctx context.Context, examID uuid.UUID) (*entity.Note, error)
	Create(ctx context.Context, note *entity.Note) (*entity.Note, error)
	Update(ctx context.Context, note *entity.Note) (*entity.Note, error)
}

type Uploader interface {
	Upload(ctx context.Context, a entity.Attachment, ownerPath string) (entity.Attachment, error)
}

type Config struct {
	MaxAttempts       int
	Backoff           time.Duration
	UploadConcurrency int
}

// UploadFailure records one staged attachment that could not be uploaded.
type UploadFailure struct {
	FileName string `json:"fileName"`
	Error    string `json:"error"`
}

// Result describes a successful save. Failed uploads and note errors do not fail the save.
type Result struct {
	// Exam holds the stored record. Its attachment list keeps failed uploads staged so a later save can retry them.
	Exam          *entity.Exam    `json:"exam"`
	Note          *entity.Note    `json:"note,omitempty"`
	NoteErr       error           `json:"-"`
	FailedUploads []UploadFailure `json:"failedUploads"`
	Attempts      int             `json:"attempts"`
}

func (r *Result) ExamID() uuid.UUID {
	return r.Exam.ID
}

// PartialError reports failed uploads as an ErrPartial error, or nil when every upload succeeded.
func (r *Result) PartialError() error {
	if len(r.FailedUploads) == 0 {
		return nil
	}
	return common.NewAppError("PARTIAL_SAVE",
		fmt.Sprintf("%d attachment(s) failed to upload", len(r.FailedUploads)), common.ErrPartial)
}

type Coordinator struct {
	exams    ExamWriter
	notes    NoteStore
	uploader Uploader
	cfg      Config
	logger   *slog.Logger
}

func NewCoordinator(exams ExamWriter, notes NoteStore, uploader Uploader, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.UploadConcurrency < 1 {
		cfg.UploadConcurrency = 4
	}
	return &Coordinator{exams: exams, notes: notes, uploader: uploader, cfg: cfg, logger: logger}
}

// attemptState carries work that already reached the store from one attempt into the next.
type attemptState struct {
	exam     *entity.Exam
	failures []UploadFailure
	note     *entity.Note
	noteErr  error
	// listDirty is set while uploaded attachments are missing from the stored list
	listDirty bool
}

// Save persists the draft: exam fields and results, staged attachment uploads, the attachment
// list, then the linked note. The whole sequence is retried up to MaxAttempts times.
func (c *Coordinator) Save(ctx context.Context, draft *entity.Exam) (*Result, error) {
	if err := validateDraft(draft); err != nil {
		c.logger.Warn("save.rejected", "error", err)
		return nil, err
	}

	state := &attemptState{exam: draft.Clone()}
	attempts, err := Retry(ctx, Policy{MaxAttempts: c.cfg.MaxAttempts, Backoff: c.cfg.Backoff},
		func(ctx context.Context, attempt int) error {
			err := c.attempt(ctx, state)
			if err != nil {
				c.logger.Warn("save.attempt.failed", "attempt", attempt, "max_attempts", c.cfg.MaxAttempts,
					"exam_id", state.exam.ID, "error", err)
			}
			return err
		})
	if err != nil {
		if common.KindOf(err) == common.KindValidation || ctx.Err() != nil {
			return nil, err
		}
		c.logger.Error("save.failed", "attempts", attempts, "exam_id", state.exam.ID, "error", err)
		return nil, common.NewAppError("SAVE_FAILED",
			fmt.Sprintf("could not save exam after %d attempts", attempts), errors.Join(common.ErrFatal, err))
	}

	res := &Result{
		Exam:          state.exam,
		Note:          state.note,
		NoteErr:       state.noteErr,
		FailedUploads: state.failures,
		Attempts:      attempts,
	}
	c.logger.Info("save.ok", "exam_id", res.Exam.ID, "attempts", attempts,
		"failed_uploads", len(res.FailedUploads), "note_ok", res.NoteErr == nil)
	return res, nil
}

func (c *Coordinator) attempt(ctx context.Context, st *attemptState) error {
	// 1. exam record without blobs; once created, later attempts update the same id
	stored, err := c.writeExam(ctx, st.exam)
	if err != nil {
		return err
	}
	working := stored.Clone()
	working.Attachments = st.exam.Attachments

	// 2. uploads settle independently
	uploaded, failures := c.uploadStaged(ctx, working)

	// 3. attachment list = already persisted + fresh successes, in draft order
	if len(uploaded) > 0 || st.listDirty {
		merged := make([]entity.Attachment, 0, len(working.Attachments))
		for i, a := range working.Attachments {
			if p, ok := uploaded[i]; ok {
				merged = append(merged, p)
				continue
			}
			merged = append(merged, a)
		}
		if err := c.exams.UpdateAttachments(ctx, working.ID, merged); err != nil {
			// successes stay in place so the next attempt does not upload them again
			working.Attachments = merged
			st.exam = working
			st.listDirty = true
			return common.WrapError(err, "update attachment list")
		}
		working.Attachments = merged
		st.listDirty = false
	}
	st.exam = working
	st.failures = failures

	// 4. note upsert never fails the attempt
	st.note, st.noteErr = c.upsertNote(ctx, working)
	if st.noteErr != nil {
		c.logger.Warn("save.note.failed", "exam_id", working.ID, "error", st.noteErr)
	}
	return nil
}

func (c *Coordinator) writeExam(ctx context.Context, exam *entity.Exam) (*entity.Exam, error) {
	if exam.IsNew() {
		created, err := c.exams.Create(ctx, exam)
		if err != nil {
			return nil, common.WrapError(err, "create exam")
		}
		return created, nil
	}
	updated, err := c.exams.Update(ctx, exam)
	if err != nil {
		return nil, common.WrapError(err, "update exam")
	}
	return updated, nil
}

// uploadStaged uploads every staged attachment concurrently and returns the persisted
// replacements keyed by their index in exam.Attachments, plus the failures.
func (c *Coordinator) uploadStaged(ctx context.Context, exam *entity.Exam) (map[int]entity.Attachment, []UploadFailure) {
	ownerPath := storage.ExamPrefix(exam.OwnerID, exam.PatientID, exam.ID)

	type outcome struct {
		att entity.Attachment
		err error
	}
	results := make(map[int]*outcome)
	for i, a := range exam.Attachments {
		if a.IsStaged() {
			results[i] = &outcome{}
		}
	}
	if len(results) == 0 {
		return nil, nil
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.UploadConcurrency)
	for i, out := range results {
		a := exam.Attachments[i]
		g.Go(func() error {
			out.att, out.err = c.uploader.Upload(ctx, a, ownerPath)
			return nil
		})
	}
	_ = g.Wait()

	uploaded := make(map[int]entity.Attachment, len(results))
	var failures []UploadFailure
	for i := range exam.Attachments {
		out, ok := results[i]
		if !ok {
			continue
		}
		if out.err != nil {
			failures = append(failures, UploadFailure{FileName: exam.Attachments[i].FileName, Error: out.err.Error()})
			continue
		}
		uploaded[i] = out.att
	}
	c.logger.Info("save.uploads.settled", "exam_id", exam.ID, "uploaded", len(uploaded), "failed", len(failures))
	return uploaded, failures
}

func (c *Coordinator) upsertNote(ctx context.Context, exam *entity.Exam) (*entity.Note, error) {
	note := BuildNote(exam)
	existing, err := c.notes.GetByExamID(ctx, exam.ID)
	switch {
	case err == nil:
		note.ID = existing.ID
		note.CreatedAt = existing.CreatedAt
		return c.notes.Update(ctx, note)
	case errors.Is(err, common.ErrNotFound):
		return c.notes.Create(ctx, note)
	default:
		return nil, err
	}
}

// BuildNote derives the clinical note summarising exam.
func BuildNote(exam *entity.Exam) *entity.Note {
	var b strings.Builder
	fmt.Fprintf(&b, "Exame: %s\n", exam.Title)
	if !exam.ExamDate.IsZero() {
		fmt.Fprintf(&b, "Data: %s\n", exam.ExamDate.Format("02/01/2006"))
	}
	if exam.Category != "" {
		fmt.Fprintf(&b, "Categoria: %s\n", exam.Category)
	}
	if obs := strings.TrimSpace(exam.Observations); obs != "" {
		fmt.Fprintf(&b, "Observações: %s\n", obs)
	}
	if !exam.Results.IsEmpty() {
		b.WriteString("\n")
		b.WriteString(constants.NoteResultsMarker)
		b.WriteString("\n")
		for _, e := range exam.Results.Entries() {
			fmt.Fprintf(&b, "- %s / %s: %s\n", e.Category, e.Exam, e.Value)
		}
	}
	if n := len(entity.PersistedOnly(exam.Attachments)); n > 0 {
		fmt.Fprintf(&b, "\nAnexos: %d\n", n)
	}

	return &entity.Note{
		OwnerID:          exam.OwnerID,
		PatientID:        exam.PatientID,
		NoteTitle:        "Exame - " + exam.Title,
		NoteText:         strings.TrimRight(b.String(), "\n"),
		NoteType:         constants.NoteTypeExam,
		Category:         constants.NoteCategoryExam,
		ConsultationDate: exam.ExamDate,
		ExameID:          exam.ID,
	}
}

func validateDraft(exam *entity.Exam) error {
	if exam == nil {
		return common.ValidationFailed("exam is required")
	}
	v := common.NewValidator()
	v.Field("title", exam.Title, common.Required, common.MaxLength(200))
	v.Field("ownerId", exam.OwnerID, common.Required)
	v.Field("patientId", exam.PatientID, common.Required)
	return common.ValidateAndReturnError(v)
}
