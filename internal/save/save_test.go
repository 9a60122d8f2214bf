package save

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/exams-tracker/constants"
	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/entity"
)

var (
	_ ExamWriter = (*MockExams)(nil)
	_ NoteStore  = (*MockNotes)(nil)
	_ Uploader   = (*MockUploader)(nil)
)

type MockExams struct {
	CreateFunc            func(ctx context.Context, exam *entity.Exam) (*entity.Exam, error)
	UpdateFunc            func(ctx context.Context, exam *entity.Exam) (*entity.Exam, error)
	UpdateAttachmentsFunc func(ctx context.Context, examID uuid.UUID, attachments []entity.Attachment) error
	CreateCalls           atomic.Int32
	UpdateCalls           atomic.Int32

	mu          sync.Mutex
	Attachments []entity.Attachment
}

func (m *MockExams) Create(ctx context.Context, exam *entity.Exam) (*entity.Exam, error) {
	m.CreateCalls.Add(1)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, exam)
	}
	out := exam.Clone()
	out.ID = uuid.New()
	out.Attachments = entity.PersistedOnly(out.Attachments)
	return out, nil
}

func (m *MockExams) Update(ctx context.Context, exam *entity.Exam) (*entity.Exam, error) {
	m.UpdateCalls.Add(1)
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, exam)
	}
	m.mu.Lock()
	m.Attachments = entity.PersistedOnly(exam.Attachments)
	m.mu.Unlock()
	return exam.Clone(), nil
}

func (m *MockExams) UpdateAttachments(ctx context.Context, examID uuid.UUID, attachments []entity.Attachment) error {
	if m.UpdateAttachmentsFunc != nil {
		if err := m.UpdateAttachmentsFunc(ctx, examID, attachments); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attachments = entity.PersistedOnly(attachments)
	return nil
}

type MockNotes struct {
	mu        sync.Mutex
	byExam    map[uuid.UUID]*entity.Note
	CreateErr error
	Creates   atomic.Int32
	Updates   atomic.Int32
}

func NewMockNotes() *MockNotes {
	return &MockNotes{byExam: map[uuid.UUID]*entity.Note{}}
}

func (m *MockNotes) GetByExamID(ctx context.Context, examID uuid.UUID) (*entity.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byExam[examID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *MockNotes) Create(ctx context.Context, note *entity.Note) (*entity.Note, error) {
	m.Creates.Add(1)
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *note
	out.ID = uuid.New()
	m.byExam[out.ExameID] = &out
	return &out, nil
}

func (m *MockNotes) Update(ctx context.Context, note *entity.Note) (*entity.Note, error) {
	m.Updates.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *note
	m.byExam[out.ExameID] = &out
	return &out, nil
}

type MockUploader struct {
	UploadFunc func(ctx context.Context, a entity.Attachment, ownerPath string) (entity.Attachment, error)
	Calls      atomic.Int32
}

func (m *MockUploader) Upload(ctx context.Context, a entity.Attachment, ownerPath string) (entity.Attachment, error) {
	m.Calls.Add(1)
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, a, ownerPath)
	}
	p := ownerPath + "/" + a.FileName
	return a.Persisted("https://files.example/"+p, p), nil
}

func staged(name string) entity.Attachment {
	return entity.Attachment{FileName: name, FileType: "application/pdf", FileSize: 3, Local: &entity.LocalFile{Data: []byte("abc")}}
}

func draft() *entity.Exam {
	results := entity.NewResultTable()
	results.Set(constants.LabGerais, "Hemoglobina", "14 g/dL")
	return &entity.Exam{
		OwnerID:   "owner",
		PatientID: "patient",
		Title:     "Hemograma",
		ExamDate:  time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		Category:  constants.LabGerais,
		Results:   results,
	}
}

func fastConfig() Config {
	return Config{MaxAttempts: 3, Backoff: time.Millisecond, UploadConcurrency: 2}
}

func TestRetry(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		failures int
		err      error
		wantN    int
		wantErr  bool
	}{
		{name: "first try", failures: 0, wantN: 1},
		{name: "second try", failures: 1, err: boom, wantN: 2},
		{name: "exhausted", failures: 5, err: boom, wantN: 3, wantErr: true},
		{name: "validation stops", failures: 5, err: common.ValidationFailed("bad"), wantN: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			n, err := Retry(context.Background(), Policy{MaxAttempts: 3, Backoff: time.Millisecond},
				func(ctx context.Context, attempt int) error {
					calls++
					assert.Equal(t, calls, attempt)
					if calls <= tt.failures {
						return tt.err
					}
					return nil
				})
			assert.Equal(t, tt.wantN, n)
			assert.Equal(t, tt.wantN, calls)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	n, err := Retry(ctx, Policy{MaxAttempts: 3, Backoff: time.Hour}, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errors.New("down")
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSaveHappyPath(t *testing.T) {
	exams := &MockExams{}
	notes := NewMockNotes()
	up := &MockUploader{}
	c := NewCoordinator(exams, notes, up, fastConfig(), nil)

	d := draft()
	d.Attachments = []entity.Attachment{staged("a.pdf"), staged("b.pdf")}
	res, err := c.Save(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	assert.NotEqual(t, uuid.Nil, res.ExamID())
	assert.Empty(t, res.FailedUploads)
	assert.NoError(t, res.PartialError())
	require.Len(t, exams.Attachments, 2)
	for _, a := range exams.Attachments {
		assert.True(t, strings.HasPrefix(a.StoragePath, "owner/patients/patient/exams/"+res.ExamID().String()))
		assert.Nil(t, a.Local)
	}

	require.NotNil(t, res.Note)
	assert.Equal(t, res.ExamID(), res.Note.ExameID)
	assert.Equal(t, constants.NoteTypeExam, res.Note.NoteType)
	assert.Equal(t, constants.NoteCategoryExam, res.Note.Category)
	assert.Contains(t, res.Note.NoteText, constants.NoteResultsMarker)
	assert.Contains(t, res.Note.NoteText, "Hemoglobina: 14 g/dL")
	assert.True(t, d.Attachments[0].IsStaged(), "draft is not mutated")
	assert.True(t, d.IsNew())
}

func TestSaveFatalAfterThreeAttempts(t *testing.T) {
	exams := &MockExams{
		CreateFunc: func(ctx context.Context, exam *entity.Exam) (*entity.Exam, error) {
			return nil, errors.New("connection refused")
		},
	}
	up := &MockUploader{}
	c := NewCoordinator(exams, NewMockNotes(), up, fastConfig(), nil)

	d := draft()
	d.Attachments = []entity.Attachment{staged("a.pdf")}
	res, err := c.Save(context.Background(), d)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, common.ErrFatal)
	assert.Equal(t, common.KindFatal, common.KindOf(err))
	assert.Equal(t, int32(3), exams.CreateCalls.Load(), "no fourth attempt")
	assert.Equal(t, int32(0), up.Calls.Load())
}

func TestSaveRecoversOnSecondAttempt(t *testing.T) {
	var failOnce atomic.Bool
	exams := &MockExams{
		UpdateAttachmentsFunc: func(ctx context.Context, examID uuid.UUID, attachments []entity.Attachment) error {
			if failOnce.CompareAndSwap(false, true) {
				return errors.New("timeout")
			}
			return nil
		},
	}
	up := &MockUploader{}
	c := NewCoordinator(exams, NewMockNotes(), up, fastConfig(), nil)

	d := draft()
	d.Attachments = []entity.Attachment{staged("a.pdf")}
	res, err := c.Save(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(1), exams.CreateCalls.Load(), "second attempt updates the created exam")
	assert.Equal(t, int32(1), exams.UpdateCalls.Load())
	assert.Equal(t, int32(1), up.Calls.Load(), "uploaded attachment is not uploaded again")
	require.Len(t, exams.Attachments, 1, "list is rewritten on the retry")
	assert.Equal(t, "a.pdf", exams.Attachments[0].FileName)
}

func TestSavePartialUploads(t *testing.T) {
	exams := &MockExams{}
	up := &MockUploader{}
	up.UploadFunc = func(ctx context.Context, a entity.Attachment, ownerPath string) (entity.Attachment, error) {
		if a.FileName == "bad.png" {
			return entity.Attachment{}, errors.New("storage unavailable")
		}
		p := ownerPath + "/" + a.FileName
		return a.Persisted("https://files.example/"+p, p), nil
	}
	c := NewCoordinator(exams, NewMockNotes(), up, fastConfig(), nil)

	d := draft()
	d.ID = uuid.New()
	previous := entity.Attachment{FileName: "old.pdf", FileType: "application/pdf", StoragePath: "owner/patients/patient/exams/x/old.pdf"}
	d.Attachments = []entity.Attachment{previous, staged("a.pdf"), staged("bad.png"), staged("c.pdf")}

	res, err := c.Save(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	require.Len(t, res.FailedUploads, 1)
	assert.Equal(t, "bad.png", res.FailedUploads[0].FileName)
	assert.ErrorIs(t, res.PartialError(), common.ErrPartial)

	names := make([]string, 0, len(exams.Attachments))
	for _, a := range exams.Attachments {
		names = append(names, a.FileName)
	}
	assert.Equal(t, []string{"old.pdf", "a.pdf", "c.pdf"}, names)

	require.Len(t, res.Exam.Attachments, 4)
	assert.True(t, res.Exam.Attachments[2].IsStaged(), "failed upload stays staged for a later save")
	assert.Equal(t, int32(0), exams.CreateCalls.Load())
}

func TestSaveStoredExamAttachmentList(t *testing.T) {
	kept := entity.Attachment{FileName: "kept.pdf", FileType: "application/pdf", StoragePath: "owner/patients/patient/exams/x/kept.pdf"}
	removed := entity.Attachment{FileName: "removed.pdf", FileType: "application/pdf", StoragePath: "owner/patients/patient/exams/x/removed.pdf"}

	tests := []struct {
		name        string
		attachments []entity.Attachment
		want        []string
	}{
		{name: "persisted attachment removed", attachments: []entity.Attachment{kept}, want: []string{"kept.pdf"}},
		{name: "every attachment removed", attachments: nil, want: []string{}},
		{name: "no new uploads", attachments: []entity.Attachment{kept, removed}, want: []string{"kept.pdf", "removed.pdf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exams := &MockExams{Attachments: []entity.Attachment{kept, removed}}
			up := &MockUploader{}
			c := NewCoordinator(exams, NewMockNotes(), up, fastConfig(), nil)

			d := draft()
			d.ID = uuid.New()
			d.Attachments = tt.attachments
			res, err := c.Save(context.Background(), d)
			require.NoError(t, err)

			names := []string{}
			for _, a := range exams.Attachments {
				names = append(names, a.FileName)
			}
			assert.Equal(t, tt.want, names)
			assert.Len(t, res.Exam.Attachments, len(tt.want))
			assert.Equal(t, int32(0), up.Calls.Load())
		})
	}
}

func TestSaveNoteIsIdempotent(t *testing.T) {
	exams := &MockExams{}
	notes := NewMockNotes()
	c := NewCoordinator(exams, notes, &MockUploader{}, fastConfig(), nil)

	first, err := c.Save(context.Background(), draft())
	require.NoError(t, err)

	again := first.Exam.Clone()
	again.Title = "Hemograma revisado"
	second, err := c.Save(context.Background(), again)
	require.NoError(t, err)

	assert.Equal(t, int32(1), notes.Creates.Load())
	assert.Equal(t, int32(1), notes.Updates.Load())
	assert.Equal(t, first.Note.ID, second.Note.ID)
	assert.Equal(t, "Exame - Hemograma revisado", second.Note.NoteTitle)
}

func TestSaveNoteFailureIsNonBlocking(t *testing.T) {
	notes := NewMockNotes()
	notes.CreateErr = errors.New("notes service down")
	exams := &MockExams{}
	c := NewCoordinator(exams, notes, &MockUploader{}, fastConfig(), nil)

	res, err := c.Save(context.Background(), draft())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Error(t, res.NoteErr)
	assert.Nil(t, res.Note)
	assert.Equal(t, int32(1), exams.CreateCalls.Load())
}

func TestSaveRejectsInvalidDraft(t *testing.T) {
	exams := &MockExams{}
	c := NewCoordinator(exams, NewMockNotes(), &MockUploader{}, fastConfig(), nil)

	d := draft()
	d.Title = "  "
	_, err := c.Save(context.Background(), d)
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, int32(0), exams.CreateCalls.Load())
}

func TestBuildNoteWithoutResults(t *testing.T) {
	d := draft()
	d.Results = entity.NewResultTable()
	n := BuildNote(d)
	assert.NotContains(t, n.NoteText, constants.NoteResultsMarker)
	assert.Contains(t, n.NoteText, "Data: 02/05/2024")
}
