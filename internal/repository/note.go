package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/entity"
)

var noteColumns = []string{
	"id", "owner_id", "patient_id", "note_title", "note_text", "note_type",
	"category", "consultation_date", "exame_id", "created_at", "last_modified",
}

// NoteRepository persists the clinical notes linked to exams. At most one note references an exam.
type NoteRepository interface {
	GetByExamID(ctx context.Context, examID uuid.UUID) (*entity.Note, error)
	Create(ctx context.Context, note *entity.Note) (*entity.Note, error)
	Update(ctx context.Context, note *entity.Note) (*entity.Note, error)
}

type noteRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
	now    func() time.Time
}

func NewNoteRepository(drv *entsql.Driver, logger *slog.Logger) NoteRepository {
	return &noteRepository{
		drv:    drv,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *noteRepository) GetByExamID(ctx context.Context, examID uuid.UUID) (*entity.Note, error) {
	b := entsql.Dialect(r.drv.Dialect())
	query, args := b.Select(noteColumns...).
		From(b.Table(notesTable)).
		Where(entsql.EQ("exame_id", examID)).
		Limit(1).
		Query()

	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		r.logger.Error("failed to look up note", "exam_id", examID, "error", err)
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("no note for exam %s", examID), common.ErrNotFound)
	}
	var (
		n                entity.Note
		consultationDate sql.NullTime
	)
	if err := rows.Scan(&n.ID, &n.OwnerID, &n.PatientID, &n.NoteTitle, &n.NoteText, &n.NoteType,
		&n.Category, &consultationDate, &n.ExameID, &n.CreatedAt, &n.LastModified); err != nil {
		return nil, err
	}
	if consultationDate.Valid {
		n.ConsultationDate = entity.DateOnly(consultationDate.Time)
	}
	return &n, nil
}

func (r *noteRepository) Create(ctx context.Context, note *entity.Note) (*entity.Note, error) {
	if note.ExameID == uuid.Nil {
		return nil, common.ValidationFailed("note must reference an exam")
	}
	out := *note
	out.ID = uuid.New()
	out.CreatedAt = r.now()
	out.LastModified = out.CreatedAt

	query, args := entsql.Dialect(r.drv.Dialect()).
		Insert(notesTable).
		Columns(noteColumns...).
		Values(out.ID, out.OwnerID, out.PatientID, out.NoteTitle, out.NoteText, out.NoteType,
			out.Category, nullDate(out.ConsultationDate), out.ExameID, out.CreatedAt, out.LastModified).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		r.logger.Error("failed to create note", "exam_id", out.ExameID, "error", err)
		return nil, common.WrapError(err, "create note")
	}
	r.logger.Info("note created", "note_id", out.ID, "exam_id", out.ExameID)
	return &out, nil
}

// Update rewrites the note's content. The exam link and creation time never change.
func (r *noteRepository) Update(ctx context.Context, note *entity.Note) (*entity.Note, error) {
	out := *note
	out.LastModified = r.now()

	query, args := entsql.Dialect(r.drv.Dialect()).
		Update(notesTable).
		Set("note_title", out.NoteTitle).
		Set("note_text", out.NoteText).
		Set("note_type", out.NoteType).
		Set("category", out.Category).
		Set("consultation_date", nullDate(out.ConsultationDate)).
		Set("last_modified", out.LastModified).
		Where(entsql.EQ("id", out.ID)).
		Query()
	var res sql.Result
	if err := r.drv.Exec(ctx, query, args, &res); err != nil {
		r.logger.Error("failed to update note", "note_id", out.ID, "error", err)
		return nil, common.WrapError(err, "update note")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("note %s not found", out.ID), common.ErrNotFound)
	}
	r.logger.Info("note updated", "note_id", out.ID, "exam_id", out.ExameID)
	return &out, nil
}
