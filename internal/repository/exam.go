package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/entity"
)

var examColumns = []string{
	"id", "owner_id", "patient_id", "title", "exam_date", "category",
	"observations", "results", "attachments", "created_at", "last_modified",
}

// ExamRepository persists exam records. Attachments are always stored in their persisted form.
type ExamRepository interface {
	Create(ctx context.Context, exam *entity.Exam) (*entity.Exam, error)
	Update(ctx context.Context, exam *entity.Exam) (*entity.Exam, error)
	UpdateAttachments(ctx context.Context, examID uuid.UUID, attachments []entity.Attachment) error
	GetByID(ctx context.Context, examID uuid.UUID) (*entity.Exam, error)
	ListByPatient(ctx context.Context, ownerID, patientID string) ([]*entity.Exam, error)
	Delete(ctx context.Context, examID uuid.UUID) error
}

type examRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
	now    func() time.Time
}

func NewExamRepository(drv *entsql.Driver, logger *slog.Logger) ExamRepository {
	return &examRepository{
		drv:    drv,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts the exam's scalar fields, results and persisted attachments. The store assigns the id.
func (r *examRepository) Create(ctx context.Context, exam *entity.Exam) (*entity.Exam, error) {
	out := exam.Clone()
	out.ID = uuid.New()
	out.CreatedAt = r.now()
	out.LastModified = out.CreatedAt
	out.Attachments = entity.PersistedOnly(out.Attachments)

	results, attachments, err := encodeExamJSON(out)
	if err != nil {
		return nil, err
	}

	query, args := entsql.Dialect(r.drv.Dialect()).
		Insert(examsTable).
		Columns(examColumns...).
		Values(out.ID, out.OwnerID, out.PatientID, out.Title, nullDate(out.ExamDate), out.Category,
			out.Observations, results, attachments, out.CreatedAt, out.LastModified).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		r.logger.Error("failed to create exam", "owner_id", out.OwnerID, "patient_id", out.PatientID, "error", err)
		return nil, common.WrapError(err, "create exam")
	}
	r.logger.Info("exam created", "exam_id", out.ID, "patient_id", out.PatientID)
	return out, nil
}

// Update rewrites scalar fields, the result table and the persisted attachment list.
// Staged attachments are dropped from the stored list; UpdateAttachments adds them once uploaded.
func (r *examRepository) Update(ctx context.Context, exam *entity.Exam) (*entity.Exam, error) {
	if exam.IsNew() {
		return nil, common.ValidationFailed("exam id is required for update")
	}
	out := exam.Clone()
	out.LastModified = r.now()

	results, attachments, err := encodeExamJSON(&entity.Exam{
		Results:     out.Results,
		Attachments: entity.PersistedOnly(out.Attachments),
	})
	if err != nil {
		return nil, err
	}

	query, args := entsql.Dialect(r.drv.Dialect()).
		Update(examsTable).
		Set("title", out.Title).
		Set("exam_date", nullDate(out.ExamDate)).
		Set("category", out.Category).
		Set("observations", out.Observations).
		Set("results", results).
		Set("attachments", attachments).
		Set("last_modified", out.LastModified).
		Where(entsql.EQ("id", out.ID)).
		Query()
	if err := r.execOne(ctx, query, args, out.ID); err != nil {
		return nil, err
	}
	r.logger.Info("exam updated", "exam_id", out.ID)
	return out, nil
}

func (r *examRepository) UpdateAttachments(ctx context.Context, examID uuid.UUID, attachments []entity.Attachment) error {
	data, err := json.Marshal(entity.PersistedOnly(attachments))
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	query, args := entsql.Dialect(r.drv.Dialect()).
		Update(examsTable).
		Set("attachments", string(data)).
		Set("last_modified", r.now()).
		Where(entsql.EQ("id", examID)).
		Query()
	if err := r.execOne(ctx, query, args, examID); err != nil {
		return err
	}
	r.logger.Info("exam attachments updated", "exam_id", examID, "count", len(attachments))
	return nil
}

func (r *examRepository) GetByID(ctx context.Context, examID uuid.UUID) (*entity.Exam, error) {
	b := entsql.Dialect(r.drv.Dialect())
	query, args := b.Select(examColumns...).
		From(b.Table(examsTable)).
		Where(entsql.EQ("id", examID)).
		Query()
	exams, err := r.query(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to get exam", "exam_id", examID, "error", err)
		return nil, err
	}
	if len(exams) == 0 {
		return nil, examNotFound(examID)
	}
	return exams[0], nil
}

func (r *examRepository) ListByPatient(ctx context.Context, ownerID, patientID string) ([]*entity.Exam, error) {
	b := entsql.Dialect(r.drv.Dialect())
	query, args := b.Select(examColumns...).
		From(b.Table(examsTable)).
		Where(entsql.And(entsql.EQ("owner_id", ownerID), entsql.EQ("patient_id", patientID))).
		OrderBy(entsql.Desc("exam_date"), entsql.Desc("created_at")).
		Query()
	exams, err := r.query(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to list exams", "owner_id", ownerID, "patient_id", patientID, "error", err)
		return nil, err
	}
	return exams, nil
}

// Delete removes the exam row. Linked notes go with it through the foreign key.
func (r *examRepository) Delete(ctx context.Context, examID uuid.UUID) error {
	query, args := entsql.Dialect(r.drv.Dialect()).
		Delete(examsTable).
		Where(entsql.EQ("id", examID)).
		Query()
	if err := r.execOne(ctx, query, args, examID); err != nil {
		return err
	}
	r.logger.Info("exam deleted", "exam_id", examID)
	return nil
}

// execOne runs a statement that must touch exactly one exam row.
func (r *examRepository) execOne(ctx context.Context, query string, args []any, examID uuid.UUID) error {
	var res sql.Result
	if err := r.drv.Exec(ctx, query, args, &res); err != nil {
		r.logger.Error("exam write failed", "exam_id", examID, "error", err)
		return common.WrapError(err, "write exam")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.WrapError(err, "write exam")
	}
	if n == 0 {
		return examNotFound(examID)
	}
	return nil
}

func (r *examRepository) query(ctx context.Context, query string, args []any) ([]*entity.Exam, error) {
	var rows entsql.Rows
	if err := r.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Exam
	for rows.Next() {
		var (
			e           entity.Exam
			examDate    sql.NullTime
			results     []byte
			attachments []byte
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.PatientID, &e.Title, &examDate, &e.Category,
			&e.Observations, &results, &attachments, &e.CreatedAt, &e.LastModified); err != nil {
			return nil, err
		}
		if examDate.Valid {
			e.ExamDate = entity.DateOnly(examDate.Time)
		}
		e.Results = entity.NewResultTable()
		if len(results) > 0 {
			if err := json.Unmarshal(results, &e.Results); err != nil {
				return nil, fmt.Errorf("decode results of exam %s: %w", e.ID, err)
			}
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &e.Attachments); err != nil {
				return nil, fmt.Errorf("decode attachments of exam %s: %w", e.ID, err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func encodeExamJSON(e *entity.Exam) (string, string, error) {
	results, err := json.Marshal(e.Results)
	if err != nil {
		return "", "", fmt.Errorf("encode results: %w", err)
	}
	attachments, err := json.Marshal(e.Attachments)
	if err != nil {
		return "", "", fmt.Errorf("encode attachments: %w", err)
	}
	return string(results), string(attachments), nil
}

func nullDate(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: entity.DateOnly(t), Valid: true}
}

func examNotFound(id uuid.UUID) error {
	return common.NewAppError("NOT_FOUND", fmt.Sprintf("exam %s not found", id), common.ErrNotFound)
}
