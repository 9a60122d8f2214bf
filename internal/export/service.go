package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/exams-tracker/internal/entity"
)

const (
	ResultsSheet = "Resultados"
	ExamsSheet   = "Exames"
)

// ExamReader is the part of the exam repository exports read from.
type ExamReader interface {
	GetByID(ctx context.Context, examID uuid.UUID) (*entity.Exam, error)
	ListByPatient(ctx context.Context, ownerID, patientID string) ([]*entity.Exam, error)
}

// Service produces XLSX bytes for exam exports.
type Service struct {
	exams  ExamReader
	logger *slog.Logger
}

func NewService(exams ExamReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{exams: exams, logger: logger}
}

// ExportPatientXLSX returns a workbook of every exam of a patient within the date window.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all exams.
func (s *Service) ExportPatientXLSX(ctx context.Context, ownerID, patientID string, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	var fromDate, toDate time.Time
	if from != nil {
		fromDate = entity.DateOnly(*from)
		if to == nil {
			toDate = entity.DateOnly(time.Now().UTC())
		}
	}
	if to != nil {
		toDate = entity.DateOnly(*to)
	}

	all, err := s.exams.ListByPatient(ctx, ownerID, patientID)
	if err != nil {
		return nil, fmt.Errorf("query exams: %w", err)
	}
	exams := make([]*entity.Exam, 0, len(all))
	for _, e := range all {
		d := entity.DateOnly(e.ExamDate)
		if !fromDate.IsZero() && d.Before(fromDate) {
			continue
		}
		if !toDate.IsZero() && d.After(toDate) {
			continue
		}
		exams = append(exams, e)
	}

	data, rows, err := Render(exams)
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.xlsx.ok",
		"owner_id", ownerID,
		"patient_id", patientID,
		"exams", len(exams),
		"rows", rows,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}

// ExportExamXLSX returns a workbook for a single exam.
func (s *Service) ExportExamXLSX(ctx context.Context, examID uuid.UUID) ([]byte, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	data, rows, err := Render([]*entity.Exam{exam})
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.xlsx.ok", "exam_id", examID, "rows", rows)
	return data, nil
}

// Render writes a workbook with one row per result entry and one row per exam.
// It returns the bytes and the number of result rows.
func Render(exams []*entity.Exam) ([]byte, int, error) {
	f := Build(exams)
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, 0, fmt.Errorf("xlsx write: %w", err)
	}
	rows := 0
	for _, e := range exams {
		rows += e.Results.Len()
	}
	return buf.Bytes(), rows, nil
}

// Build lays the workbook out in memory.
func Build(exams []*entity.Exam) *excelize.File {
	f := excelize.NewFile()
	_ = f.SetSheetName("Sheet1", ResultsSheet)
	if _, err := f.NewSheet(ExamsSheet); err != nil {
		return f
	}
	activeIndex, _ := f.GetSheetIndex(ResultsSheet)
	f.SetActiveSheet(activeIndex)

	writeRow(f, ResultsSheet, 1, []any{
		"Data do exame",
		"Exame",
		"Categoria",
		"Nome do resultado",
		"Valor",
		"Tipo",
		"ID do exame",
	})
	writeRow(f, ExamsSheet, 1, []any{
		"ID do exame",
		"Título",
		"Data do exame",
		"Categoria",
		"Resultados",
		"Anexos",
		"Observações",
	})

	row := 2
	for i, e := range exams {
		date := ""
		if !e.ExamDate.IsZero() {
			date = e.ExamDate.Format("2006-01-02")
		}
		for _, entry := range e.Results.Entries() {
			writeRow(f, ResultsSheet, row, []any{
				date,
				e.Title,
				entry.Category,
				entry.Exam,
				entry.Value,
				string(entry.Kind),
				e.ID.String(),
			})
			row++
		}

		names := make([]string, 0, len(e.Attachments))
		for _, a := range entity.PersistedOnly(e.Attachments) {
			names = append(names, a.FileName)
		}
		writeRow(f, ExamsSheet, i+2, []any{
			e.ID.String(),
			e.Title,
			date,
			e.Category,
			e.Results.Len(),
			strings.Join(names, ", "),
			truncate(e.Observations, 500),
		})
	}

	_ = f.SetColWidth(ResultsSheet, "A", "A", 14) // date
	_ = f.SetColWidth(ResultsSheet, "B", "D", 28)
	_ = f.SetColWidth(ResultsSheet, "E", "E", 24) // value
	_ = f.SetColWidth(ResultsSheet, "F", "F", 12)
	_ = f.SetColWidth(ResultsSheet, "G", "G", 38)
	_ = f.SetColWidth(ExamsSheet, "A", "A", 38)
	_ = f.SetColWidth(ExamsSheet, "B", "B", 28)
	_ = f.SetColWidth(ExamsSheet, "F", "G", 48)
	return f
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
