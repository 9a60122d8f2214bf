package storage

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// Locator identifies where an attachment belongs.
type Locator struct {
	OwnerID   string
	PatientID string
	ExamID    uuid.UUID
	NoteID    uuid.UUID
}

// ExamPrefix is the canonical folder of an exam's attachments:
// {ownerId}/patients/{patientId}/exams/{examId}.
func ExamPrefix(ownerID, patientID string, examID uuid.UUID) string {
	return path.Join(segment(ownerID), "patients", segment(patientID), "exams", examID.String())
}

// NotePrefix is the legacy folder {ownerId}/patients/{patientId}/notes/{noteId}.
// It is only read, never written.
func NotePrefix(ownerID, patientID string, noteID uuid.UUID) string {
	return path.Join(segment(ownerID), "patients", segment(patientID), "notes", noteID.String())
}

// ObjectPath joins a folder and a file name, keeping the name inside the folder.
func ObjectPath(prefix, fileName string) string {
	return strings.TrimPrefix(path.Join(prefix, SafeFileName(fileName)), "/")
}

// SafeFileName strips directories and separators from a user-supplied name.
func SafeFileName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

type candidate struct {
	path   string
	source string
}

// candidates lists reconstructed paths in resolution order: exam shape first,
// then the legacy note shape.
func (l Locator) candidates(fileName string) []candidate {
	if l.OwnerID == "" || l.PatientID == "" || SafeFileName(fileName) == "" {
		return nil
	}
	var out []candidate
	if l.ExamID != uuid.Nil {
		out = append(out, candidate{ObjectPath(ExamPrefix(l.OwnerID, l.PatientID, l.ExamID), fileName), SourceExamPath})
	}
	if l.NoteID != uuid.Nil {
		out = append(out, candidate{ObjectPath(NotePrefix(l.OwnerID, l.PatientID, l.NoteID), fileName), SourceNotePath})
	}
	return out
}

func segment(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "/", "_")
}
