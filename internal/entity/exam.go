package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Exam is a patient exam record for data transfer between layers.
type Exam struct {
	ID           uuid.UUID    `json:"id"`
	OwnerID      string       `json:"ownerId"`
	PatientID    string       `json:"patientId"`
	Title        string       `json:"title"`
	ExamDate     time.Time    `json:"examDate"`
	Category     string       `json:"category"`
	Observations string       `json:"observations"`
	Results      ResultTable  `json:"results"`
	Attachments  []Attachment `json:"attachments"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastModified time.Time    `json:"lastModified"`
}

func (e *Exam) IsNew() bool {
	return e.ID == uuid.Nil
}

// AppendObservation adds a line to the free-text observations. Existing text is never rewritten.
func (e *Exam) AppendObservation(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if strings.TrimSpace(e.Observations) == "" {
		e.Observations = line
		return
	}
	e.Observations = strings.TrimRight(e.Observations, "\n") + "\n" + line
}

// Clone copies the exam deeply enough that results and attachments can be mutated independently.
func (e *Exam) Clone() *Exam {
	out := *e
	if e.Results != nil {
		out.Results = e.Results.Clone()
	}
	out.Attachments = append([]Attachment(nil), e.Attachments...)
	return &out
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
