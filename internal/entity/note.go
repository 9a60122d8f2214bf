package entity

import (
	"time"

	"github.com/google/uuid"
)

// Note is the clinical note derived from an exam.
type Note struct {
	ID               uuid.UUID `json:"id"`
	OwnerID          string    `json:"ownerId"`
	PatientID        string    `json:"patientId"`
	NoteTitle        string    `json:"noteTitle"`
	NoteText         string    `json:"noteText"`
	NoteType         string    `json:"noteType"`
	Category         string    `json:"category"`
	ConsultationDate time.Time `json:"consultationDate"`
	ExameID          uuid.UUID `json:"exameId"`
	CreatedAt        time.Time `json:"createdAt"`
	LastModified     time.Time `json:"lastModified"`
}
