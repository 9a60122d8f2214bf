package ingest

import (
	"context"
)

// Result is the per-file ingest outcome.
type Result struct {
	SourcePath    string `json:"sourcePath"`
	HashHex       string `json:"hashHex,omitempty"`
	Deduplicated  bool   `json:"deduplicated"`
	ExamID        string `json:"examId,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	Message       string `json:"message,omitempty"`
	Results       int    `json:"results"`
	FailedUploads int    `json:"failedUploads"`
	Err           string `json:"error,omitempty"`
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Ingestor turns one file on disk into a saved exam.
type Ingestor interface {
	IngestPath(ctx context.Context, ownerID, patientID, path string) (Result, error)
}
