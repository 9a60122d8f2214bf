package entity

import (
	"fmt"
)

// LocalFile is the in-memory payload of an attachment selected but not uploaded yet.
type LocalFile struct {
	Data []byte
}

// Attachment is a file linked to an exam. A staged attachment holds Local and
// no remote reference; a persisted one holds FileURL and/or StoragePath and no Local.
type Attachment struct {
	FileName    string     `json:"fileName"`
	FileType    string     `json:"fileType"`
	FileSize    int64      `json:"fileSize"`
	FileURL     string     `json:"fileUrl,omitempty"`
	URL         string     `json:"url,omitempty"`
	StoragePath string     `json:"storagePath,omitempty"`
	Local       *LocalFile `json:"-"`
}

func (a Attachment) IsPersisted() bool {
	return a.FileURL != "" || a.URL != "" || a.StoragePath != ""
}

func (a Attachment) IsStaged() bool {
	return a.Local != nil && !a.IsPersisted()
}

// Persisted returns a copy pointing at the object store with the local payload dropped.
func (a Attachment) Persisted(fileURL, storagePath string) Attachment {
	a.FileURL = fileURL
	a.StoragePath = storagePath
	a.Local = nil
	return a
}

// DisplaySize formats FileSize for people.
func (a Attachment) DisplaySize() string {
	const unit = 1024
	if a.FileSize < unit {
		return fmt.Sprintf("%d B", a.FileSize)
	}
	div, exp := int64(unit), 0
	for n := a.FileSize / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(a.FileSize)/float64(div), "KMGTPE"[exp])
}

// PersistedOnly filters out staged attachments and strips any local payload.
func PersistedOnly(list []Attachment) []Attachment {
	out := make([]Attachment, 0, len(list))
	for _, a := range list {
		if !a.IsPersisted() {
			continue
		}
		a.Local = nil
		out = append(out, a)
	}
	return out
}

// StagedOnly returns the attachments still waiting for upload.
func StagedOnly(list []Attachment) []Attachment {
	var out []Attachment
	for _, a := range list {
		if a.IsStaged() {
			out = append(out, a)
		}
	}
	return out
}
