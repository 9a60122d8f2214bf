package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/joseph-ayodele/exams-tracker/constants"
	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/entity"
)

// Resolution sources, in the order ResolveURL tries them.
const (
	SourceFileURL     = "file_url"
	SourceBlob        = "blob"
	SourceStoragePath = "storage_path"
	SourceExamPath    = "exam_path"
	SourceNotePath    = "note_path"
)

// Resolved is a URL for an attachment. Revoke must be called once the URL is
// no longer needed; it is a no-op for non-transient URLs.
type Resolved struct {
	URL    string
	Source string
	Revoke func()
}

// AttachmentStore stages, uploads, removes and resolves attachments.
type AttachmentStore struct {
	objects ObjectStore
	blobs   *BlobRegistry
	logger  *slog.Logger
}

func NewAttachmentStore(objects ObjectStore, blobs *BlobRegistry, logger *slog.Logger) *AttachmentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttachmentStore{objects: objects, blobs: blobs, logger: logger}
}

// Stage wraps a freshly selected file. No remote call is made.
func (s *AttachmentStore) Stage(fileName, fileType string, data []byte) (entity.Attachment, error) {
	name := SafeFileName(fileName)
	v := common.NewValidator().
		Field("fileName", name, common.Required).
		Field("file", data, common.NotEmptyBytes)
	if err := common.ValidateAndReturnError(v); err != nil {
		return entity.Attachment{}, err
	}
	if fileType == "" {
		fileType = constants.MimeTypeForExt(filepath.Ext(name))
	}
	return entity.Attachment{
		FileName: name,
		FileType: fileType,
		FileSize: int64(len(data)),
		Local:    &entity.LocalFile{Data: data},
	}, nil
}

// Upload stores a staged attachment at {ownerPath}/{fileName} and returns its persisted form.
func (s *AttachmentStore) Upload(ctx context.Context, a entity.Attachment, ownerPath string) (entity.Attachment, error) {
	if a.Local == nil {
		return entity.Attachment{}, common.ValidationFailed(fmt.Sprintf("attachment %s has no local data", a.FileName))
	}
	p := ObjectPath(ownerPath, a.FileName)
	if err := s.objects.Put(ctx, p, a.Local.Data, a.FileType); err != nil {
		s.logger.Error("storage.upload.failed", "path", p, "error", err)
		return entity.Attachment{}, fmt.Errorf("upload %s: %w", a.FileName, err)
	}
	url, err := s.objects.URL(ctx, p)
	if err != nil {
		s.logger.Error("storage.upload.url_failed", "path", p, "error", err)
		return entity.Attachment{}, fmt.Errorf("url for %s: %w", a.FileName, err)
	}
	s.logger.Info("storage.upload.ok", "path", p, "bytes", a.FileSize)
	return a.Persisted(url, p), nil
}

// Remove drops fileName from list. A persisted attachment is deleted from the
// object store first; the item is dropped even when that fails and the error
// is returned alongside the new list.
func (s *AttachmentStore) Remove(ctx context.Context, list []entity.Attachment, fileName string) ([]entity.Attachment, error) {
	idx := -1
	for i, a := range list {
		if a.FileName == fileName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return list, fmt.Errorf("attachment %s: %w", fileName, common.ErrNotFound)
	}
	target := list[idx]
	out := make([]entity.Attachment, 0, len(list)-1)
	out = append(out, list[:idx]...)
	out = append(out, list[idx+1:]...)

	if !target.IsPersisted() {
		return out, nil
	}
	if target.StoragePath == "" {
		s.logger.Warn("storage.remove.no_storage_path", "file_name", fileName)
		return out, fmt.Errorf("remove %s: no storage path recorded", fileName)
	}
	if err := s.objects.Delete(ctx, target.StoragePath); err != nil {
		s.logger.Error("storage.remove.failed", "path", target.StoragePath, "error", err)
		return out, fmt.Errorf("remove %s: %w", fileName, err)
	}
	s.logger.Info("storage.remove.ok", "path", target.StoragePath)
	return out, nil
}

// ResolveURL tries, in order: the recorded URL fields, a transient blob URL for
// a staged attachment, the recorded storage path, and the reconstructed exam
// and legacy note paths. It never returns a URL that was not confirmed.
func (s *AttachmentStore) ResolveURL(ctx context.Context, a entity.Attachment, loc Locator) (Resolved, error) {
	noop := func() {}
	if a.FileURL != "" {
		return Resolved{URL: a.FileURL, Source: SourceFileURL, Revoke: noop}, nil
	}
	if a.URL != "" {
		return Resolved{URL: a.URL, Source: SourceFileURL, Revoke: noop}, nil
	}
	if a.Local != nil && s.blobs != nil {
		url, revoke := s.blobs.Register(a.Local.Data, a.FileType)
		return Resolved{URL: url, Source: SourceBlob, Revoke: revoke}, nil
	}

	var errs []error
	if a.StoragePath != "" {
		url, err := s.objects.URL(ctx, a.StoragePath)
		if err == nil {
			return Resolved{URL: url, Source: SourceStoragePath, Revoke: noop}, nil
		}
		errs = append(errs, err)
	}

	for _, c := range loc.candidates(a.FileName) {
		if c.path == a.StoragePath {
			continue
		}
		url, err := s.objects.URL(ctx, c.path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Info("storage.resolve.reconstructed", "file_name", a.FileName, "path", c.path, "source", c.source)
		return Resolved{URL: url, Source: c.source, Revoke: noop}, nil
	}

	s.logger.Warn("storage.resolve.failed", "file_name", a.FileName, "error", errors.Join(errs...))
	return Resolved{}, fmt.Errorf("resolve url for %s: %w", a.FileName, common.ErrNotFound)
}
