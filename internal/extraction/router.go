package extraction

import (
	"context"
	"errors"
	"log/slog"
	"path"

	"github.com/joseph-ayodele/exams-tracker/constants"
	"github.com/joseph-ayodele/exams-tracker/internal/classify"
	"github.com/joseph-ayodele/exams-tracker/internal/common"
)

const unsupportedTypeMessage = "unsupported type"

// Submitter sends bytes to the extraction service.
type Submitter interface {
	Submit(ctx context.Context, blob []byte, fileName string) Outcome
}

// ProgressFunc receives human-readable stage messages.
type ProgressFunc func(message string)

// Router picks the image or document path for a source and delegates to a Submitter.
type Router struct {
	client    Submitter
	fetcher   BlobFetcher
	resolver  URLResolver
	inspector Inspector
	logger    *slog.Logger
}

// NewRouter wires the collaborators. fetcher, resolver and inspector may be nil;
// sources that need a missing collaborator then fail.
func NewRouter(client Submitter, fetcher BlobFetcher, resolver URLResolver, inspector Inspector, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		client:    client,
		fetcher:   fetcher,
		resolver:  resolver,
		inspector: inspector,
		logger:    logger,
	}
}

// Extract classifies src and runs the matching extraction path.
func (r *Router) Extract(ctx context.Context, src Source, report ProgressFunc) Outcome {
	if report == nil {
		report = func(string) {}
	}
	name := sourceName(src)

	cls := classify.Classify(classify.FileRef{Name: name, MimeType: src.MimeType})
	kind, ok := cls.Kind()
	if !ok {
		r.logger.Info("extraction.router.unsupported", "file_name", name, "mime_type", src.MimeType)
		return Warning(unsupportedTypeMessage)
	}

	blob, err := resolveBlob(ctx, src, r.fetcher, r.resolver)
	if err != nil {
		r.logger.Warn("extraction.router.resolve_failed", "file_name", name, "error", err)
		if errors.Is(err, errNoSource) {
			return Failure(err.Error(), common.KindValidation)
		}
		return Failure(err.Error(), common.KindTransient)
	}
	if len(blob) == 0 {
		return Failure("file is empty", common.KindValidation)
	}

	if kind == constants.IMAGE {
		report(constants.ProgressImageOCR)
		return r.client.Submit(ctx, blob, name)
	}

	if r.inspector != nil {
		info, err := r.inspector.Inspect(kind, blob)
		if err != nil {
			r.logger.Warn("extraction.router.inspect_failed", "file_name", name, "kind", kind, "error", err)
			return Failure("document could not be read: "+err.Error(), common.KindValidation)
		}
		r.logger.Info("extraction.router.document", "file_name", name, "kind", kind, "pages", info.Pages, "chars", info.Chars)
	}

	report(constants.ProgressDocumentAI)
	out := r.client.Submit(ctx, blob, name)
	if out.Kind == KindImageQuality {
		// Quality reports only make sense for images.
		return Failure(out.Message, common.KindInternal)
	}
	return out
}

func sourceName(src Source) string {
	switch {
	case src.Name != "":
		return src.Name
	case src.StoragePath != "":
		return path.Base(src.StoragePath)
	case src.URL != "":
		return path.Base(src.URL)
	default:
		return ""
	}
}
