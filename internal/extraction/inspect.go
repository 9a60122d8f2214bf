package extraction

import (
	"bytes"
	"fmt"
	"log/slog"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"

	"github.com/joseph-ayodele/exams-tracker/constants"
)

// DocumentInfo summarizes a local read of a document before it is sent out.
type DocumentInfo struct {
	Pages int
	Chars int
}

// Inspector opens documents locally so unreadable files are rejected early.
type Inspector interface {
	Inspect(kind constants.FileKind, data []byte) (DocumentInfo, error)
}

// DocumentInspector reads PDFs with ledongthuc/pdf and DOCX files with docconv.
type DocumentInspector struct {
	logger *slog.Logger
}

func NewDocumentInspector(logger *slog.Logger) *DocumentInspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentInspector{logger: logger}
}

func (d *DocumentInspector) Inspect(kind constants.FileKind, data []byte) (info DocumentInfo, err error) {
	// Both parsers can panic on hostile input.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("document parser panic: %v", r)
		}
	}()

	switch kind {
	case constants.PDF:
		r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return DocumentInfo{}, fmt.Errorf("open pdf: %w", err)
		}
		info.Pages = r.NumPage()
		for i := 1; i <= info.Pages; i++ {
			page := r.Page(i)
			if page.V.IsNull() {
				continue
			}
			text, err := page.GetPlainText(nil)
			if err != nil {
				d.logger.Debug("extraction.inspect.pdf_page_text_failed", "page", i, "error", err)
				continue
			}
			info.Chars += len(text)
		}
	case constants.DOCX:
		res, err := docconv.Convert(bytes.NewReader(data), constants.DOCXMimeType, false)
		if err != nil {
			return DocumentInfo{}, fmt.Errorf("open docx: %w", err)
		}
		info.Chars = len(res.Body)
	}
	d.logger.Debug("extraction.inspect.ok", "kind", kind, "pages", info.Pages, "chars", info.Chars)
	return info, nil
}
