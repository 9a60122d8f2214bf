package server

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/exams-tracker/constants"
	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/extraction"
	"github.com/joseph-ayodele/exams-tracker/internal/notify"
)

type upload struct {
	name     string
	mimeType string
	data     []byte
}

// readUpload reads the multipart `file` field, bounded by MaxUploadBytes.
func (h *Handler) readUpload(c *gin.Context) (upload, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.deps.MaxUploadBytes+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		return upload{}, common.ValidationFailed("missing file")
	}
	if header.Size > h.deps.MaxUploadBytes {
		return upload{}, common.ValidationFailed(fmt.Sprintf("file exceeds %d bytes", h.deps.MaxUploadBytes))
	}
	f, err := header.Open()
	if err != nil {
		return upload{}, common.WrapError(err, "open upload")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return upload{}, common.WrapError(err, "read upload")
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = constants.MimeTypeForExt(filepath.Ext(header.Filename))
	}
	return upload{name: header.Filename, mimeType: mimeType, data: data}, nil
}

// outcomeStatus maps an extraction outcome onto a response status.
func outcomeStatus(o extraction.Outcome) int {
	switch o.Kind {
	case extraction.KindSuccess:
		return http.StatusOK
	case extraction.KindWarning:
		return http.StatusUnsupportedMediaType
	case extraction.KindImageQuality:
		return http.StatusUnprocessableEntity
	}
	switch o.ErrorKind {
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindTransient:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type outcomeResponse struct {
	Outcome      extraction.Outcome  `json:"outcome"`
	Notification notify.Notification `json:"notification"`
	Draft        *draftView          `json:"draft,omitempty"`
}

// extractOnce runs one extraction for an uploaded file without touching any draft.
func (h *Handler) extractOnce(c *gin.Context) {
	up, err := h.readUpload(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := h.deps.Extractor.Extract(c.Request.Context(), extraction.Source{
		Name:     up.name,
		MimeType: up.mimeType,
		Blob:     up.data,
	}, nil)
	h.logger.Info("http.extract.done", "file_name", up.name, "kind", out.Kind)
	c.JSON(outcomeStatus(out), outcomeResponse{Outcome: out, Notification: notify.FromOutcome(up.name, out)})
}
