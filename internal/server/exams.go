package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/entity"
	"github.com/joseph-ayodele/exams-tracker/internal/storage"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// exam loads :examId and checks it belongs to the addressed patient.
func (h *Handler) exam(c *gin.Context) (*entity.Exam, bool) {
	id, ok := parseID(c, "examId")
	if !ok {
		return nil, false
	}
	exam, err := h.deps.Exams.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if exam.OwnerID != c.Param("ownerId") || exam.PatientID != c.Param("patientId") {
		h.fail(c, common.NewAppError("NOT_FOUND", fmt.Sprintf("exam %s not found", id), common.ErrNotFound))
		return nil, false
	}
	return exam, true
}

func (h *Handler) listExams(c *gin.Context) {
	exams, err := h.deps.Exams.ListByPatient(c.Request.Context(), c.Param("ownerId"), c.Param("patientId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if exams == nil {
		exams = []*entity.Exam{}
	}
	c.JSON(http.StatusOK, gin.H{"exams": exams})
}

func (h *Handler) getExam(c *gin.Context) {
	exam, ok := h.exam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, exam)
}

// deleteExam removes the record and then its stored attachments. Object delete failures are only logged.
func (h *Handler) deleteExam(c *gin.Context) {
	exam, ok := h.exam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.deps.Exams.Delete(ctx, exam.ID); err != nil {
		h.fail(c, err)
		return
	}
	for _, a := range entity.PersistedOnly(exam.Attachments) {
		if a.StoragePath == "" || h.deps.Objects == nil {
			continue
		}
		if err := h.deps.Objects.Delete(ctx, a.StoragePath); err != nil && !errors.Is(err, common.ErrNotFound) {
			h.logger.Warn("http.exam.delete.object_failed", "exam_id", exam.ID, "path", a.StoragePath, "error", err)
		}
	}
	h.logger.Info("http.exam.deleted", "exam_id", exam.ID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) examAttachmentURL(c *gin.Context) {
	exam, ok := h.exam(c)
	if !ok {
		return
	}
	name := c.Param("fileName")
	var target *entity.Attachment
	for i := range exam.Attachments {
		if exam.Attachments[i].FileName == name {
			target = &exam.Attachments[i]
			break
		}
	}
	if target == nil {
		h.fail(c, common.NewAppError("NOT_FOUND", fmt.Sprintf("attachment %s not found", name), common.ErrNotFound))
		return
	}

	ctx := c.Request.Context()
	loc := storage.Locator{OwnerID: exam.OwnerID, PatientID: exam.PatientID, ExamID: exam.ID}
	if h.deps.Notes != nil {
		note, err := h.deps.Notes.GetByExamID(ctx, exam.ID)
		switch {
		case err == nil:
			loc.NoteID = note.ID
		case !errors.Is(err, common.ErrNotFound):
			h.logger.Warn("http.attachment.note_lookup_failed", "exam_id", exam.ID, "error", err)
		}
	}
	res, err := h.deps.Attachments.ResolveURL(ctx, *target, loc)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": res.URL, "source": res.Source})
}

func (h *Handler) exportExam(c *gin.Context) {
	exam, ok := h.exam(c)
	if !ok {
		return
	}
	data, err := h.deps.Exports.ExportExamXLSX(c.Request.Context(), exam.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	sendXLSX(c, fmt.Sprintf("exame-%s.xlsx", exam.ID), data)
}

// exportPatient honours optional from/to query dates (YYYY-MM-DD).
func (h *Handler) exportPatient(c *gin.Context) {
	var from, to *time.Time
	for _, q := range []struct {
		key string
		dst **time.Time
	}{{"from", &from}, {"to", &to}} {
		v := c.Query(q.key)
		if v == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			h.fail(c, common.ValidationFailed(q.key+" must be YYYY-MM-DD"))
			return
		}
		*q.dst = &t
	}
	patient := c.Param("patientId")
	data, err := h.deps.Exports.ExportPatientXLSX(c.Request.Context(), c.Param("ownerId"), patient, from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	sendXLSX(c, fmt.Sprintf("exames-%s.xlsx", storage.SafeFileName(patient)), data)
}

func sendXLSX(c *gin.Context, fileName string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// serveFile streams an object of the object store; LocalStore URLs point here.
func (h *Handler) serveFile(c *gin.Context) {
	if h.deps.Objects == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	data, contentType, err := h.deps.Objects.Get(c.Request.Context(), c.Param("path"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

// serveBlob streams a staged attachment while its transient URL is live.
func (h *Handler) serveBlob(c *gin.Context) {
	if h.deps.Blobs == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if _, err := uuid.Parse(c.Param("id")); err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	data, contentType, ok := h.deps.Blobs.Get(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "blob expired or revoked", "kind": common.KindNotFound})
		return
	}
	c.Data(http.StatusOK, contentType, data)
}
