package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/entity"
	"github.com/joseph-ayodele/exams-tracker/internal/notify"
	"github.com/joseph-ayodele/exams-tracker/internal/save"
	"github.com/joseph-ayodele/exams-tracker/internal/session"
)

type draftView struct {
	ID   uuid.UUID    `json:"id"`
	Exam *entity.Exam `json:"exam"`
	// Staged names the attachments that are not uploaded yet.
	Staged []string `json:"staged"`
}

func viewOf(s *session.Session) *draftView {
	exam := s.Snapshot()
	staged := []string{}
	for _, a := range entity.StagedOnly(exam.Attachments) {
		staged = append(staged, a.FileName)
	}
	return &draftView{ID: s.ID, Exam: exam, Staged: staged}
}

func (h *Handler) draft(c *gin.Context) (*session.Session, bool) {
	id, ok := parseID(c, "draftId")
	if !ok {
		return nil, false
	}
	s, err := h.deps.Drafts.Get(id)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) createDraft(c *gin.Context) {
	s := h.deps.Drafts.New(c.Param("ownerId"), c.Param("patientId"))
	h.logger.Info("http.draft.created", "draft_id", s.ID, "owner_id", c.Param("ownerId"))
	c.JSON(http.StatusCreated, viewOf(s))
}

func (h *Handler) openDraft(c *gin.Context) {
	exam, ok := h.exam(c)
	if !ok {
		return
	}
	s := h.deps.Drafts.Open(exam)
	h.logger.Info("http.draft.opened", "draft_id", s.ID, "exam_id", exam.ID)
	c.JSON(http.StatusCreated, viewOf(s))
}

func (h *Handler) getDraft(c *gin.Context) {
	s, ok := h.draft(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewOf(s))
}

type patchDraftRequest struct {
	Title        *string `json:"title"`
	ExamDate     *string `json:"examDate"`
	Category     *string `json:"category"`
	Observations *string `json:"observations"`
	// ClearResults runs before Results are written.
	ClearResults bool                         `json:"clearResults"`
	Results      map[string]map[string]string `json:"results"`
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, common.ValidationFailed("dates must be YYYY-MM-DD or RFC 3339")
	}
	return t, nil
}

func (h *Handler) patchDraft(c *gin.Context) {
	s, ok := h.draft(c)
	if !ok {
		return
	}
	var req patchDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, common.ValidationFailed("invalid JSON body"))
		return
	}
	fields := session.Fields{Title: req.Title, Category: req.Category, Observations: req.Observations}
	if req.ExamDate != nil {
		d, err := parseDate(*req.ExamDate)
		if err != nil {
			h.fail(c, err)
			return
		}
		fields.ExamDate = &d
	}
	if err := s.SetFields(fields); err != nil {
		h.fail(c, err)
		return
	}
	if req.ClearResults {
		s.ClearResults()
	}
	for category, bucket := range req.Results {
		for name, value := range bucket {
			s.SetResult(category, name, value)
		}
	}
	c.JSON(http.StatusOK, viewOf(s))
}

func (h *Handler) closeDraft(c *gin.Context) {
	id, ok := parseID(c, "draftId")
	if !ok {
		return
	}
	if err := h.deps.Drafts.Close(id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) stageAttachment(c *gin.Context) {
	s, ok := h.draft(c)
	if !ok {
		return
	}
	up, err := h.readUpload(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if _, err := s.Stage(up.name, up.mimeType, up.data); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(s))
}

func (h *Handler) removeAttachment(c *gin.Context) {
	s, ok := h.draft(c)
	if !ok {
		return
	}
	err := s.Remove(c.Request.Context(), c.Param("fileName"))
	if errors.Is(err, common.ErrConflict) || errors.Is(err, common.ErrNotFound) {
		h.fail(c, err)
		return
	}
	body := gin.H{"draft": viewOf(s)}
	if err != nil {
		// the attachment left the draft but its stored object could not be deleted
		body["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) processAttachment(c *gin.Context) {
	s, ok := h.draft(c)
	if !ok {
		return
	}
	name := c.Param("fileName")
	out, err := s.Process(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(outcomeStatus(out), outcomeResponse{
		Outcome:      out,
		Notification: notify.FromOutcome(name, out),
		Draft:        viewOf(s),
	})
}

func (h *Handler) cancelExtraction(c *gin.Context) {
	s, ok := h.draft(c)
	if !ok {
		return
	}
	name := c.Param("fileName")
	if err := s.Cancel(name); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Progress(name))
}

func (h *Handler) progress(c *gin.Context) {
	s, ok := h.draft(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Progress(c.Param("fileName")))
}

func (h *Handler) draftAttachmentURL(c *gin.Context) {
	s, ok := h.draft(c)
	if !ok {
		return
	}
	res, err := s.ResolveURL(c.Request.Context(), c.Param("fileName"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": res.URL, "source": res.Source})
}

type saveResponse struct {
	ExamID        uuid.UUID            `json:"examId"`
	Attempts      int                  `json:"attempts"`
	FailedUploads []save.UploadFailure `json:"failedUploads"`
	NoteError     string               `json:"noteError,omitempty"`
	Notification  notify.Notification  `json:"notification"`
	Draft         *draftView           `json:"draft"`
}

func (h *Handler) saveDraft(c *gin.Context) {
	s, ok := h.draft(c)
	if !ok {
		return
	}
	res, err := s.Save(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := saveResponse{
		ExamID:        res.ExamID(),
		Attempts:      res.Attempts,
		FailedUploads: res.FailedUploads,
		Notification:  notify.FromSave(res, nil),
		Draft:         viewOf(s),
	}
	if resp.FailedUploads == nil {
		resp.FailedUploads = []save.UploadFailure{}
	}
	if res.NoteErr != nil {
		resp.NoteError = res.NoteErr.Error()
	}
	c.JSON(common.HTTPStatus(res.PartialError()), resp)
}
