package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/exams-tracker/internal/common"
)

const headerRequestID = "X-Request-ID"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		logger.Info("http.request",
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"request_id", common.RequestIDFromContext(c.Request.Context()),
		)
	}
}

// ownerScope puts the owner of the addressed patient into the request context.
func ownerScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := strings.TrimSpace(c.Param("ownerId"))
		patient := strings.TrimSpace(c.Param("patientId"))
		if owner == "" || patient == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "ownerId and patientId are required"})
			return
		}
		c.Request = c.Request.WithContext(common.WithOwnerID(c.Request.Context(), owner))
		c.Next()
	}
}

// fail writes err as a JSON error body with the status of its kind.
func (h *Handler) fail(c *gin.Context, err error) {
	status := common.HTTPStatus(err)
	body := gin.H{"error": err.Error(), "kind": common.KindOf(err)}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		body["code"] = appErr.Code
		body["error"] = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("http.request.failed", "route", c.FullPath(), "status", status, "error", err,
			"request_id", common.RequestIDFromContext(c.Request.Context()))
	} else {
		h.logger.Warn("http.request.rejected", "route", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": param + " must be a UUID", "kind": common.KindValidation})
		return uuid.Nil, false
	}
	return id, true
}
