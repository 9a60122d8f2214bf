package extraction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/google/uuid"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

type filePart struct {
	field       string
	fileName    string
	contentType string
	data        []byte
}

// sendMultipart posts fields plus one file part and returns the raw response body.
// A transport error returns status 0. A non-2xx response returns the body, the
// status and an error.
func sendMultipart(ctx context.Context, client *http.Client, url string, fields map[string]string, file filePart, logger *slog.Logger) ([]byte, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	reqID := uuid.New().String()
	start := time.Now()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.field, file.fileName))
	h.Set("Content-Type", file.contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		logger.Error("extraction.http.encode_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(file.data); err != nil {
		return nil, 0, fmt.Errorf("write file part: %w", err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, 0, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, 0, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		logger.Error("extraction.http.build_request_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	logger.Info("extraction.http.request",
		"req_id", reqID,
		"url", url,
		"file_name", file.fileName,
		"content_length", buf.Len(),
	)

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("extraction.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logger.Warn("extraction.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		logger.Error("extraction.http.read_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	logger.Info("extraction.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return raw, resp.StatusCode, nil
}
