package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/exams-tracker/constants"
	"github.com/joseph-ayodele/exams-tracker/internal/common"
)

const invalidResponseMessage = "invalid server response"

// Config for the extraction service client.
type Config struct {
	BaseURL     string        // service root; requests go to {BaseURL}/extract
	Timeout     time.Duration // per request, default 60s
	ExtractType string        // default "exam"
}

// Client posts files to the extraction service and classifies its answers.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ExtractType == "" {
		cfg.ExtractType = constants.ExtractType
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Submit sends blob as the `file` field with extractType and returns a typed
// outcome. It never returns an error; transport problems become failures.
func (c *Client) Submit(ctx context.Context, blob []byte, fileName string) Outcome {
	if fileName == "" {
		fileName = "upload"
	}
	file := filePart{
		field:       "file",
		fileName:    fileName,
		contentType: constants.MimeTypeForExt(filepath.Ext(fileName)),
		data:        blob,
	}
	fields := map[string]string{"extractType": c.cfg.ExtractType}

	raw, status, err := sendMultipart(ctx, c.http, c.cfg.BaseURL+"/extract", fields, file, c.logger)
	if err != nil && status == 0 {
		if isTimeout(err) {
			return Failure("extraction request timed out", common.KindTransient)
		}
		return Failure(err.Error(), common.KindTransient)
	}

	out := classifyResponse(raw, status)
	c.logger.Debug("extraction.client.outcome", "file_name", fileName, "status", status, "kind", out.Kind)
	return out
}

// classifyResponse maps an HTTP status and body onto an Outcome.
func classifyResponse(raw []byte, status int) Outcome {
	body, decodeErr := decodeObject(raw)

	// A quality report is typed regardless of the status code it came with.
	if body != nil && stringField(body, "status") == constants.ImageQualityFailedStatus {
		msg := stringField(body, "message")
		if msg == "" {
			msg = "image could not be processed"
		}
		return ImageQualityFailure(msg, stringField(body, "suggestion"))
	}

	if status/100 != 2 {
		if msg := serverMessage(body); msg != "" {
			return Failure(msg, kindForStatus(status))
		}
		return Failure(fmt.Sprintf("server error %d", status), kindForStatus(status))
	}

	if decodeErr != nil {
		return Failure(invalidResponseMessage, common.KindInternal)
	}

	data, hasData := body["data"]
	if ok, _ := body["success"].(bool); ok && hasData {
		if table, ok := toTable(data); ok {
			return Success(table)
		}
		return Failure(invalidResponseMessage, common.KindInternal)
	}

	if warning := stringField(body, "warning"); warning != "" && (!hasData || data == nil) {
		return Warning(warning)
	}
	return Failure(invalidResponseMessage, common.KindInternal)
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("response is not an object")
	}
	return obj, nil
}

// toTable type-checks data as category -> exam -> scalar and folds scalars into strings.
func toTable(data any) (map[string]map[string]string, bool) {
	obj, ok := data.(map[string]any)
	if !ok {
		return nil, false
	}
	if err := validateData(obj); err != nil {
		return nil, false
	}
	out := make(map[string]map[string]string, len(obj))
	for category, rawBucket := range obj {
		bucket, _ := rawBucket.(map[string]any)
		b := make(map[string]string, len(bucket))
		for exam, v := range bucket {
			b[exam] = scalarString(v)
		}
		out[category] = b
	}
	return out, true
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func stringField(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return strings.TrimSpace(s)
}

func serverMessage(body map[string]any) string {
	if body == nil {
		return ""
	}
	for _, key := range []string{"error", "detail", "details"} {
		if msg := stringField(body, key); msg != "" {
			return msg
		}
	}
	return ""
}

func kindForStatus(status int) common.ErrorKind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return common.KindTransient
	case status >= 400:
		return common.KindValidation
	default:
		return common.KindInternal
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
