package extraction

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/exams-tracker/internal/common"
)

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.method = r.Method
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			captured.extractType = r.FormValue("extractType")
			if f, hdr, err := r.FormFile("file"); err == nil {
				captured.fileName = hdr.Filename
				captured.data, _ = io.ReadAll(f)
				_ = f.Close()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

type capturedRequest struct {
	path        string
	method      string
	extractType string
	fileName    string
	data        []byte
}

func TestClientSubmit(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   Outcome
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"success":true,"data":{"LabGerais":{"Hemoglobina":"14 g/dL"}}}`,
			want:   Success(map[string]map[string]string{"LabGerais": {"Hemoglobina": "14 g/dL"}}),
		},
		{
			name:   "success with numeric leaf",
			status: http.StatusOK,
			body:   `{"success":true,"data":{"PerfilLipidico":{"LDL":129.5,"HDL":null}}}`,
			want:   Success(map[string]map[string]string{"PerfilLipidico": {"LDL": "129.5", "HDL": ""}}),
		},
		{
			name:   "image quality failure",
			status: http.StatusOK,
			body:   `{"status":"image_processing_failed","message":"blurry","suggestion":"retake photo"}`,
			want:   ImageQualityFailure("blurry", "retake photo"),
		},
		{
			name:   "image quality failure on 422",
			status: http.StatusUnprocessableEntity,
			body:   `{"status":"image_processing_failed","message":"too dark"}`,
			want:   ImageQualityFailure("too dark", ""),
		},
		{
			name:   "warning without data",
			status: http.StatusOK,
			body:   `{"warning":"no exam data found"}`,
			want:   Warning("no exam data found"),
		},
		{
			name:   "server error with message",
			status: http.StatusBadRequest,
			body:   `{"error":"unsupported file","details":"mime"}`,
			want:   Failure("unsupported file", common.KindValidation),
		},
		{
			name:   "server error with detail only",
			status: http.StatusInternalServerError,
			body:   `{"detail":"model unavailable"}`,
			want:   Failure("model unavailable", common.KindTransient),
		},
		{
			name:   "server error without body",
			status: http.StatusBadGateway,
			body:   `<html>bad gateway</html>`,
			want:   Failure("server error 502", common.KindTransient),
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `not json`,
			want:   Failure("invalid server response", common.KindInternal),
		},
		{
			name:   "success without data",
			status: http.StatusOK,
			body:   `{"success":true}`,
			want:   Failure("invalid server response", common.KindInternal),
		},
		{
			name:   "data is not a mapping",
			status: http.StatusOK,
			body:   `{"success":true,"data":["LabGerais"]}`,
			want:   Failure("invalid server response", common.KindInternal),
		},
		{
			name:   "nested array leaf",
			status: http.StatusOK,
			body:   `{"success":true,"data":{"LabGerais":{"Hemoglobina":["14"]}}}`,
			want:   Failure("invalid server response", common.KindInternal),
		},
		{
			name:   "warning alongside data",
			status: http.StatusOK,
			body:   `{"warning":"partial","data":{"LabGerais":{}}}`,
			want:   Failure("invalid server response", common.KindInternal),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, captured := newTestServer(t, tc.status, tc.body)
			c := NewClient(Config{BaseURL: srv.URL + "/"}, nil)

			got := c.Submit(context.Background(), []byte("%PDF-1.4"), "exam.pdf")
			assert.Equal(t, tc.want, got)
			assert.Equal(t, "/extract", captured.path)
			assert.Equal(t, http.MethodPost, captured.method)
			assert.Equal(t, "exam", captured.extractType)
			assert.Equal(t, "exam.pdf", captured.fileName)
			assert.Equal(t, []byte("%PDF-1.4"), captured.data)
		})
	}
}

func TestClientNetworkErrorBecomesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url}, nil)
	got := c.Submit(context.Background(), []byte("x"), "a.png")
	require.Equal(t, KindFailure, got.Kind)
	assert.Equal(t, common.KindTransient, got.ErrorKind)
	assert.NotEmpty(t, got.Message)
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	got := c.Submit(context.Background(), []byte("x"), "a.png")
	assert.Equal(t, Failure("extraction request timed out", common.KindTransient), got)
}
