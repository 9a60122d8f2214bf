package extraction

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/exams-tracker/constants"
	"github.com/joseph-ayodele/exams-tracker/internal/common"
)

var _ Submitter = (*mockSubmitter)(nil)

type mockSubmitter struct {
	SubmitFunc   func(ctx context.Context, blob []byte, fileName string) Outcome
	CallCount    int32
	LastBlob     []byte
	LastFileName string
}

func (m *mockSubmitter) Submit(ctx context.Context, blob []byte, fileName string) Outcome {
	atomic.AddInt32(&m.CallCount, 1)
	m.LastBlob = blob
	m.LastFileName = fileName
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, blob, fileName)
	}
	return Success(map[string]map[string]string{"LabGerais": {"Hemoglobina": "14 g/dL"}})
}

type mockFetcher struct {
	FetchFunc func(ctx context.Context, url string) ([]byte, error)
	URLs      []string
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	m.URLs = append(m.URLs, url)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, url)
	}
	return []byte("fetched"), nil
}

type mockResolver struct {
	URLFunc func(ctx context.Context, path string) (string, error)
}

func (m *mockResolver) URL(ctx context.Context, path string) (string, error) {
	if m.URLFunc != nil {
		return m.URLFunc(ctx, path)
	}
	return "https://files.example/" + path, nil
}

type mockInspector struct {
	Err   error
	Kinds []constants.FileKind
}

func (m *mockInspector) Inspect(kind constants.FileKind, data []byte) (DocumentInfo, error) {
	m.Kinds = append(m.Kinds, kind)
	return DocumentInfo{Pages: 1}, m.Err
}

func TestRouterUnsupportedNeverCallsService(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	fetcher := &mockFetcher{}
	r := NewRouter(NewClient(Config{BaseURL: srv.URL}, nil), fetcher, &mockResolver{}, nil, nil)

	for _, src := range []Source{
		{Name: "notes.txt", MimeType: "text/plain", Blob: []byte("x")},
		{Name: "", URL: "https://files.example/data.csv"},
		{},
	} {
		got := r.Extract(context.Background(), src, nil)
		assert.Equal(t, Warning("unsupported type"), got)
	}
	assert.Zero(t, atomic.LoadInt32(&hits))
	assert.Empty(t, fetcher.URLs)
}

func TestRouterImageSourcePriority(t *testing.T) {
	cases := []struct {
		name     string
		src      Source
		wantBlob []byte
		wantURLs []string
	}{
		{
			name:     "blob wins",
			src:      Source{Name: "scan.jpg", Blob: []byte("local"), URL: "https://x/scan.jpg", StoragePath: "o/p/scan.jpg"},
			wantBlob: []byte("local"),
		},
		{
			name:     "url before storage path",
			src:      Source{Name: "scan.jpg", URL: "https://x/scan.jpg", StoragePath: "o/p/scan.jpg"},
			wantBlob: []byte("fetched"),
			wantURLs: []string{"https://x/scan.jpg"},
		},
		{
			name:     "storage path resolved then fetched",
			src:      Source{StoragePath: "o/patients/p/exams/e/scan.png"},
			wantBlob: []byte("fetched"),
			wantURLs: []string{"https://files.example/o/patients/p/exams/e/scan.png"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := &mockSubmitter{}
			fetcher := &mockFetcher{}
			var stages []string
			r := NewRouter(sub, fetcher, &mockResolver{}, &mockInspector{}, nil)

			got := r.Extract(context.Background(), tc.src, func(msg string) { stages = append(stages, msg) })
			require.True(t, got.IsSuccess())
			assert.Equal(t, tc.wantBlob, sub.LastBlob)
			assert.Equal(t, tc.wantURLs, fetcher.URLs)
			assert.Equal(t, []string{constants.ProgressImageOCR}, stages)
		})
	}
}

func TestRouterResolutionFailurePreservesMessage(t *testing.T) {
	sub := &mockSubmitter{}
	fetcher := &mockFetcher{FetchFunc: func(ctx context.Context, url string) ([]byte, error) {
		return nil, errors.New("fetch https://x/a.png: status 403")
	}}
	r := NewRouter(sub, fetcher, &mockResolver{}, nil, nil)

	got := r.Extract(context.Background(), Source{URL: "https://x/a.png"}, nil)
	assert.Equal(t, KindFailure, got.Kind)
	assert.Contains(t, got.Message, "status 403")
	assert.Equal(t, common.KindTransient, got.ErrorKind)
	assert.Zero(t, sub.CallCount)

	resolver := &mockResolver{URLFunc: func(ctx context.Context, path string) (string, error) {
		return "", errors.New("object not found")
	}}
	r = NewRouter(sub, &mockFetcher{}, resolver, nil, nil)
	got = r.Extract(context.Background(), Source{StoragePath: "o/p/a.png"}, nil)
	assert.Equal(t, KindFailure, got.Kind)
	assert.Contains(t, got.Message, "object not found")
	assert.Zero(t, sub.CallCount)
}

func TestRouterDocumentPath(t *testing.T) {
	sub := &mockSubmitter{}
	insp := &mockInspector{}
	var stages []string
	r := NewRouter(sub, nil, nil, insp, nil)

	got := r.Extract(context.Background(), Source{Name: "laudo.docx", Blob: []byte("PK")}, func(msg string) { stages = append(stages, msg) })
	require.True(t, got.IsSuccess())
	assert.Equal(t, []constants.FileKind{constants.DOCX}, insp.Kinds)
	assert.Equal(t, []string{constants.ProgressDocumentAI}, stages)
	assert.Equal(t, "laudo.docx", sub.LastFileName)
}

func TestRouterDocumentRejectedBeforeRemoteCall(t *testing.T) {
	sub := &mockSubmitter{}
	r := NewRouter(sub, nil, nil, &mockInspector{Err: errors.New("not a PDF file")}, nil)

	got := r.Extract(context.Background(), Source{Name: "exam.pdf", Blob: []byte("garbage")}, nil)
	assert.Equal(t, KindFailure, got.Kind)
	assert.Equal(t, common.KindValidation, got.ErrorKind)
	assert.Zero(t, sub.CallCount)

	got = r.Extract(context.Background(), Source{Name: "exam.pdf", Blob: []byte{}}, nil)
	assert.Equal(t, Failure("file is empty", common.KindValidation), got)
	assert.Zero(t, sub.CallCount)
}

func TestRouterQualityFailureOnlyForImages(t *testing.T) {
	sub := &mockSubmitter{SubmitFunc: func(ctx context.Context, blob []byte, fileName string) Outcome {
		return ImageQualityFailure("blurry", "retake photo")
	}}
	r := NewRouter(sub, nil, nil, nil, nil)

	got := r.Extract(context.Background(), Source{Name: "photo.jpg", Blob: []byte("x")}, nil)
	assert.Equal(t, ImageQualityFailure("blurry", "retake photo"), got)

	got = r.Extract(context.Background(), Source{Name: "exam.pdf", Blob: []byte("x")}, nil)
	assert.Equal(t, KindFailure, got.Kind)
}

func TestDocumentInspectorRejectsGarbage(t *testing.T) {
	insp := NewDocumentInspector(nil)

	_, err := insp.Inspect(constants.PDF, []byte("definitely not a pdf"))
	assert.Error(t, err)

	_, err = insp.Inspect(constants.DOCX, []byte("definitely not a zip"))
	assert.Error(t, err)

	info, err := insp.Inspect(constants.IMAGE, []byte{0xff, 0xd8})
	assert.NoError(t, err)
	assert.Zero(t, info.Pages)
}
