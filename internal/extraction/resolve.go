package extraction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Source is the input of one extraction. The first non-empty of Blob, URL and
// StoragePath is used to obtain the bytes.
type Source struct {
	Name        string
	MimeType    string
	Blob        []byte
	URL         string
	StoragePath string
}

// BlobFetcher downloads the bytes behind a URL.
type BlobFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// URLResolver turns an object store path into a fetchable URL.
type URLResolver interface {
	URL(ctx context.Context, path string) (string, error)
}

// HTTPFetcher is a BlobFetcher over net/http.
type HTTPFetcher struct {
	http     *http.Client
	maxBytes int64
	logger   *slog.Logger
}

func NewHTTPFetcher(timeout time.Duration, logger *slog.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{
		http:     &http.Client{Timeout: timeout},
		maxBytes: 50 << 20,
		logger:   logger,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		f.logger.Warn("extraction.fetch.failed", "url", url, "error", err)
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			f.logger.Warn("extraction.fetch.body_close_error", "url", url, "error", err)
		}
	}(resp.Body)

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: file larger than %d bytes", url, f.maxBytes)
	}
	return data, nil
}

var errNoSource = errors.New("no file data, url or storage path to read from")

// resolveBlob returns the bytes of src: in-memory blob, then URL, then storage path.
func resolveBlob(ctx context.Context, src Source, fetcher BlobFetcher, resolver URLResolver) ([]byte, error) {
	switch {
	case src.Blob != nil:
		return src.Blob, nil
	case src.URL != "":
		if fetcher == nil {
			return nil, errors.New("no fetcher configured for url sources")
		}
		return fetcher.Fetch(ctx, src.URL)
	case src.StoragePath != "":
		if resolver == nil || fetcher == nil {
			return nil, errors.New("no object store configured for storage path sources")
		}
		url, err := resolver.URL(ctx, src.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("resolve storage path %s: %w", src.StoragePath, err)
		}
		return fetcher.Fetch(ctx, url)
	default:
		return nil, errNoSource
	}
}
