package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ProgressFunc observes download progress. expected is the total
// payload size when known and -1 otherwise.
type ProgressFunc func(received, expected int64)

// DownloadOptions are pass-through settings handed to the downloader
// for a single fetch.
type DownloadOptions struct {
	// Timeout bounds the whole download. Zero means no limit beyond
	// the caller's context.
	Timeout time.Duration

	// Headers are added to the outgoing request.
	Headers http.Header
}

// Downloader retrieves the payload behind a resource locator. A
// cancelled context aborts the transfer.
type Downloader interface {
	Download(ctx context.Context, locator string, opts DownloadOptions, progress ProgressFunc) ([]byte, error)
}

// isFileLocator reports whether the locator names a local file, which
// skips the persistent tier entirely.
func isFileLocator(locator string) bool {
	return strings.HasPrefix(locator, "file:")
}

// HTTPDownloader fetches payloads over HTTP and reads file locators
// straight from the filesystem.
type HTTPDownloader struct {
	Client *http.Client
}

// NewHTTPDownloader returns a downloader backed by its own HTTP
// client.
func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{Client: &http.Client{}}
}

func (d *HTTPDownloader) Download(ctx context.Context, locator string, opts DownloadOptions, progress ProgressFunc) ([]byte, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if isFileLocator(locator) {
		return readFileLocator(ctx, locator, progress)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, err
	}
	for name, values := range opts.Headers {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Locator: locator, StatusCode: resp.StatusCode}
	}

	expected := resp.ContentLength
	var payload []byte
	buf := make([]byte, 32<<10)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			payload = append(payload, buf[:n]...)
			if progress != nil {
				progress(int64(len(payload)), expected)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}
	return payload, nil
}

func readFileLocator(ctx context.Context, locator string, progress ProgressFunc) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("imagecache: bad file locator %q: %w", locator, err)
	}
	payload, err := os.ReadFile(u.Path)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress(int64(len(payload)), int64(len(payload)))
	}
	return payload, nil
}
