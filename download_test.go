package imagecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPDownloader_FetchesAndReportsProgress(t *testing.T) {
	t.Parallel()
	payload := pngPayload(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	var mu sync.Mutex
	var received []int64
	dl := NewHTTPDownloader()
	got, err := dl.Download(context.Background(), srv.URL+"/a.png", DownloadOptions{}, func(n, expected int64) {
		mu.Lock()
		received = append(received, n)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.NotEmpty(t, received)
	for i := 1; i < len(received); i++ {
		require.GreaterOrEqual(t, received[i], received[i-1])
	}
	require.Equal(t, int64(len(payload)), received[len(received)-1])
}

func TestHTTPDownloader_StatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	_, err := NewHTTPDownloader().Download(context.Background(), srv.URL+"/missing.png", DownloadOptions{}, nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.False(t, classifyTransient(err))
}

func TestHTTPDownloader_SendsHeaders(t *testing.T) {
	t.Parallel()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer token")
	_, err := NewHTTPDownloader().Download(context.Background(), srv.URL, DownloadOptions{Headers: headers}, nil)
	require.NoError(t, err)
	require.Equal(t, "Bearer token", gotAuth)
}

func TestHTTPDownloader_FileLocator(t *testing.T) {
	t.Parallel()
	payload := []byte("file payload")
	path := filepath.Join(t.TempDir(), "img.bin")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	got, err := NewHTTPDownloader().Download(context.Background(), "file://"+path, DownloadOptions{}, nil)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	_, err = NewHTTPDownloader().Download(context.Background(), "file://"+filepath.Join(t.TempDir(), "missing"), DownloadOptions{}, nil)
	require.Error(t, err)
}

func TestHTTPDownloader_ContextCancel(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := NewHTTPDownloader().Download(ctx, srv.URL, DownloadOptions{}, nil)
		errCh <- err
	}()
	cancel()

	err := <-errCh
	require.Error(t, err)
	require.True(t, classifyTransient(err))
}
