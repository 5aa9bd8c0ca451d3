package imagecache

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedDownloader counts calls and serves one payload or error,
// optionally holding every download until released or cancelled.
type scriptedDownloader struct {
	mu      sync.Mutex
	calls   int
	byLoc   map[string]int
	payload []byte
	err     error
	errFor  map[string]error
	hold    chan struct{}
}

func (d *scriptedDownloader) Download(ctx context.Context, locator string, _ DownloadOptions, progress ProgressFunc) ([]byte, error) {
	d.mu.Lock()
	d.calls++
	if d.byLoc == nil {
		d.byLoc = make(map[string]int)
	}
	d.byLoc[locator]++
	payload, err, hold := d.payload, d.err, d.hold
	if locErr, ok := d.errFor[locator]; ok {
		err = locErr
	}
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress(int64(len(payload)), int64(len(payload)))
	}
	return payload, nil
}

func (d *scriptedDownloader) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *scriptedDownloader) countFor(locator string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byLoc[locator]
}

func (d *scriptedDownloader) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *scriptedDownloader) setPayload(payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payload = payload
}

func newTestManager(t *testing.T, dl Downloader) *Manager {
	t.Helper()
	opts := DefaultManagerOptions(t.TempDir())
	opts.Downloader = dl
	opts.Workers = 4
	opts.Disk.AutoTrim = false
	m, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})
	return m
}

// fetchSync runs one fetch and waits for its delivered result.
func fetchSync(t *testing.T, m *Manager, locator string, opts FetchOptions, tr Transformer) Result {
	t.Helper()
	resCh := make(chan Result, 1)
	_, err := m.Fetch(context.Background(), locator, opts, tr, nil, func(res Result) {
		resCh <- res
	})
	require.NoError(t, err)
	select {
	case res := <-resCh:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("fetch never completed")
		return Result{}
	}
}

func pngPayload(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	_, err := New(ManagerOptions{})
	require.Error(t, err)

	_, err = New(ManagerOptions{CacheDir: t.TempDir(), Workers: -1})
	require.Error(t, err)
}

func TestManager_CloseIdempotent(t *testing.T) {
	t.Parallel()
	opts := DefaultManagerOptions(t.TempDir())
	opts.Downloader = &scriptedDownloader{}
	m, err := New(opts)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.Fetch(context.Background(), "http://example.com/a.png", FetchOptions{}, nil, nil, nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestManager_CloseCancelsInFlight(t *testing.T) {
	t.Parallel()
	hold := make(chan struct{})
	dl := &scriptedDownloader{payload: pngPayload(t), hold: hold}

	opts := DefaultManagerOptions(t.TempDir())
	opts.Downloader = dl
	opts.Disk.AutoTrim = false
	m, err := New(opts)
	require.NoError(t, err)

	delivered := make(chan struct{}, 1)
	_, err = m.Fetch(context.Background(), "http://example.com/a.png", FetchOptions{}, nil, nil, func(Result) {
		delivered <- struct{}{}
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return dl.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, m.Close())

	select {
	case <-delivered:
		t.Fatal("cancelled task delivered a result")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_TierAccessors(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, &scriptedDownloader{payload: pngPayload(t)})

	require.NotNil(t, m.Memory())
	require.NotNil(t, m.Disk())

	m.Memory().Put("k", &Image{Data: []byte("x")}, 1)
	_, ok := m.Memory().Get("k")
	require.True(t, ok)
}
