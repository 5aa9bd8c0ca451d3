package imagecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type batchTally struct {
	succeeded int
	finished  int
	total     int
}

func TestPreload_TalliesAndCompletion(t *testing.T) {
	t.Parallel()
	dl := &scriptedDownloader{
		payload: pngPayload(t),
		errFor: map[string]error{
			"http://example.com/bad.png": errors.New("boom"),
		},
	}
	m := newTestManager(t, dl)

	locators := []string{
		"http://example.com/a.png",
		"http://example.com/bad.png",
		"http://example.com/b.png",
	}

	progressCh := make(chan batchTally, len(locators))
	completionCh := make(chan batchTally, 1)
	tasks := m.Preload(context.Background(), locators, FetchOptions{},
		func(succeeded, finished, total int) {
			progressCh <- batchTally{succeeded, finished, total}
		},
		func(succeeded, total int) {
			completionCh <- batchTally{succeeded: succeeded, total: total}
		})
	require.Len(t, tasks, len(locators))

	var done batchTally
	select {
	case done = <-completionCh:
	case <-time.After(5 * time.Second):
		t.Fatal("preload never completed")
	}
	require.Equal(t, 2, done.succeeded)
	require.Equal(t, 3, done.total)

	// Progress fired once per task, with finished counting up.
	for want := 1; want <= 3; want++ {
		p := <-progressCh
		require.Equal(t, want, p.finished)
		require.Equal(t, 3, p.total)
	}

	// The batch landed in the persistent tier.
	for _, locator := range []string{"http://example.com/a.png", "http://example.com/b.png"} {
		ok, err := m.Disk().Contains(context.Background(), locator)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestPreload_EmptyList(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, &scriptedDownloader{})

	called := false
	tasks := m.Preload(context.Background(), nil, FetchOptions{}, nil, func(int, int) {
		called = true
	})
	require.Nil(t, tasks)

	time.Sleep(50 * time.Millisecond)
	require.False(t, called)
}

func TestPreload_CancelPreloading(t *testing.T) {
	t.Parallel()
	hold := make(chan struct{})
	dl := &scriptedDownloader{payload: pngPayload(t), hold: hold}
	m := newTestManager(t, dl)

	completed := make(chan struct{}, 1)
	tasks := m.Preload(context.Background(),
		[]string{"http://example.com/a.png", "http://example.com/b.png"},
		FetchOptions{}, nil,
		func(int, int) { completed <- struct{}{} })
	require.Len(t, tasks, 2)

	require.Eventually(t, func() bool { return dl.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	m.CancelPreloading()

	for _, task := range tasks {
		require.True(t, task.Cancelled())
	}
	select {
	case <-completed:
		t.Fatal("cancelled batch delivered completion")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPreload_NewBatchCancelsPrevious(t *testing.T) {
	t.Parallel()
	hold := make(chan struct{})
	dl := &scriptedDownloader{payload: pngPayload(t), hold: hold}
	m := newTestManager(t, dl)

	first := m.Preload(context.Background(),
		[]string{"http://example.com/a.png"}, FetchOptions{}, nil, nil)
	require.Len(t, first, 1)
	require.Eventually(t, func() bool { return dl.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	completed := make(chan batchTally, 1)
	second := m.Preload(context.Background(),
		[]string{"http://example.com/b.png", "http://example.com/c.png"},
		FetchOptions{}, nil,
		func(succeeded, total int) { completed <- batchTally{succeeded: succeeded, total: total} })
	require.Len(t, second, 2)
	require.True(t, first[0].Cancelled())

	close(hold)
	select {
	case done := <-completed:
		require.Equal(t, 2, done.succeeded)
		require.Equal(t, 2, done.total)
	case <-time.After(5 * time.Second):
		t.Fatal("second batch never completed")
	}

	// Ordinary fetches are untouched by CancelPreloading.
	res := fetchSync(t, m, "http://example.com/d.png", FetchOptions{}, nil)
	require.NoError(t, res.Err)
}
