package imagecache

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Source tells which tier a delivered value came from. SourceNone
// means the payload was freshly downloaded.
type Source int

const (
	SourceNone Source = iota
	SourceMemory
	SourceDisk
	SourceAll
)

func (s Source) String() string {
	switch s {
	case SourceMemory:
		return "memory"
	case SourceDisk:
		return "disk"
	case SourceAll:
		return "all"
	default:
		return "none"
	}
}

// Result is a fetch outcome: a value or an error, never both. A
// preload hit carries neither; Source still names the tier that
// satisfied it.
type Result struct {
	Value  *Image
	Source Source
	Err    error
}

// CompletionFunc receives a task's single terminal result. All
// completions of one manager run on one delivery worker, so callbacks
// never execute concurrently with each other.
type CompletionFunc func(Result)

// Fetch resolves locator through the pipeline: blacklist gate, memory
// tier, persistent tier, download, decode and transform, write-back,
// delivery. The returned task can be cancelled at any time; a
// cancelled task never invokes completion. ctx bounds the download and
// is otherwise not consulted after Fetch returns.
func (m *Manager) Fetch(ctx context.Context, locator string, opts FetchOptions, transformer Transformer, progress ProgressFunc, completion CompletionFunc) (*Task, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if locator == "" {
		return nil, errors.New("imagecache: locator must not be empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &Task{
		id:      m.nextID.Add(1),
		locator: locator,
		preload: opts.Preload,
		ctx:     tctx,
		cancel:  cancel,
	}
	m.register(t)

	err := m.pool.Submit(func() {
		m.runFetch(t, opts, transformer, progress, completion)
	})
	if err != nil {
		m.deregister(t)
		cancel()
		return nil, ErrClosed
	}
	return t, nil
}

func (m *Manager) runFetch(t *Task, opts FetchOptions, tr Transformer, progress ProgressFunc, completion CompletionFunc) {
	if t.Cancelled() {
		m.finishSilently(t)
		return
	}

	if !opts.RetryFailedURL && m.blacklist.Contains(t.locator) {
		m.finish(t, completion, Result{Err: ErrBlacklisted})
		return
	}

	// Memory tier, unless the caller wants a fresh payload.
	var memHit *Image
	if !opts.RefreshCache {
		if v, ok := m.mem.Get(t.locator); ok {
			switch {
			case opts.Preload:
				m.finish(t, completion, Result{Source: SourceMemory})
				return
			case tr == nil && !opts.QueryDataWhenInMemory:
				m.finish(t, completion, Result{Value: v, Source: SourceMemory})
				return
			case tr == nil:
				// The caller wants the encoded payload as well;
				// remember the hit and consult the disk tier.
				memHit = v
			case v.TransformKey == tr.Key():
				m.finish(t, completion, Result{Value: v, Source: SourceMemory})
				return
			case v.TransformKey == "":
				m.transformMemoryHit(t, v, tr, completion)
				return
			default:
				// Cached under a different transform. Treat as a
				// miss and rebuild from the payload.
			}
		}
	}

	if t.Cancelled() {
		m.finishSilently(t)
		return
	}

	// Persistent tier. Local files are read by the downloader and
	// never touch it.
	diskUsable := !opts.RefreshCache && !opts.IgnoreDiskCache && !isFileLocator(t.locator)
	if diskUsable {
		if opts.Preload {
			ok, err := m.disk.Contains(t.ctx, t.locator)
			if err == nil && ok {
				m.finish(t, completion, Result{Source: SourceDisk})
				return
			}
		} else {
			data, ok, err := m.disk.Get(t.ctx, t.locator)
			switch {
			case err == nil && ok && memHit != nil:
				img := &Image{Bitmap: memHit.Bitmap, Data: data, TransformKey: memHit.TransformKey}
				m.finish(t, completion, Result{Value: img, Source: SourceAll})
				return
			case err == nil && ok:
				m.decodeAndDeliver(t, data, SourceDisk, opts, tr, completion)
				return
			case memHit != nil:
				// Disk has no copy; the memory value stands alone.
				m.finish(t, completion, Result{Value: memHit, Source: SourceMemory})
				return
			}
			if err != nil {
				slog.Debug("imagecache: disk read failed, downloading", "locator", t.locator, "err", err)
			}
		}
	} else if memHit != nil {
		m.finish(t, completion, Result{Value: memHit, Source: SourceMemory})
		return
	}

	m.downloadAndDeliver(t, opts, tr, progress, completion)
}

// transformMemoryHit edits an untagged memory hit, caches the tagged
// result and delivers it.
func (m *Manager) transformMemoryHit(t *Task, v *Image, tr Transformer, completion CompletionFunc) {
	out, err := tr.Edit(v)
	if t.Cancelled() {
		m.finishSilently(t)
		return
	}
	if err != nil || out == nil {
		if err == nil {
			err = errors.New("imagecache: transformer returned no image")
		}
		m.finish(t, completion, Result{Source: SourceMemory, Err: &TransformError{Locator: t.locator, Key: tr.Key(), Err: err}})
		return
	}
	tagged := &Image{Bitmap: out.Bitmap, Data: out.Data, TransformKey: tr.Key()}
	m.mem.Put(t.locator, tagged, tagged.Cost())
	m.finish(t, completion, Result{Value: tagged, Source: SourceMemory})
}

func (m *Manager) downloadAndDeliver(t *Task, opts FetchOptions, tr Transformer, progress ProgressFunc, completion CompletionFunc) {
	start := time.Now()
	payload, err := m.downloader.Download(t.ctx, t.locator, opts.Download, progress)
	m.metrics.ObserveDownload(len(payload), time.Since(start), err)

	if t.Cancelled() {
		m.finishSilently(t)
		return
	}
	if err != nil {
		dlErr := &DownloadError{Locator: t.locator, Transient: classifyTransient(err), Err: err}
		if !dlErr.Transient {
			m.blacklist.Add(t.locator)
		}
		m.finish(t, completion, Result{Err: dlErr})
		return
	}
	if opts.RetryFailedURL {
		m.blacklist.Remove(t.locator)
	}
	m.decodeAndDeliver(t, payload, SourceNone, opts, tr, completion)
}

// decodeAndDeliver turns a payload into an image, applies the
// requested transform or normalization, writes the result back into
// the tiers and delivers it. Failures on freshly downloaded payloads
// blacklist the locator; failures on disk-origin payloads are reported
// without blacklisting.
func (m *Manager) decodeAndDeliver(t *Task, payload []byte, source Source, opts FetchOptions, tr Transformer, completion CompletionFunc) {
	if t.Cancelled() {
		m.finishSilently(t)
		return
	}

	img, err := m.decoder.Decode(payload)
	if err != nil {
		if source == SourceNone {
			m.blacklist.Add(t.locator)
		}
		m.finish(t, completion, Result{Source: source, Err: &DecodeError{Locator: t.locator, Err: err}})
		return
	}
	if img.Data == nil {
		img.Data = payload
	}

	if tr != nil {
		if img.TransformKey != tr.Key() {
			out, terr := tr.Edit(img)
			if t.Cancelled() {
				m.finishSilently(t)
				return
			}
			if terr != nil || out == nil {
				if terr == nil {
					terr = errors.New("imagecache: transformer returned no image")
				}
				if source == SourceNone {
					m.blacklist.Add(t.locator)
				}
				m.finish(t, completion, Result{Source: source, Err: &TransformError{Locator: t.locator, Key: tr.Key(), Err: terr}})
				return
			}
			img = &Image{Bitmap: out.Bitmap, Data: out.Data, TransformKey: tr.Key()}
		}
	} else if !opts.IgnoreImageDecoding {
		if norm, nerr := m.decoder.Normalize(img); nerr == nil && norm != nil {
			img = norm
		}
	}

	if t.Cancelled() {
		m.finishSilently(t)
		return
	}

	// Write-back. The memory tier always takes the decoded value; the
	// encoded payload goes to disk only when it was freshly
	// downloaded from a remote locator.
	m.mem.Put(t.locator, img, img.Cost())
	if source == SourceNone && !opts.IgnoreDiskCache && !isFileLocator(t.locator) {
		if err := m.disk.Set(context.Background(), t.locator, payload); err != nil {
			slog.Warn("imagecache: disk write-back failed", "locator", t.locator, "err", err)
		}
	}
	m.finish(t, completion, Result{Value: img, Source: source})
}

// finish marks t terminal, removes it from the active set and
// schedules the completion on the delivery worker. Delivery checks the
// cancellation flag one last time, so a task cancelled after its
// result was computed still stays silent.
func (m *Manager) finish(t *Task, completion CompletionFunc, res Result) {
	if !t.finish() {
		return
	}
	t.cancel()
	m.deregister(t)
	m.metrics.ObserveResult(res)
	if completion == nil {
		return
	}
	submitErr := m.deliver.Submit(func() {
		if t.Cancelled() {
			return
		}
		completion(res)
	})
	if submitErr != nil {
		slog.Debug("imagecache: delivery dropped, manager closing", "locator", t.locator)
	}
}

func (m *Manager) finishSilently(t *Task) {
	if !t.finish() {
		return
	}
	t.cancel()
	m.deregister(t)
	m.metrics.ObserveCancelled()
}
