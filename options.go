package imagecache

import (
	"cmp"
	"errors"

	"github.com/ankur-anand/imagecache/diskcache"
	"github.com/ankur-anand/imagecache/kvstore"
	"github.com/ankur-anand/imagecache/memcache"
)

const (
	defaultFetchWorkers = 8
	defaultQueueDepth   = 256
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// CacheDir is the directory holding the persistent tier. Required
	// unless Store.Path is set.
	CacheDir string

	// Memory configures the in-memory tier. The zero value leaves the
	// tier unbounded.
	Memory memcache.Options[*Image]

	// Store configures the persistent backend. Leave Path empty to
	// use kvstore.DefaultOptions rooted at CacheDir; setting Path
	// hands over the whole store configuration, BlobThreshold
	// included.
	Store kvstore.Options

	// Disk configures the persistent tier wrapper. Its worker pool is
	// always the manager's pool.
	Disk diskcache.Options

	// Workers sizes the fetch pipeline pool. Defaults to 8.
	Workers int

	// QueueDepth bounds the pipeline pool's backlog. Defaults to 256.
	QueueDepth int

	// Downloader retrieves payloads. Defaults to NewHTTPDownloader.
	Downloader Downloader

	// Decoder turns payloads into images. Defaults to StdDecoder.
	Decoder Decoder

	// Metrics observes fetch outcomes. Nil disables observation.
	Metrics *FetchMetrics
}

// DefaultManagerOptions returns options for a cache rooted at dir: an
// unbounded memory tier, the default persistent store, and a disk
// auto-trim loop with no limits set.
func DefaultManagerOptions(dir string) ManagerOptions {
	return ManagerOptions{
		CacheDir: dir,
		Store:    kvstore.DefaultOptions(dir),
		Disk: diskcache.Options{
			AutoTrim: true,
		},
		Workers:    defaultFetchWorkers,
		QueueDepth: defaultQueueDepth,
		Downloader: NewHTTPDownloader(),
		Decoder:    StdDecoder{},
	}
}

// WithDefaults fills unset fields that have non-zero defaults.
func (o ManagerOptions) WithDefaults() ManagerOptions {
	if o.Store.Path == "" {
		o.Store = kvstore.DefaultOptions(o.CacheDir)
	}
	o.Workers = cmp.Or(o.Workers, defaultFetchWorkers)
	o.QueueDepth = cmp.Or(o.QueueDepth, defaultQueueDepth)
	if o.Downloader == nil {
		o.Downloader = NewHTTPDownloader()
	}
	if o.Decoder == nil {
		o.Decoder = StdDecoder{}
	}
	return o
}

// Validate reports whether the options are usable.
func (o ManagerOptions) Validate() error {
	if o.CacheDir == "" && o.Store.Path == "" {
		return errors.New("imagecache: CacheDir must not be empty")
	}
	if o.Workers < 0 {
		return errors.New("imagecache: Workers must not be negative")
	}
	if o.QueueDepth < 0 {
		return errors.New("imagecache: QueueDepth must not be negative")
	}
	if err := o.Memory.Validate(); err != nil {
		return err
	}
	return o.Disk.Validate()
}

// FetchOptions are per-fetch flags. Flags combine orthogonally; no
// flag implies another.
type FetchOptions struct {
	// Preload fetches the resource into the caches without producing
	// a decoded payload for the caller.
	Preload bool

	// RefreshCache skips both cache tiers and downloads a fresh
	// payload, which still replaces the cached copies afterwards.
	RefreshCache bool

	// IgnoreDiskCache skips the persistent tier for both the read and
	// the write-back.
	IgnoreDiskCache bool

	// RetryFailedURL attempts the fetch even when the locator is
	// blacklisted. A successful fetch clears the blacklist entry.
	RetryFailedURL bool

	// QueryDataWhenInMemory reads the encoded payload from the
	// persistent tier even on a memory hit, so the delivered image
	// carries its original bytes.
	QueryDataWhenInMemory bool

	// IgnoreImageDecoding skips the display normalization step and
	// delivers the plainly decoded image.
	IgnoreImageDecoding bool

	// Download is forwarded to the downloader untouched.
	Download DownloadOptions
}
