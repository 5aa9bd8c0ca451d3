package imagecache

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FetchMetrics observes fetch pipeline outcomes. Any field may be nil
// to skip that observation, and a nil *FetchMetrics is safe to use.
type FetchMetrics struct {
	FetchTotal      prometheus.Counter
	FetchErrors     prometheus.Counter
	MemoryHits      prometheus.Counter
	DiskHits        prometheus.Counter
	Downloads       prometheus.Counter
	DownloadErrors  prometheus.Counter
	DownloadLatency prometheus.Histogram
	DownloadBytes   prometheus.Counter
	DecodeErrors    prometheus.Counter
	TransformErrors prometheus.Counter
	BlacklistHits   prometheus.Counter
	CancelledTotal  prometheus.Counter
}

func (m *FetchMetrics) incCounter(counter prometheus.Counter) {
	if m == nil || counter == nil {
		return
	}
	counter.Inc()
}

func (m *FetchMetrics) addCounter(counter prometheus.Counter, value float64) {
	if m == nil || counter == nil || value == 0 {
		return
	}
	counter.Add(value)
}

func (m *FetchMetrics) observeHistogram(histogram prometheus.Histogram, value float64) {
	if m == nil || histogram == nil {
		return
	}
	histogram.Observe(value)
}

// ObserveResult records one delivered fetch outcome.
func (m *FetchMetrics) ObserveResult(res Result) {
	if m == nil {
		return
	}
	m.incCounter(m.FetchTotal)
	if res.Err != nil {
		m.incCounter(m.FetchErrors)
		switch {
		case errors.Is(res.Err, ErrBlacklisted):
			m.incCounter(m.BlacklistHits)
		default:
			var decodeErr *DecodeError
			var transformErr *TransformError
			if errors.As(res.Err, &decodeErr) {
				m.incCounter(m.DecodeErrors)
			} else if errors.As(res.Err, &transformErr) {
				m.incCounter(m.TransformErrors)
			}
		}
		return
	}
	switch res.Source {
	case SourceMemory:
		m.incCounter(m.MemoryHits)
	case SourceDisk, SourceAll:
		m.incCounter(m.DiskHits)
	}
}

// ObserveCancelled records a task that terminated silently.
func (m *FetchMetrics) ObserveCancelled() {
	if m == nil {
		return
	}
	m.incCounter(m.CancelledTotal)
}

// ObserveDownload records one downloader call.
func (m *FetchMetrics) ObserveDownload(sizeBytes int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.incCounter(m.Downloads)
	m.observeHistogram(m.DownloadLatency, d.Seconds())
	if err != nil {
		m.incCounter(m.DownloadErrors)
		return
	}
	if sizeBytes > 0 {
		m.addCounter(m.DownloadBytes, float64(sizeBytes))
	}
}

// DefaultFetchMetrics returns a full set of collectors. Register them
// with a prometheus.Registerer before use.
func DefaultFetchMetrics(constLabels prometheus.Labels) *FetchMetrics {
	return &FetchMetrics{
		FetchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "imagecache",
			Subsystem:   "fetch",
			Name:        "total",
			Help:        "Total fetch results delivered.",
			ConstLabels: constLabels,
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "imagecache",
			Subsystem:   "fetch",
			Name:        "errors_total",
			Help:        "Fetches that delivered an error.",
			ConstLabels: constLabels,
		}),
		MemoryHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "imagecache",
			Subsystem:   "fetch",
			Name:        "memory_hits_total",
			Help:        "Fetches served from the memory tier.",
			ConstLabels: constLabels,
		}),
		DiskHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "imagecache",
			Subsystem:   "fetch",
			Name:        "disk_hits_total",
			Help:        "Fetches served from the persistent tier.",
			ConstLabels: constLabels,
		}),
		Downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "imagecache",
			Subsystem:   "fetch",
			Name:        "downloads_total",
			Help:        "Downloader invocations.",
			ConstLabels: constLabels,
		}),
		DownloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "imagecache",
			Subsystem:   "fetch",
			Name:        "download_errors_total",
			Help:        "Downloader invocations that failed.",
			ConstLabels: constLabels,
		}),
		DownloadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "imagecache",
			Subsystem:   "fetch",
			Name:        "download_latency_seconds",
			Help:        "Histogram of download latency in seconds.",
			ConstLabels: constLabels,
		}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "imagecache",
			Subsystem:   "fetch",
			Name:        "download_bytes_total",
			Help:        "Total payload bytes downloaded.",
			ConstLabels: constLabels,
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "imagecache",
			Subsystem:   "fetch",
			Name:        "decode_errors_total",
			Help:        "Payloads that could not be decoded.",
			ConstLabels: constLabels,
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "imagecache",
			Subsystem:   "fetch",
			Name:        "transform_errors_total",
			Help:        "Transforms that failed to produce an image.",
			ConstLabels: constLabels,
		}),
		BlacklistHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "imagecache",
			Subsystem:   "fetch",
			Name:        "blacklist_hits_total",
			Help:        "Fetches refused by the failure blacklist.",
			ConstLabels: constLabels,
		}),
		CancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "imagecache",
			Subsystem:   "fetch",
			Name:        "cancelled_total",
			Help:        "Tasks cancelled before delivery.",
			ConstLabels: constLabels,
		}),
	}
}
