package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	// ErrBlacklisted is returned when a fetch is refused because the
	// locator previously failed with a non-transient cause. Pass
	// RetryFailedURL to force another attempt.
	ErrBlacklisted = errors.New("imagecache: resource blacklisted")

	// ErrClosed is returned for operations on a closed manager.
	ErrClosed = errors.New("imagecache: manager closed")
)

// DownloadError reports a failed payload download. Transient failures
// never blacklist the locator; anything else does.
type DownloadError struct {
	Locator   string
	Transient bool
	Err       error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("imagecache: download %s: %v", e.Locator, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// DecodeError reports a payload that could not be decoded into an
// image.
type DecodeError struct {
	Locator string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("imagecache: decode %s: %v", e.Locator, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TransformError reports a transformer that failed to produce an
// edited image.
type TransformError struct {
	Locator string
	Key     string
	Err     error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("imagecache: transform %s with %q: %v", e.Locator, e.Key, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// StatusError reports a download that reached the server but came back
// with a non-success status code.
type StatusError struct {
	Locator    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("imagecache: download %s: unexpected status %d", e.Locator, e.StatusCode)
}

// classifyTransient reports whether a download failure is transient.
// Transient causes are connectivity problems that say nothing about
// the resource itself: cancellation, timeouts, an unreachable host or
// network, and connections that were refused or lost mid-transfer.
// Everything else, a DNS name that does not resolve or a rejecting
// status code included, marks the locator as permanently failing.
func classifyTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EPIPE,
		syscall.EHOSTUNREACH,
		syscall.EHOSTDOWN,
		syscall.ENETUNREACH,
		syscall.ENETDOWN,
		syscall.ENETRESET,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
