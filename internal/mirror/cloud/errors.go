package cloud

import (
	"context"
	"errors"
	"net"
)

// Errors returned by Store implementations.
//
// Check them with errors.Is:
//
//	if errors.Is(err, cloud.ErrUnavailable) {
//	    // go offline and retry on the next probe
//	}
var (
	// ErrUnavailable is returned when the remote cannot be reached or
	// answered with a transient failure.
	ErrUnavailable = errors.New("remote store unavailable")

	// ErrNotFound is returned when a document or manifest does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrUnauthorized is returned when the remote rejects the credentials.
	ErrUnauthorized = errors.New("remote store rejected credentials")

	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("remote store closed")
)

// IsRetryable returns true if the error is likely to succeed on retry,
// such as a network failure or a timeout.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrUnavailable) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// IsFatal returns true if retrying cannot help without a configuration
// change.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrUnauthorized) {
		return true
	}

	if errors.Is(err, ErrClosed) {
		return true
	}

	return false
}
