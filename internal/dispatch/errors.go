package dispatch

import (
	"errors"
	"fmt"

	"github.com/sesh-im/sesh-go/internal/transport"
)

// ErrMissingAttachment indicates the referenced attachment record (or
// its pending pointer) no longer exists. Always permanent.
var ErrMissingAttachment = errors.New("dispatch: attachment vanished")

// permanentError marks a failure that retrying cannot fix. The job queue
// abandons the job immediately instead of rescheduling it.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// permanent wraps err as a permanent failure.
func permanent(err error) error {
	return &permanentError{err: err}
}

// permanentf formats a permanent failure.
func permanentf(format string, args ...any) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

// isPermanent classifies err. Missing records, unparseable server
// responses and 4xx protocol errors are permanent; everything else
// (network, storage, 5xx) is retryable.
func isPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	if errors.Is(err, ErrMissingAttachment) || errors.Is(err, transport.ErrMalformedResponse) {
		return true
	}
	var serverErr *transport.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.Permanent()
	}
	return false
}
