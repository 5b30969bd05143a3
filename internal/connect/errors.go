package connect

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed is matched by every *ConnectionFailure.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNoCandidates is returned when a device has no usable address.
	ErrNoCandidates = errors.New("no connection candidates")

	// ErrCandidateFailedBefore marks an attempt skipped because the same
	// candidate already failed earlier in the crawl.
	ErrCandidateFailedBefore = errors.New("candidate already failed in this crawl")

	// ErrPortClosed marks an attempt skipped because the probe found the
	// port closed.
	ErrPortClosed = errors.New("port closed")
)

// ConnectionFailure is returned when every candidate of a device failed.
// It does not abort the crawl: the device is marked Failed.
type ConnectionFailure struct {
	Device   string
	Attempts []Attempt

	// Cause is set when the failure has a single reason, such as
	// ErrNoCandidates or a cancelled crawl.
	Cause error
}

func (e *ConnectionFailure) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("could not connect to %s: %v", e.Device, e.Cause)
	case len(e.Attempts) == 0:
		return fmt.Sprintf("could not connect to %s", e.Device)
	default:
		last := e.Attempts[len(e.Attempts)-1]
		return fmt.Sprintf("could not connect to %s: %d attempts failed, last %s: %v",
			e.Device, len(e.Attempts), last.Key(), last.Err)
	}
}

// Is makes errors.Is(err, ErrConnectionFailed) true.
func (e *ConnectionFailure) Is(target error) bool {
	return target == ErrConnectionFailed
}

func (e *ConnectionFailure) Unwrap() error {
	return e.Cause
}
