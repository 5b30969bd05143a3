package discovery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nao1215/topocrawl/internal/model"
)

// ErrQueryFailed is matched by every *QueryError.
var ErrQueryFailed = errors.New("neighbor discovery query failed")

// ProtocolError is the failure of one protocol query.
type ProtocolError struct {
	Protocol model.DiscoveryProtocol
	Err      error
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Protocol, e.Err)
}

func (e ProtocolError) Unwrap() error {
	return e.Err
}

// QueryError is returned when every attempted protocol errored on a
// connected device.
type QueryError struct {
	Device string
	Errors []ProtocolError
}

func (e *QueryError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, pe := range e.Errors {
		parts[i] = pe.Error()
	}
	return fmt.Sprintf("neighbor discovery failed on %s: %s", e.Device, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrQueryFailed) true.
func (e *QueryError) Is(target error) bool {
	return target == ErrQueryFailed
}

func (e *QueryError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, pe := range e.Errors {
		errs[i] = pe
	}
	return errs
}
