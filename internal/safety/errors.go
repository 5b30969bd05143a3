package safety

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nao1215/topocrawl/internal/model"
)

// ErrConsentDeclined is returned when the operator refuses device
// configuration changes. The crawl stops before any device is contacted.
var ErrConsentDeclined = errors.New("operator declined device configuration changes")

// RollbackError reports protocols that could not be disabled again.
// The change stays on the device and must be undone by hand.
type RollbackError struct {
	Device    string
	Protocols []model.DiscoveryProtocol
	Err       error
}

func (e *RollbackError) Error() string {
	names := make([]string, len(e.Protocols))
	for i, p := range e.Protocols {
		names[i] = string(p)
	}
	return fmt.Sprintf("failed to restore %s on %s: %v", strings.Join(names, ","), e.Device, e.Err)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}
