package model

import "fmt"

// Status is the discovery state of a device during a crawl.
//
// A device starts Unvisited and moves to InProgress when a worker claims it.
// Visited, Failed and Excluded are terminal.
type Status int

const (
	// StatusUnvisited marks a device that is known but has not been claimed yet.
	StatusUnvisited Status = iota

	// StatusInProgress marks a device currently owned by a worker.
	StatusInProgress

	// StatusVisited marks a device that was connected to and queried,
	// even when it reported zero neighbors.
	StatusVisited

	// StatusFailed marks a device whose candidates were all exhausted, or whose
	// neighbor query errored after a successful connection.
	StatusFailed

	// StatusExcluded marks a device removed by exclusion policy or by
	// only-links mode.
	StatusExcluded
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusUnvisited:
		return "unvisited"
	case StatusInProgress:
		return "in-progress"
	case StatusVisited:
		return "visited"
	case StatusFailed:
		return "failed"
	case StatusExcluded:
		return "excluded"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusVisited || s == StatusFailed || s == StatusExcluded
}

// MarshalText implements encoding.TextMarshaler so statuses render by name
// in JSON and YAML output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextMarshaler's counterpart.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts a status name back to a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses() {
		if st.String() == s {
			return st, nil
		}
	}
	return StatusUnvisited, fmt.Errorf("unknown device status %q", s)
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusUnvisited,
		StatusInProgress,
		StatusVisited,
		StatusFailed,
		StatusExcluded,
	}
}
