package testbed

import "errors"

var (
	// ErrInvalidTestbed is returned when the document is not a testbed mapping.
	ErrInvalidTestbed = errors.New("invalid testbed")

	// ErrNoDevices is returned by Seeds when the testbed lists no devices.
	ErrNoDevices = errors.New("testbed has no devices")

	// ErrDuplicateDevice is returned when a device name is added twice.
	ErrDuplicateDevice = errors.New("duplicate device")

	// ErrInvalidSecret is returned when an %ENC{} value cannot be decoded.
	ErrInvalidSecret = errors.New("invalid encoded secret")
)
