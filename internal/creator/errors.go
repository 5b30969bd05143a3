package creator

import "errors"

var (
	// ErrUnknownCreator is returned when no creator is registered under a name.
	ErrUnknownCreator = errors.New("unknown creator")

	// ErrDuplicateCreator is returned when a name is registered twice.
	ErrDuplicateCreator = errors.New("creator already registered")

	// ErrMissingArgument is returned when a required argument is not given.
	ErrMissingArgument = errors.New("missing required argument")

	// ErrUnknownArgument is returned for an argument the creator does not take.
	ErrUnknownArgument = errors.New("unknown argument")

	// ErrInvalidArgument is returned when an argument value cannot be parsed.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmptyRow is returned for a CSV row without a hostname.
	ErrEmptyRow = errors.New("empty line found in device file")

	// ErrDuplicateHostname is returned when a CSV lists a hostname twice.
	ErrDuplicateHostname = errors.New("duplicate hostname")

	// ErrMissingKey is returned when a CSV row lacks a required column value.
	ErrMissingKey = errors.New("missing required key")

	// ErrUnsupportedFile is returned for inputs that are not CSV files.
	ErrUnsupportedFile = errors.New("unsupported device file: expected a .csv file")
)
