package config

import "errors"

// Configuration validation errors returned by Config.Validate. They abort the
// command before any device is contacted.
var (
	// ErrNoTestbed is returned when --testbed-file is missing.
	ErrNoTestbed = errors.New("no testbed specified: use --testbed-file")

	// ErrInvalidTimeout is returned when the per-attempt timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid workers: must be positive")

	// ErrConflictingProtocols is returned when both --ssh-only and
	// --telnet-connect are specified.
	ErrConflictingProtocols = errors.New("conflicting protocols: --ssh-only and --telnet-connect cannot be used together")

	// ErrConflictingConfigModes is returned when both --config-discovery and
	// --disable-config are specified.
	ErrConflictingConfigModes = errors.New("conflicting config modes: --config-discovery and --disable-config cannot be used together")

	// ErrInvalidUniversalLogin is returned when --universal-login is not "user:password".
	ErrInvalidUniversalLogin = errors.New("invalid universal login: expected user:password")

	// ErrInvalidAlias is returned when an --alias value is not "device:alias".
	ErrInvalidAlias = errors.New("invalid alias: expected device:alias")

	// ErrInvalidProxy is returned when --proxy is not "host:port".
	ErrInvalidProxy = errors.New("invalid proxy: expected host:port")

	// ErrInvalidReportFormat is returned for an unknown --report-format.
	ErrInvalidReportFormat = errors.New("invalid report format: use text, markdown or json")
)
