// Package log provides the loggers used by topocrawl, built on log/slog.
//
// Three outputs exist:
//   - the application logger returned by NewSecureLogger, written to stderr
//     at Warn level (Debug with --verbose);
//   - the debug log returned by NewDebugLogger, which records every
//     connection attempt and device command and rotates through lumberjack;
//   - the Console, which prints operator-facing status lines tagged
//     %CONTRIB-INFO: and %CONTRIB-WARNING:.
//
// # Security Features
//
// Every slog logger is wrapped in a SecureHandler. Attribute values are
// masked when the key names a secret (password, secret, enable, community,
// credential) or when the value itself looks like device configuration that
// carries one:
//
//	enable secret 5 $1$mERr$hx5rVt7rPNoS4wqbXKX7m0
//	username admin privilege 15 password 7 0822455D0A16
//	snmp-server community public RO
//
// Even in verbose mode these values are replaced by MaskValue, so debug logs
// can be attached to bug reports.
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	slog.SetDefault(logger)
//
//	debug, closer := log.NewDebugLogger(cfg.DebugLog)
//	defer closer.Close()
//	debug.Debug("attempt", "device", "core1", "password", pw) // masked
package log
