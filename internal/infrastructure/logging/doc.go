// Package logging provides structured logging for the decoder adapter.
//
// It wraps Go's standard log/slog package so every component logs in a
// consistent machine-parsable format with default fields (service,
// version) on every entry.
//
// Logging is configured via config.LoggingConfig; the level can be
// overridden with the LOG_LEVEL environment variable:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log device credentials, broker passwords, or session tokens.
package logging
