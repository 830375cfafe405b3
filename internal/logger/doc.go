// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with console or JSON encoding,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level and format configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// The coordinator, the adapters and the background tasks accept a context and
// extract the logger from it, so every line carries the component name.
package logger
