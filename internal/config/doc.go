// Package config handles configuration loading for the iris client core.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	remote:
//	  token: ${IRIS_TOKEN}
//
// Unset variables expand to the empty string.
//
// # Sections
//
//   - remote: REST base URL, WebSocket URL, optional static bearer token
//   - database: local SQLite path
//   - session: local conversation cap (evicted least-recently-updated)
//   - tabs: maximum open tabs and ordering policy
//   - stream: idle finalize debounce, duplicate coalescing window,
//     reconnect backoff and attempt limit
//   - logging: level and format (text or json)
//
// Duration fields ("150ms", "2s") are parsed after unmarshaling; unset
// fields fall back to the Default* constants.
package config
