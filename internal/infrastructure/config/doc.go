// Package config provides 12-factor configuration management for the relay backend.
//
// Configuration is loaded from environment variables with sensible defaults.
// Optional .env files are read first by the CLI through LoadEnvFiles.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, CORS origins)
//   - Relay: base URL, namespace, channel, readiness timings
//   - Sandbox: the in-process sandbox surface
//   - Direct: the direct-fetch fallback client
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, SHUTDOWN_TIMEOUT, CORS_ORIGINS
//   - RELAY_BASE_URL, RELAY_NAMESPACE, RELAY_CHANNEL, RELAY_MAX_FILE_BYTES
//   - RELAY_LOAD_TIMEOUT, RELAY_POLL_INTERVAL, RELAY_OPTIMISTIC_DISPATCH
//   - SANDBOX_EMBEDDED, SANDBOX_ORIGIN, SANDBOX_PAGE_URL
//   - DIRECT_FALLBACK, DIRECT_TIMEOUT, DIRECT_RETRIES, DIRECT_RPS
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST
package config
