// Package middleware provides the gin middleware stack for the relay API.
//
//   - CORS: wildcard by default, credentialed when origins are configured
//   - RateLimit: per-IP token buckets; idle clients are swept after IdleTTL
//   - GlobalRateLimit: one bucket shared by every caller, in front of the single sandbox
//   - RequestLogger: one zap line per request carrying the trace id
//   - Recovery: panics become a JSON 500
//
// Example Usage:
//
//	router.Use(middleware.Recovery(logger))
//	router.Use(middleware.CORS(middleware.CORSForOrigins(cfg.Server.AllowedOrigins)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
