// Package middleware provides HTTP middleware for the navigator API.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing, websocket upgrades allowed
//   - RateLimit: Per-IP token bucket rate limiting with idle eviction
//   - RequestID: X-Request-ID propagation
//   - AccessLog: zap request logging
//
// Example Usage:
//
//	router.Use(middleware.RequestID(), middleware.AccessLog(logger))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
