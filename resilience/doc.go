// Package resilience guards capture work against transient failures.
//
//   - Retry re-runs an operation with exponential backoff. The camera
//     session uses it to bring an aborted pipeline back up and the store
//     handler uses it for uploads.
//   - CircuitBreaker stops issuing captures after repeated failures.
//   - Bulkhead caps concurrent captures on the HTTP surface.
//   - RateLimiter is a token bucket keyed per client by the server.
//
// Rejections are *errors.AppError values (SERVICE_UNAVAILABLE or
// RATE_LIMITED), so they render directly as HTTP responses.
package resilience
