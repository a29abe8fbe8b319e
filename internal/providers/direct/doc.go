// Package direct is the fallback path for relayed payloads when no sandbox
// surface is bound.
//
// Payloads are described by the same relay.Compiler the sandbox scripts are
// rendered from, so URL resolution, header merging, multipart naming and MIME
// resolution match the sandbox path. Responses go through relay.Normalize.
//
// The client stacks, outermost first:
//   - a token bucket limiter (golang.org/x/time/rate)
//   - a circuit breaker that trips on transport errors and 5xx responses
//   - resty with retries limited to idempotent methods, over the
//     retryablehttp pooled transport
//
// A 2xx HTML page that contains a sign-in form is reported as a 401 with
// code AUTH_REQUIRED. Other HTML bodies are reduced to a plain-text excerpt.
package direct
