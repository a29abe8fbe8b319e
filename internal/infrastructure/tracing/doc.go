/*
Package tracing gives every HTTP request and relayed payload a trace id.

# Overview

Spans are lightweight: a trace id, a span id, tags and a duration. Finished
spans are handed to a buffered collector goroutine that logs them with zap,
so the request path never blocks on logging.

# Usage

	tracer := tracing.New("relay", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(c.Request.Context(), "relay.submit")
	span.SetTag("transport", "multipart")
	defer tracer.Finish(span)

	tracing.Logger(ctx, logger).Info("relayed")

# Propagation

Incoming X-Trace-ID / X-Span-ID headers continue an upstream trace; both are
echoed on the response.
*/
package tracing
