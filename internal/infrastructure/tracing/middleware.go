package tracing

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HTTPMiddleware starts a span per request. Incoming X-Trace-ID and X-Span-ID
// headers continue an upstream trace when the trace id is a valid UUID.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if incoming := c.GetHeader(HeaderTraceID); incoming != "" {
			if _, err := uuid.Parse(incoming); err == nil {
				ctx = WithTraceID(ctx, TraceID(incoming))
				if parent := c.GetHeader(HeaderSpanID); parent != "" {
					ctx = context.WithValue(ctx, spanIDKey, SpanID(parent))
				}
			}
		}

		name := c.FullPath()
		if name == "" {
			name = c.Request.URL.Path
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		tracer.Finish(span)
	}
}
