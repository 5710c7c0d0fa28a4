package middleware

import (
	"net/http"

	"rillcall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const traceIDHeader = "X-Trace-ID"

// TracingMiddleware opens a server span per request, tagged with the room and
// peer the route addresses. The trace id is echoed back so clients can quote
// it in bug reports.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, c.FullPath())
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Header(traceIDHeader, sc.TraceID().String())
		}
		if room := c.Param("room"); room != "" {
			span.SetAttributes(tracing.RoomIDKey.String(room))
		}
		if peer := c.Param("peer"); peer != "" {
			span.SetAttributes(tracing.PeerIDKey.String(peer))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if claims, ok := Claims(c); ok {
			span.SetAttributes(attribute.String("call.caller", string(claims.PeerID)))
		}
		switch {
		case len(c.Errors) > 0:
			span.SetStatus(codes.Error, c.Errors.Last().Error())
		case status >= http.StatusInternalServerError:
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
