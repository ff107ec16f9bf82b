package tracing

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/stockline/internal/observability/context"
	obslogger "github.com/smallbiznis/stockline/internal/observability/logger"
	"github.com/smallbiznis/stockline/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "stockline/http"

// GinMiddleware opens a server span per request, named after the matched
// route. Request and correlation IDs travel on as baggage so downstream
// diagnostics calls can be joined to the inbound request. A nil provider
// uses the global one.
func GinMiddleware(tp trace.TracerProvider) gin.HandlerFunc {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(instrumentationName)

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx = withRequestBaggage(ctx,
			"request_id", obscontext.RequestIDFromContext(ctx),
			"correlation_id", correlation.FromContext(ctx),
		)

		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		attrs := []attribute.KeyValue{attribute.Int("http.status_code", status)}
		if id := correlation.FromContext(ctx); id != "" {
			attrs = append(attrs, attribute.String("stockline.correlation_id", id))
		}
		if source := c.GetString(obslogger.KeyQueueSource); source != "" {
			attrs = append(attrs, attribute.String("stockline.queue_source", source))
		}
		if role := c.GetString(obslogger.KeyActorRole); role != "" {
			attrs = append(attrs, attribute.String("stockline.actor_role", role))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status < http.StatusInternalServerError {
			return
		}
		if last := c.Errors.Last(); last != nil {
			span.RecordError(SafeError(last.Err))
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

// withRequestBaggage adds the non-empty key/value pairs to the baggage
// already on ctx.
func withRequestBaggage(ctx context.Context, kv ...string) context.Context {
	bag := baggage.FromContext(ctx)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			continue
		}
		member, err := baggage.NewMember(kv[i], kv[i+1])
		if err != nil {
			continue
		}
		if next, err := bag.SetMember(member); err == nil {
			bag = next
		}
	}
	return baggage.ContextWithBaggage(ctx, bag)
}
