package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/penwork/internal/actorcontext"
	obscontext "github.com/smallbiznis/penwork/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// untraced routes either never finish (event streams) or are polled.
var untraced = map[string]struct{}{
	"/health":        {},
	"/metrics":       {},
	"/events/stream": {},
	"/events/ws":     {},
}

// GinMiddleware opens one server span per request. The span is renamed to the
// matched route once routing is done and tagged with the authenticated actor.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("penwork/http")
	return func(c *gin.Context) {
		if _, skip := untraced[c.Request.URL.Path]; skip {
			c.Next()
			return
		}

		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+c.Request.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withRequestBaggage(ctx, requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		span.SetName(c.Request.Method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
		}
		if id := strings.TrimSpace(c.Param("id")); id != "" && strings.HasPrefix(route, "/api/assignments/") {
			attrs = append(attrs, attribute.String("penwork.assignment_id", id))
		}
		if actor, ok := actorcontext.ActorFromContext(c.Request.Context()); ok {
			attrs = append(attrs,
				attribute.String("enduser.id", actor.ID.String()),
				attribute.String("enduser.role", string(actor.Role)),
			)
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		status := c.Writer.Status()
		if status < http.StatusInternalServerError {
			return
		}
		if last := c.Errors.Last(); last != nil {
			if safeErr := SafeError(last.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func withRequestBaggage(ctx context.Context, requestID string) context.Context {
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}
