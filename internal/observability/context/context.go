package context

import (
	"context"

	"github.com/smallbiznis/penwork/internal/actorcontext"
)

type requestIDKey struct{}

// WithRequestID stores the request id for log correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// ActorFromContext returns the actor role and id as log-friendly strings.
func ActorFromContext(ctx context.Context) (string, string) {
	actor, ok := actorcontext.ActorFromContext(ctx)
	if !ok {
		return "", ""
	}
	if actor.ID == 0 {
		return string(actor.Role), ""
	}
	return string(actor.Role), actor.ID.String()
}

type clientIPKey struct{}
type userAgentKey struct{}

// WithClient records the caller's address and user agent for audit entries.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, ip)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(clientIPKey{}).(string)
	return value
}

func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userAgentKey{}).(string)
	return value
}
