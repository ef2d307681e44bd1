package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type actorKey struct{}
type memberIDKey struct{}

type actor struct {
	actorType string
	actorID   string
}

// WithRequestID stores the inbound request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithActor stores the acting principal for log enrichment.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		actorType: strings.TrimSpace(actorType),
		actorID:   strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if v, ok := ctx.Value(actorKey{}).(actor); ok {
		return v.actorType, v.actorID
	}
	return "", ""
}

// WithMemberID tags the context with the member being processed.
func WithMemberID(ctx context.Context, memberID string) context.Context {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return ctx
	}
	return context.WithValue(ctx, memberIDKey{}, memberID)
}

func MemberIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(memberIDKey{}).(string); ok {
		return v
	}
	return ""
}
