package auditcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithActor(ctx, " admin ", "42")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithIPAddress(ctx, "10.0.0.1")
	ctx = WithUserAgent(ctx, "curl/8")
	ctx = WithJob(ctx, "qualification_sweep")

	actorType, actorID := ActorFromContext(ctx)
	assert.Equal(t, "admin", actorType)
	assert.Equal(t, "42", actorID)
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "10.0.0.1", IPAddressFromContext(ctx))
	assert.Equal(t, "curl/8", UserAgentFromContext(ctx))
	assert.Equal(t, "qualification_sweep", JobFromContext(ctx))
}

func TestEmptyContext(t *testing.T) {
	actorType, actorID := ActorFromContext(context.Background())
	assert.Empty(t, actorType)
	assert.Empty(t, actorID)
	assert.Empty(t, RequestIDFromContext(nil))
}
