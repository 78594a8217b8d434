package shared

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// AgentIDHeader carries the authenticated agent id set by the upstream gateway.
const AgentIDHeader = "X-Agent-ID"

type agentContextKey struct{}

// ContextWithAgent stores the acting agent in context.
func ContextWithAgent(ctx context.Context, agentID uuid.UUID) context.Context {
	return context.WithValue(ctx, agentContextKey{}, agentID)
}

// AgentFromContext extracts the acting agent from context.
func AgentFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(agentContextKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// AgentIdentity reads AgentIDHeader into the request context. Requests with
// a missing or malformed header pass through without an agent.
func AgentIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(AgentIDHeader))
		if raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				r = r.WithContext(ContextWithAgent(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}
