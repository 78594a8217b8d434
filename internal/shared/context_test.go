package shared

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAgentIdentity(t *testing.T) {
	agent := uuid.New()
	tests := []struct {
		name   string
		header string
		want   uuid.UUID
		wantOK bool
	}{
		{name: "valid", header: agent.String(), want: agent, wantOK: true},
		{name: "padded", header: "  " + agent.String() + " ", want: agent, wantOK: true},
		{name: "missing"},
		{name: "malformed", header: "agent-7"},
		{name: "nil uuid", header: uuid.Nil.String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got uuid.UUID
			var ok bool
			h := AgentIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, ok = AgentFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(AgentIDHeader, tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
