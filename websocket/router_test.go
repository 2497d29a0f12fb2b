package websocket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter() *Router {
	r := NewRouter()
	noop := func(ctx context.Context, c *Client, fields Fields) {}
	r.Handle(TypeAuthenticate, []string{"token"}, false, noop)
	r.Handle(TypeJoinQueue, []string{"gameId"}, true, noop)
	r.Handle(TypeLeaveQueue, nil, true, noop)
	return r
}

func TestRouter_ResolveRejections(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name          string
		raw           string
		authenticated bool
		wantCode      string
	}{
		{
			name:     "not json",
			raw:      `hello there`,
			wantCode: CodeMalformedMessage,
		},
		{
			name:     "missing type",
			raw:      `{"payload":{}}`,
			wantCode: CodeMalformedMessage,
		},
		{
			name:     "unknown type",
			raw:      `{"type":"teleport"}`,
			wantCode: CodeUnknownType,
		},
		{
			name:     "auth required",
			raw:      `{"type":"join_queue","payload":{"gameId":"chess"}}`,
			wantCode: CodeUnauthenticated,
		},
		{
			name:          "payload not an object",
			raw:           `{"type":"join_queue","payload":[1,2]}`,
			authenticated: true,
			wantCode:      CodeMalformedMessage,
		},
		{
			name:          "missing required field",
			raw:           `{"type":"join_queue","payload":{}}`,
			authenticated: true,
			wantCode:      CodeMissingField,
		},
		{
			name:          "null required field",
			raw:           `{"type":"join_queue","payload":{"gameId":null}}`,
			authenticated: true,
			wantCode:      CodeMissingField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, errPayload := r.resolve([]byte(tt.raw), tt.authenticated)
			require.NotNil(t, errPayload)
			assert.Equal(t, tt.wantCode, errPayload.Code)
		})
	}
}

func TestRouter_ResolveAccepts(t *testing.T) {
	r := newTestRouter()

	// Authenticate is reachable before authentication.
	rt, fields, errPayload := r.resolve([]byte(`{"type":"authenticate","payload":{"token":"abc"}}`), false)
	require.Nil(t, errPayload)
	require.NotNil(t, rt.handle)

	token, ok := fields.String("token")
	require.True(t, ok)
	assert.Equal(t, "abc", token)

	// Routes with no required fields accept an absent payload.
	_, _, errPayload = r.resolve([]byte(`{"type":"leave_queue"}`), true)
	assert.Nil(t, errPayload)
}

func TestRouter_HandlePanicsOnDuplicate(t *testing.T) {
	r := newTestRouter()
	noop := func(ctx context.Context, c *Client, fields Fields) {}

	assert.Panics(t, func() { r.Handle(TypeJoinQueue, nil, true, noop) })
	assert.Panics(t, func() { r.Handle("", nil, true, noop) })
	assert.Panics(t, func() { r.Handle("valid", nil, true, nil) })
}

func TestFields_String(t *testing.T) {
	fields := Fields{
		"name": []byte(`"alice"`),
		"age":  []byte(`7`),
	}

	name, ok := fields.String("name")
	require.True(t, ok)
	assert.Equal(t, "alice", name)

	_, ok = fields.String("age")
	assert.False(t, ok)

	_, ok = fields.String("missing")
	assert.False(t, ok)
}
