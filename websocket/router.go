package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Fields is a message payload decoded one level deep: field name to raw
// JSON value. Handlers unmarshal the fields they need.
type Fields map[string]json.RawMessage

// String extracts a string-typed field.
func (f Fields) String(key string) (string, bool) {
	raw, ok := f[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// HandlerFunc processes one validated inbound message.
type HandlerFunc func(ctx context.Context, c *Client, fields Fields)

type route struct {
	requires  []string
	needsAuth bool
	handle    HandlerFunc
}

// Router dispatches inbound messages through a static table built once
// at startup: type → (required fields, auth flag, handler).
type Router struct {
	routes map[string]route
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]route)}
}

// Handle registers a route. Registration runs at startup only; invalid
// registrations are programmer errors and panic, like http.ServeMux.
func (r *Router) Handle(msgType string, requires []string, needsAuth bool, h HandlerFunc) {
	if msgType == "" || h == nil {
		panic(fmt.Sprintf("router: invalid registration for %q", msgType))
	}
	if _, dup := r.routes[msgType]; dup {
		panic(fmt.Sprintf("router: duplicate route %q", msgType))
	}
	r.routes[msgType] = route{requires: requires, needsAuth: needsAuth, handle: h}
}

// resolve validates the raw frame against the table. A non-nil
// ErrorPayload means the message must be rejected; the connection
// stays alive.
func (r *Router) resolve(raw []byte, authenticated bool) (route, Fields, *ErrorPayload) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		return route{}, nil, &ErrorPayload{
			Code:   CodeMalformedMessage,
			Reason: "message must be a JSON object with a string 'type'",
		}
	}

	rt, ok := r.routes[env.Type]
	if !ok {
		return route{}, nil, &ErrorPayload{
			Code:   CodeUnknownType,
			Reason: fmt.Sprintf("unknown message type %q", env.Type),
		}
	}

	if rt.needsAuth && !authenticated {
		return route{}, nil, &ErrorPayload{
			Code:   CodeUnauthenticated,
			Reason: fmt.Sprintf("%q requires authentication", env.Type),
		}
	}

	fields := Fields{}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &fields); err != nil {
			return route{}, nil, &ErrorPayload{
				Code:   CodeMalformedMessage,
				Reason: "payload must be a JSON object",
			}
		}
	}

	for _, req := range rt.requires {
		raw, ok := fields[req]
		if !ok || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return route{}, nil, &ErrorPayload{
				Code:   CodeMissingField,
				Reason: fmt.Sprintf("%q requires field %q", env.Type, req),
			}
		}
	}

	return rt, fields, nil
}

// Dispatch validates and routes one inbound frame from the client.
func (r *Router) Dispatch(ctx context.Context, c *Client, raw []byte) {
	rt, fields, errPayload := r.resolve(raw, c.PlayerID() != "")
	if errPayload != nil {
		c.SendError(errPayload.Code, errPayload.Reason)
		return
	}
	rt.handle(ctx, c, fields)
}
