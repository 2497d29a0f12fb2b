package websocket

import "encoding/json"

// Envelope is the bidirectional message frame: a type tag and an
// optional JSON payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound message types.
const (
	TypeAuthenticate = "authenticate"
	TypeJoinQueue    = "join_queue"
	TypeLeaveQueue   = "leave_queue"
	TypeGameAction   = "game_action"
	TypeEndGame      = "end_game"
	TypeSpectate     = "spectate"
	TypeReconnect    = "reconnect"
	TypeChat         = "chat"
)

// Outbound message types.
const (
	TypeConnected          = "connected"
	TypeAuthenticated      = "authenticated"
	TypeQueueJoined        = "queue_joined"
	TypeQueueLeft          = "queue_left"
	TypeMatchFound         = "match_found"
	TypeSessionUpdate      = "session_update"
	TypeGameEnded          = "game_ended"
	TypeSpectateStarted    = "spectate_started"
	TypeReconnected        = "reconnected"
	TypeChatMessage        = "chat_message"
	TypePlayerDisconnected = "player_disconnected"
	TypePlayerRejoined     = "player_rejoined"
	TypeWarning            = "warning"
	TypeError              = "error"
)

// Client-facing error codes.
const (
	CodeMalformedMessage = "malformed_message"
	CodeUnknownType      = "unknown_message_type"
	CodeMissingField     = "missing_field"
	CodeUnauthenticated  = "unauthenticated"
	CodeNotAuthorized    = "not_authorized"
	CodeTokenInvalid     = "token_invalid"
	CodeTokenRevoked     = "token_revoked"
	CodeRateLimited      = "rate_limited"
	CodeAuthBruteForce   = "auth_brute_force"
	CodeSessionNotFound  = "session_not_found"
	CodeSessionEnded     = "session_ended"
	CodeAlreadyQueued    = "already_queued"
	CodeUnknownGame      = "unknown_game"
	CodeActionRejected   = "action_rejected"
	CodeMessageTooLong   = "message_too_long"
	CodeNotInSession     = "not_in_session"
	CodeInternal         = "internal_error"
)

// ErrorPayload is the body of every typed error message.
type ErrorPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
