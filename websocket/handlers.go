package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Halldon-Inc/moltblox-realtime/game"
	"github.com/Halldon-Inc/moltblox-realtime/limiter"
	"github.com/Halldon-Inc/moltblox-realtime/metrics"
	"github.com/Halldon-Inc/moltblox-realtime/queue"
	"github.com/Halldon-Inc/moltblox-realtime/session"
)

const maxChatLength = 500

type matchFoundPayload struct {
	SessionID string   `json:"session_id"`
	GameID    string   `json:"game_id"`
	Players   []string `json:"players"`
}

type sessionStatePayload struct {
	SessionID string          `json:"session_id"`
	GameID    string          `json:"game_id"`
	Players   []string        `json:"players"`
	State     json.RawMessage `json:"state,omitempty"`
	Turn      int             `json:"turn"`
}

type gameEndedPayload struct {
	SessionID string         `json:"session_id"`
	WinnerID  string         `json:"winner_id,omitempty"`
	Scores    map[string]int `json:"scores,omitempty"`
}

func (g *Gateway) handleAuthenticate(ctx context.Context, c *Client, f Fields) {
	token, _ := f.String("token")

	if err := g.guard.Check(c.IP); err != nil {
		metrics.AuthFailures.WithLabelValues("brute_force").Inc()
		var backoffErr *limiter.BackoffError
		if errors.As(err, &backoffErr) {
			c.SendError(CodeAuthBruteForce, "too many failed attempts, retry later")
			return
		}
		// Failure ceiling reached: hard reject.
		c.SendError(CodeAuthBruteForce, "too many failed attempts")
		c.Close(websocket.ClosePolicyViolation, "authentication abuse")
		return
	}

	claims, err := g.validator.ValidateToken(ctx, token)
	if err != nil {
		g.guard.Fail(c.IP)
		if errors.Is(err, ErrTokenRevoked) {
			metrics.AuthFailures.WithLabelValues("revoked").Inc()
			c.SendError(CodeTokenRevoked, "token has been revoked")
		} else {
			metrics.AuthFailures.WithLabelValues("invalid").Inc()
			c.SendError(CodeTokenInvalid, "token is invalid or expired")
		}
		return
	}

	g.guard.Success(c.IP)
	metrics.AuthSuccess.Inc()
	c.SetPlayerID(claims.PlayerID())

	// Surface a live session so the client can offer to reconnect.
	activeSession, err := g.sessions.GetPlayerSession(ctx, claims.PlayerID())
	if err != nil {
		g.logger.Warn("player session lookup failed",
			zap.String("player_id", claims.PlayerID()), zap.Error(err))
	}

	c.Send(TypeAuthenticated, map[string]string{
		"player_id":      claims.PlayerID(),
		"active_session": activeSession,
	})
}

func (g *Gateway) handleJoinQueue(ctx context.Context, c *Client, f Fields) {
	gameID, _ := f.String("gameId")

	desc, ok := g.games.Lookup(gameID)
	if !ok {
		c.SendError(CodeUnknownGame, "unknown game id")
		return
	}

	playerID := c.PlayerID()
	if existing, err := g.queue.FindGame(ctx, playerID); err != nil {
		g.logger.Error("queue index lookup failed", zap.String("player_id", playerID), zap.Error(err))
		c.SendError(CodeInternal, "matchmaking is temporarily unavailable")
		return
	} else if existing != "" {
		c.SendError(CodeAlreadyQueued, "already waiting in a queue")
		return
	}

	err := g.queue.Enqueue(ctx, gameID, queue.Entry{
		ClientID: c.ID,
		PlayerID: playerID,
		JoinedAt: time.Now(),
	})
	if errors.Is(err, queue.ErrAlreadyQueued) {
		c.SendError(CodeAlreadyQueued, "already waiting in a queue")
		return
	}
	if err != nil {
		g.logger.Error("enqueue failed", zap.String("game_id", gameID), zap.Error(err))
		c.SendError(CodeInternal, "matchmaking is temporarily unavailable")
		return
	}

	metrics.PlayersQueued.WithLabelValues(gameID).Inc()
	c.Send(TypeQueueJoined, map[string]string{"game_id": gameID})

	g.tryMatch(ctx, gameID, desc)
}

// tryMatch drains one full match worth of players if the queue holds
// enough. The drain is atomic across instances; a short read means
// another instance got there first, which is fine — the waiting players
// are matched by whichever instance completes the batch.
func (g *Gateway) tryMatch(ctx context.Context, gameID string, desc game.Descriptor) {
	entries, err := g.queue.DequeueFront(ctx, gameID, desc.MatchSize)
	if err != nil {
		g.logger.Error("queue drain failed", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}

	players := make([]string, len(entries))
	for i, e := range entries {
		players[i] = e.PlayerID
	}

	engine := desc.New(players)
	rec := &session.Record{
		ID:       uuid.New().String(),
		GameID:   gameID,
		Template: desc.Template,
		Players:  players,
		State:    engine.State(),
	}

	if err := g.sessions.Create(ctx, rec); err != nil {
		// The drained players are out of the queue but have no session;
		// they must re-queue. Loud because it should never happen.
		g.logger.Error("session create failed after queue drain",
			zap.String("game_id", gameID),
			zap.Strings("players", players),
			zap.Error(err))
		return
	}
	for _, playerID := range players {
		if err := g.sessions.SetPlayerSession(ctx, playerID, rec.ID); err != nil {
			g.logger.Warn("player index write failed",
				zap.String("player_id", playerID), zap.Error(err))
		}
	}
	g.engines.Put(rec.ID, engine)
	metrics.MatchesCreated.WithLabelValues(gameID).Inc()

	payload := matchFoundPayload{SessionID: rec.ID, GameID: gameID, Players: players}
	for _, e := range entries {
		if cl, ok := g.manager.Get(e.ClientID); ok {
			cl.SetSessionID(rec.ID)
			cl.Send(TypeMatchFound, payload)
		}
	}

	// Players connected to other instances are attached by their own
	// gateway's notification listener.
	g.sessions.PublishMatchFound(ctx, rec.ID, gameID, players)

	g.logger.Info("match created",
		zap.String("session_id", rec.ID),
		zap.String("game_id", gameID),
		zap.Strings("players", players))
}

func (g *Gateway) handleLeaveQueue(ctx context.Context, c *Client, _ Fields) {
	if err := g.queue.RemoveClient(ctx, c.ID); err != nil {
		g.logger.Warn("leave queue failed", zap.String("client_id", c.ID), zap.Error(err))
		c.SendError(CodeInternal, "matchmaking is temporarily unavailable")
		return
	}
	c.Send(TypeQueueLeft, nil)
}

func (g *Gateway) handleGameAction(ctx context.Context, c *Client, f Fields) {
	sessionID := c.SessionID()
	if sessionID == "" {
		c.SendError(CodeNotInSession, "no active session")
		return
	}

	action := f["action"]
	var meta struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(action, &meta); err != nil || meta.Type == "" {
		c.SendError(CodeMissingField, "action requires a string 'type'")
		return
	}

	rec, errPayload := g.loadActiveSession(ctx, c, sessionID)
	if errPayload != nil {
		c.SendError(errPayload.Code, errPayload.Reason)
		return
	}

	engine, errPayload := g.engineFor(rec)
	if errPayload != nil {
		c.SendError(errPayload.Code, errPayload.Reason)
		return
	}

	res := engine.HandleAction(c.PlayerID(), action)
	if !res.Success {
		c.SendError(CodeActionRejected, res.Error)
		return
	}

	rec.Turn++
	rec.State = engine.State()
	rec.AppendAction(c.PlayerID(), action, time.Now())

	ended := engine.IsOver()
	var endedPayload gameEndedPayload
	if ended {
		rec.Ended = true
		endedPayload = gameEndedPayload{
			SessionID: rec.ID,
			WinnerID:  engine.Winner(),
			Scores:    engine.Scores(),
		}
		rec.AppendEvent("game_over", toJSON(endedPayload), time.Now())
	}

	if err := g.sessions.Save(ctx, rec); err != nil {
		g.logger.Error("session save failed", zap.String("session_id", rec.ID), zap.Error(err))
		c.SendError(CodeInternal, "failed to persist action")
		return
	}

	update := sessionStatePayload{
		SessionID: rec.ID,
		GameID:    rec.GameID,
		Players:   rec.Players,
		State:     rec.State,
		Turn:      rec.Turn,
	}
	g.broadcastSessionMessage(ctx, rec.ID, TypeSessionUpdate, update)

	if ended {
		g.finalizeSession(ctx, rec, endedPayload)
	}
}

func (g *Gateway) handleEndGame(ctx context.Context, c *Client, f Fields) {
	sessionID, _ := f.String("sessionId")

	rec, errPayload := g.loadActiveSession(ctx, c, sessionID)
	if errPayload != nil {
		c.SendError(errPayload.Code, errPayload.Reason)
		return
	}
	if !rec.HasPlayer(c.PlayerID()) {
		c.SendError(CodeNotAuthorized, "not a session participant")
		return
	}

	winnerID, hasWinner := f.String("winnerId")
	if hasWinner && !rec.HasPlayer(winnerID) {
		c.SendError(CodeNotAuthorized, "winnerId is not a session participant")
		return
	}

	var scores map[string]int
	if raw, ok := f["scores"]; ok {
		if err := json.Unmarshal(raw, &scores); err != nil {
			c.SendError(CodeMalformedMessage, "scores must map player ids to numbers")
			return
		}
		for playerID := range scores {
			if !rec.HasPlayer(playerID) {
				c.SendError(CodeNotAuthorized, "scores reference a non-participant")
				return
			}
		}
	}

	rec.Ended = true
	endedPayload := gameEndedPayload{SessionID: rec.ID, WinnerID: winnerID, Scores: scores}
	rec.AppendEvent("ended", toJSON(endedPayload), time.Now())

	if err := g.sessions.Save(ctx, rec); err != nil {
		g.logger.Error("session save failed", zap.String("session_id", rec.ID), zap.Error(err))
		c.SendError(CodeInternal, "failed to finalize session")
		return
	}

	g.finalizeSession(ctx, rec, endedPayload)
}

// finalizeSession broadcasts the result and releases everything bound
// to a finished session. The record itself stays in the store, marked
// ended, until its TTL lapses.
func (g *Gateway) finalizeSession(ctx context.Context, rec *session.Record, payload gameEndedPayload) {
	g.broadcastSessionMessage(ctx, rec.ID, TypeGameEnded, payload)

	if err := g.sessions.DeletePlayerSession(ctx, rec.Players...); err != nil {
		g.logger.Warn("player index cleanup failed", zap.String("session_id", rec.ID), zap.Error(err))
	}
	g.releaseLocalSession(rec.ID)

	metrics.SessionsEnded.Inc()
	g.logger.Info("session ended", zap.String("session_id", rec.ID), zap.String("game_id", rec.GameID))
}

// releaseLocalSession drops this instance's engine and client bindings
// for an ended session. Runs on the instance that ended the game and,
// via the notification listener, on every other instance.
func (g *Gateway) releaseLocalSession(sessionID string) {
	g.engines.Delete(sessionID)
	for _, cl := range g.manager.ForSession(sessionID) {
		if cl.SessionID() == sessionID {
			cl.SetSessionID("")
		}
		if cl.Spectating() == sessionID {
			cl.SetSpectating("")
		}
	}
}

func (g *Gateway) handleSpectate(ctx context.Context, c *Client, f Fields) {
	sessionID, _ := f.String("sessionId")

	rec, errPayload := g.loadActiveSession(ctx, c, sessionID)
	if errPayload != nil {
		c.SendError(errPayload.Code, errPayload.Reason)
		return
	}

	c.SetSpectating(sessionID)
	c.Send(TypeSpectateStarted, sessionStatePayload{
		SessionID: rec.ID,
		GameID:    rec.GameID,
		Players:   rec.Players,
		State:     rec.State,
		Turn:      rec.Turn,
	})
}

func (g *Gateway) handleReconnect(ctx context.Context, c *Client, f Fields) {
	token, _ := f.String("token")
	sessionID, _ := f.String("sessionId")

	if err := g.guard.Check(c.IP); err != nil {
		metrics.AuthFailures.WithLabelValues("brute_force").Inc()
		metrics.Reconnections.WithLabelValues("rejected").Inc()
		var backoffErr *limiter.BackoffError
		if errors.As(err, &backoffErr) {
			c.SendError(CodeAuthBruteForce, "too many failed attempts, retry later")
			return
		}
		c.SendError(CodeAuthBruteForce, "too many failed attempts")
		c.Close(websocket.ClosePolicyViolation, "authentication abuse")
		return
	}

	claims, err := g.validator.ValidateToken(ctx, token)
	if err != nil {
		g.guard.Fail(c.IP)
		metrics.Reconnections.WithLabelValues("rejected").Inc()
		if errors.Is(err, ErrTokenRevoked) {
			c.SendError(CodeTokenRevoked, "token has been revoked")
		} else {
			c.SendError(CodeTokenInvalid, "token is invalid or expired")
		}
		return
	}
	g.guard.Success(c.IP)
	playerID := claims.PlayerID()

	rec, err := g.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		metrics.Reconnections.WithLabelValues("expired").Inc()
		c.SendError(CodeSessionNotFound, "session not found or expired")
		return
	}
	if err != nil {
		g.logger.Error("session read failed", zap.String("session_id", sessionID), zap.Error(err))
		c.SendError(CodeInternal, "session store is temporarily unavailable")
		return
	}
	if rec.Ended {
		metrics.Reconnections.WithLabelValues("ended").Inc()
		c.SendError(CodeSessionEnded, "session has already ended")
		return
	}
	if !rec.HasPlayer(playerID) {
		metrics.Reconnections.WithLabelValues("not_participant").Inc()
		c.SendError(CodeNotAuthorized, "not a session participant")
		return
	}

	// Duplicate login: a prior connection still bound to this player is
	// superseded by the reconnect, never left as a second live handle.
	if stale, ok := g.manager.FindByPlayer(playerID); ok && stale.ID != c.ID {
		g.logger.Info("closing superseded connection",
			zap.String("player_id", playerID),
			zap.String("stale_client_id", stale.ID))
		stale.Close(websocket.ClosePolicyViolation, "superseded by reconnect")
	}

	c.SetPlayerID(playerID)
	c.SetSessionID(sessionID)
	if err := g.sessions.SetPlayerSession(ctx, playerID, sessionID); err != nil {
		g.logger.Warn("player index refresh failed", zap.String("player_id", playerID), zap.Error(err))
	}

	metrics.Reconnections.WithLabelValues("ok").Inc()
	c.Send(TypeReconnected, sessionStatePayload{
		SessionID: rec.ID,
		GameID:    rec.GameID,
		Players:   rec.Players,
		State:     rec.State,
		Turn:      rec.Turn,
	})

	g.manager.BroadcastToSession(sessionID, c.ID, TypePlayerRejoined, map[string]string{
		"session_id": sessionID,
		"player_id":  playerID,
	})
}

func (g *Gateway) handleChat(ctx context.Context, c *Client, f Fields) {
	message, _ := f.String("message")
	if utf8.RuneCountInString(message) > maxChatLength {
		c.SendError(CodeMessageTooLong, "chat messages are limited to 500 characters")
		return
	}

	sessionID := c.SessionID()
	if sessionID == "" {
		c.SendError(CodeNotInSession, "no active session")
		return
	}

	payload := map[string]string{
		"session_id": sessionID,
		"player_id":  c.PlayerID(),
		"message":    html.EscapeString(message),
	}
	g.broadcastSessionMessage(ctx, sessionID, TypeChatMessage, payload)
}

// loadActiveSession fetches a session that must exist and not be ended.
func (g *Gateway) loadActiveSession(ctx context.Context, c *Client, sessionID string) (*session.Record, *ErrorPayload) {
	rec, err := g.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, &ErrorPayload{Code: CodeSessionNotFound, Reason: "session not found or expired"}
	}
	if err != nil {
		g.logger.Error("session read failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, &ErrorPayload{Code: CodeInternal, Reason: "session store is temporarily unavailable"}
	}
	if rec.Ended {
		return nil, &ErrorPayload{Code: CodeSessionEnded, Reason: "session has already ended"}
	}
	return rec, nil
}

// engineFor returns the live engine for the session, rebuilding it from
// the persisted state blob when this instance did not create it.
func (g *Gateway) engineFor(rec *session.Record) (game.Engine, *ErrorPayload) {
	if engine, ok := g.engines.Get(rec.ID); ok {
		return engine, nil
	}

	desc, ok := g.games.Lookup(rec.GameID)
	if !ok {
		return nil, &ErrorPayload{Code: CodeUnknownGame, Reason: "game is not registered on this instance"}
	}

	engine := desc.New(rec.Players)
	loader, ok := engine.(game.StateLoader)
	if !ok {
		return nil, &ErrorPayload{Code: CodeSessionNotFound, Reason: "session engine unavailable on this instance"}
	}
	if len(rec.State) > 0 {
		if err := loader.LoadState(rec.State); err != nil {
			g.logger.Error("engine state rebuild failed", zap.String("session_id", rec.ID), zap.Error(err))
			return nil, &ErrorPayload{Code: CodeInternal, Reason: "failed to restore session state"}
		}
	}
	g.engines.Put(rec.ID, engine)
	return engine, nil
}

// broadcastSessionMessage pushes to all local connections on the
// session and fans the same envelope out to the other instances.
func (g *Gateway) broadcastSessionMessage(ctx context.Context, sessionID, msgType string, payload interface{}) {
	g.manager.BroadcastToSession(sessionID, "", msgType, payload)

	body, err := marshalPayload(payload)
	if err != nil {
		g.logger.Warn("failed to encode session broadcast", zap.Error(err))
		return
	}
	envelope := toJSON(Envelope{Type: msgType, Payload: body})
	g.sessions.PublishSessionUpdate(ctx, sessionID, envelope)
}

func toJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
