// Package game defines the narrow interface the coordinator consumes
// from the per-game rule engines. The coordinator never inspects
// game-specific state; it persists the opaque blob an engine returns
// and relays actions into it.
package game

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Result is an engine's answer to one action.
type Result struct {
	Success bool
	Error   string
}

// Engine is the consumed rule-engine interface. Implementations are
// owned by the individual game services; the coordinator treats them
// as black boxes.
type Engine interface {
	HandleAction(playerID string, action json.RawMessage) Result
	State() json.RawMessage
	IsOver() bool
	Winner() string
	Scores() map[string]int
}

// StateLoader is optionally implemented by engines that can be rebuilt
// from a persisted state blob. Without it, a session's actions can only
// be handled by the instance that created the engine.
type StateLoader interface {
	LoadState(state json.RawMessage) error
}

// Descriptor describes one registered game.
type Descriptor struct {
	// MatchSize is how many queued players make a session.
	MatchSize int
	// Template optionally names the variant the engine initializes from.
	Template string
	// New builds a fresh engine for the given participants.
	New func(players []string) Engine
}

// Registry maps game ids to their descriptors. Populated at startup.
type Registry struct {
	mu    sync.RWMutex
	games map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{games: make(map[string]Descriptor)}
}

func (r *Registry) Register(gameID string, d Descriptor) error {
	if d.MatchSize < 2 {
		return fmt.Errorf("game %s: match size must be at least 2", gameID)
	}
	if d.New == nil {
		return fmt.Errorf("game %s: missing engine constructor", gameID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.games[gameID]; exists {
		return fmt.Errorf("game %s: already registered", gameID)
	}
	r.games[gameID] = d
	return nil
}

func (r *Registry) Lookup(gameID string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.games[gameID]
	return d, ok
}

// EngineCache holds the live engine instances this gateway owns, keyed
// by session id. Engines for sessions created elsewhere are rebuilt on
// demand when they support StateLoader.
type EngineCache struct {
	mu      sync.Mutex
	engines map[string]Engine
}

func NewEngineCache() *EngineCache {
	return &EngineCache{engines: make(map[string]Engine)}
}

func (c *EngineCache) Get(sessionID string) (Engine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.engines[sessionID]
	return e, ok
}

func (c *EngineCache) Put(sessionID string, e Engine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engines[sessionID] = e
}

func (c *EngineCache) Delete(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.engines, sessionID)
}
