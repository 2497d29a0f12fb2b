package game

import (
	"encoding/json"
	"sync"
)

// EchoEngine is a stand-in engine that accepts every action and appends
// it to its state log. It gives configured games a working end-to-end
// path before their real engine service is wired in, and doubles as the
// engine used by the coordinator's own tests.
type EchoEngine struct {
	mu sync.Mutex
	st echoState
}

type echoState struct {
	Players []string          `json:"players"`
	Log     []json.RawMessage `json:"log,omitempty"`
}

func NewEchoEngine(players []string) Engine {
	return &EchoEngine{st: echoState{Players: players}}
}

func (e *EchoEngine) HandleAction(playerID string, action json.RawMessage) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	found := false
	for _, p := range e.st.Players {
		if p == playerID {
			found = true
			break
		}
	}
	if !found {
		return Result{Success: false, Error: "not a participant"}
	}
	e.st.Log = append(e.st.Log, action)
	return Result{Success: true}
}

func (e *EchoEngine) State() json.RawMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, _ := json.Marshal(e.st)
	return data
}

func (e *EchoEngine) IsOver() bool { return false }

func (e *EchoEngine) Winner() string { return "" }

func (e *EchoEngine) Scores() map[string]int { return nil }

// LoadState implements StateLoader so echo sessions survive instance
// handoff.
func (e *EchoEngine) LoadState(state json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return json.Unmarshal(state, &e.st)
}
