package executor

import "fmt"

// State is the Governor's position in its per-run cycle.
type State int32

const (
	StateIdle State = iota
	StatePreparing
	StateCompiling
	StateRunning
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateCompiling:
		return "compiling"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StatePreparing
	case StatePreparing:
		return to == StateCompiling || to == StateFinalizing
	case StateCompiling:
		return to == StateRunning || to == StateFinalizing
	case StateRunning:
		return to == StateFinalizing
	case StateFinalizing:
		return to == StateIdle
	default:
		return false
	}
}

// transition moves the governor from one state to another. The caller
// supplies the expected prior state so a stale worker cannot advance a
// cycle that already moved on.
func (g *Governor) transition(from, to State) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != from {
		return fmt.Errorf("invalid transition: expected %s, got %s", from, g.state)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", from, to)
	}
	g.state = to
	return nil
}

// finalize moves whatever active state the governor is in to Finalizing.
func (g *Governor) finalize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if isAllowedTransition(g.state, StateFinalizing) {
		g.state = StateFinalizing
	}
}

// State returns the current state.
func (g *Governor) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
