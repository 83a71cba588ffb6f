package executor

import (
	"context"
	"sync"
	"time"

	"github.com/caffeineduck/gosnip/capture"
	"github.com/google/uuid"
)

// Phase is a session's progress through one run.
type Phase int32

const (
	PhaseCompiling Phase = iota
	PhaseRunning
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseCompiling:
		return "compiling"
	case PhaseRunning:
		return "running"
	default:
		return "done"
	}
}

// Session is a single run of one snippet. It is created by Governor.Run and
// never reused.
type Session struct {
	ID      string
	Started time.Time
	Source  string
	Wrapped string
	Dir     string
	Output  *capture.Buffer

	cancel context.CancelFunc

	mu    sync.Mutex
	phase Phase
}

func newSession(source, wrapped, dir string, out *capture.Buffer, cancel context.CancelFunc) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Started: time.Now(),
		Source:  source,
		Wrapped: wrapped,
		Dir:     dir,
		Output:  out,
		cancel:  cancel,
	}
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// advance moves the session forward. Done is terminal.
func (s *Session) advance(p Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseDone || p < s.phase {
		return false
	}
	s.phase = p
	return true
}

// Cancel stops the session's task. It is safe to call more than once.
func (s *Session) Cancel() {
	s.cancel()
}
