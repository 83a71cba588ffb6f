package executor

import (
	"fmt"
	"time"
)

// Kind classifies how a run ended.
type Kind int

const (
	KindSuccess Kind = iota
	KindCompileError
	KindTimeout
	KindMemoryExceeded
	KindRuntimeError
	KindCancelled
	KindInternalError
)

var kindNames = map[Kind]string{
	KindSuccess:        "success",
	KindCompileError:   "compile_error",
	KindTimeout:        "timeout",
	KindMemoryExceeded: "memory_exceeded",
	KindRuntimeError:   "runtime_error",
	KindCancelled:      "cancelled",
	KindInternalError:  "internal_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// NoOutput is reported when a successful run produced an empty payload.
const NoOutput = "No output"

// Outcome is the terminal result of one run.
type Outcome struct {
	Kind Kind
	// Payload is the captured output on success, the diagnostics on a
	// compile error and the failure message otherwise.
	Payload   string
	CeilingMB uint64
	Timeout   time.Duration

	SessionID string
	Duration  time.Duration
	// Err is set for validation failures so callers can match sentinels.
	Err error
}

// Report renders the outcome as the single string shown to the user.
func (o Outcome) Report() string {
	switch o.Kind {
	case KindSuccess:
		if o.Payload == "" {
			return NoOutput
		}
		return o.Payload
	case KindCompileError:
		return "Compilation error:\n" + o.Payload
	case KindTimeout:
		return fmt.Sprintf("Execution timed out after %d ms", o.Timeout.Milliseconds())
	case KindMemoryExceeded:
		return fmt.Sprintf("Execution exceeded memory limit (~%d MB)", o.CeilingMB)
	case KindRuntimeError:
		return "Run error: " + o.Payload
	case KindCancelled:
		return "Execution cancelled"
	default:
		return "Execution error: " + o.Payload
	}
}
