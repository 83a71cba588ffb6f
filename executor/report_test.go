package executor

import (
	"testing"
	"time"
)

func TestOutcomeReport(t *testing.T) {
	tests := []struct {
		name string
		out  Outcome
		want string
	}{
		{"success", Outcome{Kind: KindSuccess, Payload: "42\n"}, "42\n"},
		{"success empty", Outcome{Kind: KindSuccess}, "No output"},
		{"success whitespace kept", Outcome{Kind: KindSuccess, Payload: " "}, " "},
		{"compile error", Outcome{Kind: KindCompileError, Payload: "main.go:1: bad\n"}, "Compilation error:\nmain.go:1: bad\n"},
		{"compile error empty", Outcome{Kind: KindCompileError}, "Compilation error:\n"},
		{"timeout", Outcome{Kind: KindTimeout, Timeout: 1500 * time.Millisecond}, "Execution timed out after 1500 ms"},
		{"memory", Outcome{Kind: KindMemoryExceeded, CeilingMB: 128}, "Execution exceeded memory limit (~128 MB)"},
		{"runtime", Outcome{Kind: KindRuntimeError, Payload: "exit code 2"}, "Run error: exit code 2"},
		{"cancelled", Outcome{Kind: KindCancelled}, "Execution cancelled"},
		{"internal", Outcome{Kind: KindInternalError, Payload: "disk full"}, "Execution error: disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.out.Report(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if KindMemoryExceeded.String() != "memory_exceeded" {
		t.Errorf("got %q", KindMemoryExceeded.String())
	}
	if Kind(99).String() != "kind(99)" {
		t.Errorf("got %q", Kind(99).String())
	}
}
