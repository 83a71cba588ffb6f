package executor

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/caffeineduck/gosnip/compiler"
	"github.com/caffeineduck/gosnip/loader"
)

// CompilerFunc adapts a function to Compiler. Useful for tests and for
// callers that compile some other way.
type CompilerFunc func(ctx context.Context, req compiler.Request, diagnostics io.Writer) compiler.Result

func (f CompilerFunc) Compile(ctx context.Context, req compiler.Request, diagnostics io.Writer) compiler.Result {
	return f(ctx, req, diagnostics)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, dir string, out loader.Sink) (string, error)

func (f RunnerFunc) Run(ctx context.Context, dir string, out loader.Sink) (string, error) {
	return f(ctx, dir, out)
}

// StaticProbe is a MemoryProbe with settable figures.
type StaticProbe struct {
	used atomic.Uint64
	max  uint64
}

// NewStaticProbe returns a probe reporting max as the heap ceiling.
func NewStaticProbe(max uint64) *StaticProbe {
	return &StaticProbe{max: max}
}

// Set changes the reported usage.
func (p *StaticProbe) Set(used uint64) {
	p.used.Store(used)
}

func (p *StaticProbe) Used() uint64 { return p.used.Load() }

func (p *StaticProbe) Max() uint64 { return p.max }
