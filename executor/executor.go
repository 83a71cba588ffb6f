package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caffeineduck/gosnip/capture"
	"github.com/caffeineduck/gosnip/compiler"
	"github.com/caffeineduck/gosnip/internal/metrics"
	"github.com/caffeineduck/gosnip/loader"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// Compiler turns a wrapped source file into an artifact directory.
type Compiler interface {
	Compile(ctx context.Context, req compiler.Request, diagnostics io.Writer) compiler.Result
}

// Runner executes the artifact in dir, writing its output to out.
type Runner interface {
	Run(ctx context.Context, dir string, out loader.Sink) (string, error)
}

type task struct {
	ctx       context.Context
	session   *Session
	ceilingMB uint64
	done      chan Outcome
}

// Governor runs snippets one at a time on a single worker goroutine.
type Governor struct {
	compiler Compiler
	runner   Runner
	cfg      config
	log      zerolog.Logger
	tracer   trace.Tracer
	workDir  string
	ownsDir  bool

	slot  *semaphore.Weighted
	tasks chan *task
	quit  chan struct{}
	done  chan struct{}

	mu     sync.Mutex
	state  State
	active *Session
	closed bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Governor and starts its worker.
func New(c Compiler, r Runner, opts ...Option) (*Governor, error) {
	if c == nil || r == nil {
		return nil, errors.New("compiler and runner are required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.probe == nil {
		if p, ok := r.(MemoryProbe); ok {
			cfg.probe = p
		} else {
			cfg.probe = RuntimeProbe{Fallback: defaultFallback}
		}
	}

	workDir, owns := cfg.workDir, false
	if workDir == "" {
		dir, err := os.MkdirTemp("", "gosnip-")
		if err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
		workDir, owns = dir, true
	} else if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	g := &Governor{
		compiler: c,
		runner:   r,
		cfg:      cfg,
		log:      cfg.logger,
		tracer:   otel.Tracer("github.com/caffeineduck/gosnip/executor"),
		workDir:  workDir,
		ownsDir:  owns,
		slot:     semaphore.NewWeighted(1),
		tasks:    make(chan *task, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go g.worker()
	return g, nil
}

// Execute runs source and returns the rendered report. It never panics and
// never returns anything but a string.
func (g *Governor) Execute(source string, timeoutMs int64, memLimitPct int) string {
	return g.Run(context.Background(), source, timeoutMs, memLimitPct).Report()
}

// Run compiles and runs source, blocking until the outcome is known or
// timeoutMs elapses. memLimitPct is the share of the maximum heap, 1 to 90,
// the run may use.
func (g *Governor) Run(ctx context.Context, source string, timeoutMs int64, memLimitPct int) Outcome {
	start := time.Now()

	ctx, span := g.tracer.Start(ctx, "gosnip.execute", trace.WithAttributes(
		attribute.Int64("gosnip.timeout_ms", timeoutMs),
		attribute.Int("gosnip.memory_percent", memLimitPct),
	))
	defer span.End()

	out := g.run(ctx, source, timeoutMs, memLimitPct)
	out.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("gosnip.outcome", out.Kind.String()),
		attribute.String("gosnip.session", out.SessionID),
	)
	if out.Kind != KindSuccess {
		span.SetStatus(codes.Error, out.Kind.String())
	}

	metrics.ExecutionsTotal.WithLabelValues(out.Kind.String()).Inc()
	metrics.ExecutionDuration.WithLabelValues("total").Observe(float64(out.Duration.Milliseconds()))

	g.log.Info().
		Str("session", out.SessionID).
		Str("outcome", out.Kind.String()).
		Dur("duration", out.Duration).
		Msg("execution finished")

	return out
}

func (g *Governor) run(ctx context.Context, source string, timeoutMs int64, memLimitPct int) Outcome {
	if err := g.validate(timeoutMs, memLimitPct); err != nil {
		return rejected(err)
	}

	if err := g.slot.Acquire(ctx, 1); err != nil {
		return Outcome{Kind: KindCancelled}
	}
	defer g.slot.Release(1)

	if g.isClosed() {
		return rejected(&ValidationError{Err: ErrShutdown})
	}

	timeout := time.Duration(timeoutMs) * time.Millisecond
	ceiling := uint64(memLimitPct) * g.cfg.probe.Max() / 100
	ceilingMB := ceiling / (1 << 20)
	metrics.MemoryCeiling.Set(float64(ceiling))

	buf, release, err := capture.Acquire(ctx)
	if err != nil {
		return Outcome{Kind: KindCancelled}
	}
	defer release()

	dir, err := os.MkdirTemp(g.workDir, "session-")
	if err != nil {
		return Outcome{Kind: KindInternalError, Payload: fmt.Sprintf("create session dir: %v", err)}
	}
	defer g.removeDir(dir)

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := newSession(source, g.cfg.lang.WrapCode(source), dir, buf, cancel)
	g.setActive(session)
	defer g.setActive(nil)

	if err := g.transition(StateIdle, StatePreparing); err != nil {
		return Outcome{Kind: KindInternalError, Payload: err.Error(), SessionID: session.ID}
	}
	defer func() {
		g.finalize()
		if err := g.transition(StateFinalizing, StateIdle); err != nil {
			g.log.Error().Err(err).Str("session", session.ID).Msg("state")
		}
	}()

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	log := g.log.With().Str("session", session.ID).Logger()
	log.Debug().
		Int64("timeout_ms", timeoutMs).
		Uint64("ceiling_mb", ceilingMB).
		Msg("session started")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	smp := startSampler(g.cfg.probe, ceiling, g.cfg.sampleInterval, cancel, buf)
	defer smp.stop()

	t := &task{ctx: taskCtx, session: session, ceilingMB: ceilingMB, done: make(chan Outcome, 1)}

	var (
		res       Outcome
		finished  bool
		submitted bool
		reason    Kind
	)

	select {
	case g.tasks <- t:
		submitted = true
		res, finished, reason = g.wait(ctx, t, smp, timer)
	case <-g.quit:
		reason = KindInternalError
	case <-smp.breach:
		reason = KindMemoryExceeded
	case <-timer.C:
		reason = KindTimeout
	case <-ctx.Done():
		reason = KindCancelled
	}

	if !finished {
		cancel()
	}
	smp.stop()
	if !finished && submitted {
		g.drain(t, log)
	}
	g.finalize()
	session.advance(PhaseDone)

	out := res
	switch {
	case smp.tripped():
		log.Warn().Uint64("peak_bytes", smp.peakBytes()).Uint64("ceiling_mb", ceilingMB).Msg("memory limit exceeded")
		out = Outcome{Kind: KindMemoryExceeded, CeilingMB: ceilingMB}
	case finished:
	case reason == KindTimeout:
		log.Warn().Dur("timeout", timeout).Msg("execution timed out")
		out = Outcome{Kind: KindTimeout, Timeout: timeout}
	case reason == KindCancelled:
		out = Outcome{Kind: KindCancelled}
	default:
		err := &ValidationError{Err: ErrShutdown}
		out = Outcome{Kind: KindInternalError, Payload: err.Error(), Err: err}
	}

	out.SessionID = session.ID
	return out
}

// wait blocks until the submitted task reports or something ends the run
// first.
func (g *Governor) wait(ctx context.Context, t *task, smp *sampler, timer *time.Timer) (Outcome, bool, Kind) {
	select {
	case res := <-t.done:
		return res, true, KindSuccess
	case <-smp.breach:
		return Outcome{}, false, KindMemoryExceeded
	case <-timer.C:
		return Outcome{}, false, KindTimeout
	case <-ctx.Done():
		return Outcome{}, false, KindCancelled
	case <-g.done:
		// The worker may have finished this task just before it exited.
		select {
		case res := <-t.done:
			return res, true, KindSuccess
		default:
			return Outcome{}, false, KindInternalError
		}
	}
}

// drain gives a cancelled task a bounded chance to stop before cleanup.
func (g *Governor) drain(t *task, log zerolog.Logger) {
	grace := time.NewTimer(g.cfg.cancelGrace)
	defer grace.Stop()

	select {
	case <-t.done:
	case <-g.done:
	case <-grace.C:
		log.Warn().Dur("grace", g.cfg.cancelGrace).Msg("worker still busy after cancel")
	}
}

func (g *Governor) worker() {
	defer close(g.done)

	for {
		select {
		case <-g.quit:
			return
		case t := <-g.tasks:
			t.done <- g.perform(t)
		}
	}
}

// perform is the compile-then-run pipeline executed on the worker.
func (g *Governor) perform(t *task) (out Outcome) {
	s := t.session

	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Str("session", s.ID).Interface("panic", r).Msg("worker panic")
			out = Outcome{Kind: KindInternalError, Payload: fmt.Sprint(r)}
		}
	}()
	// The waiting side may have given up and cleaned up already.
	defer func() {
		if t.ctx.Err() != nil {
			g.removeDir(s.Dir)
		}
	}()

	if t.ctx.Err() != nil {
		return Outcome{Kind: KindCancelled}
	}
	if err := g.transition(StatePreparing, StateCompiling); err != nil {
		return Outcome{Kind: KindCancelled}
	}

	src := filepath.Join(s.Dir, g.cfg.lang.SourceFile())
	if err := os.WriteFile(src, []byte(s.Wrapped), 0o644); err != nil {
		return Outcome{Kind: KindInternalError, Payload: fmt.Sprintf("write source: %v", err)}
	}

	compileStart := time.Now()
	res := g.compiler.Compile(t.ctx, compiler.Request{
		SourceFile: src,
		OutputDir:  s.Dir,
		Flags:      g.cfg.flags,
	}, s.Output)
	metrics.ExecutionDuration.WithLabelValues("compile").Observe(float64(time.Since(compileStart).Milliseconds()))

	if t.ctx.Err() != nil {
		return Outcome{Kind: KindCancelled}
	}
	if !res.OK() {
		return Outcome{Kind: KindCompileError, Payload: res.Diagnostics}
	}

	if err := g.transition(StateCompiling, StateRunning); err != nil {
		return Outcome{Kind: KindCancelled}
	}
	s.advance(PhaseRunning)

	runStart := time.Now()
	text, err := g.runner.Run(t.ctx, res.ArtifactDir, s.Output)
	metrics.ExecutionDuration.WithLabelValues("run").Observe(float64(time.Since(runStart).Milliseconds()))

	if err != nil {
		if t.ctx.Err() != nil {
			return Outcome{Kind: KindCancelled}
		}
		if errors.Is(err, loader.ErrOutOfMemory) {
			// The artifact hit the page limit, which is above any ceiling.
			metrics.MemoryBreaches.Inc()
			s.Output.WriteString(BreachNotice)
			return Outcome{Kind: KindMemoryExceeded, CeilingMB: t.ceilingMB}
		}
		msg := err.Error()
		if !s.Output.Blank() {
			msg += "\n" + strings.TrimRight(s.Output.String(), "\n")
		}
		return Outcome{Kind: KindRuntimeError, Payload: msg}
	}
	return Outcome{Kind: KindSuccess, Payload: text}
}

// Shutdown stops accepting runs, waits for the worker up to the shutdown
// grace and then cancels whatever is still in flight. It is idempotent.
func (g *Governor) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()
		close(g.quit)

		grace := time.NewTimer(g.cfg.shutdownGrace)
		defer grace.Stop()

		select {
		case <-g.done:
		case <-grace.C:
			g.shutdownErr = g.force()
		case <-ctx.Done():
			g.shutdownErr = g.force()
		}

		if g.ownsDir {
			g.removeDir(g.workDir)
		}
	})
	return g.shutdownErr
}

func (g *Governor) force() error {
	if s := g.Active(); s != nil {
		g.log.Warn().Str("session", s.ID).Msg("cancelling in-flight session for shutdown")
		s.Cancel()
	}

	grace := time.NewTimer(g.cfg.cancelGrace)
	defer grace.Stop()

	select {
	case <-g.done:
		return nil
	case <-grace.C:
		return ErrWorkerStuck
	}
}

// Active returns the session holding the worker slot, or nil.
func (g *Governor) Active() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// WorkDir is the directory session directories are created under.
func (g *Governor) WorkDir() string {
	return g.workDir
}

func (g *Governor) setActive(s *Session) {
	g.mu.Lock()
	g.active = s
	g.mu.Unlock()
}

func (g *Governor) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (g *Governor) validate(timeoutMs int64, memLimitPct int) error {
	if g.isClosed() {
		return &ValidationError{Err: ErrShutdown}
	}
	if timeoutMs <= 0 {
		return &ValidationError{Field: "timeout", Value: timeoutMs, Err: ErrInvalidTimeout}
	}
	if memLimitPct < 1 || memLimitPct > 90 {
		return &ValidationError{Field: "memory limit", Value: memLimitPct, Err: ErrInvalidMemoryLimit}
	}
	return nil
}

func (g *Governor) removeDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		g.log.Error().Err(err).Str("dir", dir).Msg("remove directory")
	}
}

func rejected(err error) Outcome {
	return Outcome{Kind: KindInternalError, Payload: err.Error(), Err: err}
}
