// Package loader runs compiled wasm artifacts in a fresh wazero runtime.
package loader

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/caffeineduck/gosnip/compiler"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// NoOutput is returned by Run when the artifact ran and printed nothing.
const NoOutput = "Code executed successfully with no output"

// PageSize is the size of one wasm linear memory page.
const PageSize = 64 * 1024

// Sink receives the artifact's stdout and stderr and reads them back.
type Sink interface {
	io.Writer
	String() string
}

// RunError is a failure of the artifact itself: a trap, a non-zero exit or
// an artifact that could not be loaded.
type RunError struct {
	ExitCode uint32
	Exited   bool
	Err      error
}

func (e *RunError) Error() string {
	if e.Exited {
		return fmt.Sprintf("exit code %d", e.ExitCode)
	}
	return e.Err.Error()
}

func (e *RunError) Unwrap() error { return e.Err }

// Loader instantiates artifacts. Each Run gets its own runtime so nothing
// from a previous session is visible to the next.
type Loader struct {
	cfg   config
	cache wazero.CompilationCache

	// used is the linear memory of the artifact currently running.
	used atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// New creates a Loader.
func New(opts ...Option) (*Loader, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	l := &Loader{cfg: cfg}
	if cfg.diskCache {
		dir := cfg.cacheDir
		if dir == "" {
			dir = defaultCacheDir()
		}
		cache, err := wazero.NewCompilationCacheWithDir(dir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
		l.cache = cache
	}
	return l, nil
}

// MaxHeapBytes is the largest linear memory an artifact may grow to.
func (l *Loader) MaxHeapBytes() uint64 {
	pages := l.cfg.memoryLimitPages
	if pages == 0 {
		pages = 65536
	}
	return uint64(pages) * PageSize
}

// Used reports the linear memory size of the running artifact in bytes, or
// 0 between runs. Together with Max it makes the Loader a memory probe for
// the governor.
func (l *Loader) Used() uint64 {
	return l.used.Load()
}

// Max is MaxHeapBytes.
func (l *Loader) Max() uint64 {
	return l.MaxHeapBytes()
}

// Run loads dir/main.wasm, calls its entry point with an empty argument
// vector and returns everything written to out. A blank out yields NoOutput.
func (l *Loader) Run(ctx context.Context, dir string, out Sink) (string, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return "", errors.New("loader closed")
	}

	bin, err := os.ReadFile(filepath.Join(dir, compiler.ArtifactName))
	if err != nil {
		return "", &RunError{Err: fmt.Errorf("load artifact: %w", err)}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if l.cache != nil {
		rtConfig = rtConfig.WithCompilationCache(l.cache)
	}
	if l.cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(l.cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	defer rt.Close(context.Background())

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("instantiate WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &RunError{Err: fmt.Errorf("load artifact: %w", err)}
	}

	moduleConfig := wazero.NewModuleConfig().
		WithStdout(out).
		WithStderr(out).
		WithArgs(l.cfg.programName).
		WithName("").
		WithStartFunctions().
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader)

	defer l.used.Store(0)

	mod, err := rt.InstantiateModule(experimental.WithMemoryAllocator(ctx, l.allocator()), compiled, moduleConfig)
	if err != nil {
		return "", l.classify(ctx, err, out)
	}
	defer mod.Close(context.Background())

	entry := mod.ExportedFunction(l.cfg.entryPoint)
	if entry == nil {
		return "", &RunError{Err: fmt.Errorf("entry point %q not exported", l.cfg.entryPoint)}
	}

	if _, err := entry.Call(ctx); err != nil {
		if err := l.classify(ctx, err, out); err != nil {
			return "", err
		}
	}

	text := out.String()
	if strings.TrimSpace(text) == "" {
		return NoOutput, nil
	}
	return text, nil
}

// classify maps a wazero error to nil (clean exit), ctx.Err() (cancelled)
// or a *RunError. An exit after the runtime reported running out of memory
// wraps ErrOutOfMemory.
func (l *Loader) classify(ctx context.Context, err error, out Sink) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case 0:
			return nil
		case sys.ExitCodeContextCanceled:
			return context.Canceled
		case sys.ExitCodeDeadlineExceeded:
			return context.DeadlineExceeded
		}
		if outOfMemory(out.String()) {
			err = fmt.Errorf("%w: %w", ErrOutOfMemory, err)
		}
		return &RunError{ExitCode: exitErr.ExitCode(), Exited: true, Err: err}
	}
	return &RunError{Err: err}
}

// Close releases the compilation cache.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.cache != nil {
		return l.cache.Close(context.Background())
	}
	return nil
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "gosnip", "wazero")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "gosnip", "wazero")
	}
	return filepath.Join(os.TempDir(), "gosnip-wazero-cache")
}
