package compiler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// GoBackend compiles with the go command in a subprocess.
type GoBackend struct {
	// GoBin is the go binary. Empty means <Home()>/bin/go when a toolchain
	// home is set, otherwise "go" from PATH.
	GoBin string
	// CacheDir is used as GOCACHE. Empty means DefaultCacheDir().
	CacheDir string
	// Env is appended after the inherited environment.
	Env []string
}

// NewGoBackend returns a GoBackend using the process toolchain home.
func NewGoBackend() *GoBackend {
	return &GoBackend{}
}

// Invoke runs go with argv. Leading NAME=value elements become environment
// assignments. Both output streams go to diagnostics.
func (b *GoBackend) Invoke(ctx context.Context, diagnostics io.Writer, argv []string) (int, error) {
	env, args := splitEnv(argv)
	if len(args) == 0 {
		return -1, errors.New("empty argument vector")
	}

	cmd := exec.CommandContext(ctx, b.goBin(), args...)
	cmd.Env = append(os.Environ(), b.baseEnv()...)
	cmd.Env = append(cmd.Env, b.Env...)
	cmd.Env = append(cmd.Env, env...)
	cmd.Stdout = diagnostics
	cmd.Stderr = diagnostics
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if ctx.Err() != nil {
		return -1, fmt.Errorf("go %s: %w", args[0], ctx.Err())
	}
	return -1, fmt.Errorf("go %s: %w", args[0], err)
}

func (b *GoBackend) goBin() string {
	if b.GoBin != "" {
		return b.GoBin
	}
	if home := Home(); home != "" {
		return filepath.Join(home, "bin", "go")
	}
	return "go"
}

func (b *GoBackend) baseEnv() []string {
	cache := b.CacheDir
	if cache == "" {
		cache = DefaultCacheDir()
	}
	env := []string{"GOCACHE=" + cache}
	if home := Home(); home != "" {
		env = append(env, "GOROOT="+home)
	}
	return env
}

func splitEnv(argv []string) (env, args []string) {
	i := 0
	for ; i < len(argv); i++ {
		name, _, ok := strings.Cut(argv[i], "=")
		if !ok || name == "" || strings.HasPrefix(name, "-") {
			break
		}
		env = append(env, argv[i])
	}
	return env, argv[i:]
}

// DefaultCacheDir returns the build cache directory used when none is
// configured.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "gosnip", "go-build")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "gosnip", "go-build")
	}
	return filepath.Join(os.TempDir(), "gosnip-go-build")
}
