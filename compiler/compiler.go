// Package compiler turns a wrapped Go source file into a loadable wasm
// artifact by driving a swappable compiler backend.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
)

// ArtifactName is the file the backend writes inside the output directory.
const ArtifactName = "main.wasm"

// Status is the outcome of a compilation.
type Status int

const (
	StatusOK Status = iota
	StatusError
)

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return "error"
}

// Flags are the compiler switches applied to every request.
type Flags struct {
	GOOS   string
	GOARCH string
	// StripMetadata drops symbol tables, DWARF and build paths from the
	// artifact.
	StripMetadata bool
	// NoImplicitDeps stops the toolchain from resolving anything beyond the
	// standard library it was unpacked with: no module proxy, no toolchain
	// switching, no workspace files.
	NoImplicitDeps bool
}

// DefaultFlags targets wasip1/wasm with metadata stripped and no implicit
// dependency resolution.
func DefaultFlags() Flags {
	return Flags{
		GOOS:           "wasip1",
		GOARCH:         "wasm",
		StripMetadata:  true,
		NoImplicitDeps: true,
	}
}

// Env returns the NAME=value assignments the flags imply.
func (f Flags) Env() []string {
	var env []string
	if f.GOOS != "" {
		env = append(env, "GOOS="+f.GOOS)
	}
	if f.GOARCH != "" {
		env = append(env, "GOARCH="+f.GOARCH)
	}
	if f.NoImplicitDeps {
		env = append(env, "GOTOOLCHAIN=local", "GOPROXY=off", "GOWORK=off", "GOFLAGS=")
	}
	return env
}

// Request describes one compilation.
type Request struct {
	// SourceFile is the absolute path of the wrapped source.
	SourceFile string
	// OutputDir receives ArtifactName on success.
	OutputDir string
	Flags     Flags
}

// Argv returns the backend argument vector. Leading NAME=value elements are
// environment assignments, the way env(1) reads them.
func (r Request) Argv() []string {
	argv := r.Flags.Env()
	argv = append(argv, "build", "-C", filepath.Dir(r.SourceFile), "-o", filepath.Join(r.OutputDir, ArtifactName))
	if r.Flags.StripMetadata {
		argv = append(argv, "-trimpath", "-ldflags=-s -w")
	}
	return append(argv, filepath.Base(r.SourceFile))
}

// Result is what Compile reports back.
type Result struct {
	Status      Status
	Diagnostics string
	// ArtifactDir is only set when Status is StatusOK.
	ArtifactDir string
}

// OK reports whether the compilation succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Backend is the narrow contract every compiler implementation satisfies.
// exitStatus 0 means success. err is reserved for failing to run the backend
// at all.
type Backend interface {
	Invoke(ctx context.Context, diagnostics io.Writer, argv []string) (exitStatus int, err error)
}

// FuncBackend adapts an in-process compiler entry point to Backend.
type FuncBackend func(ctx context.Context, diagnostics io.Writer, argv []string) int

// Invoke calls f.
func (f FuncBackend) Invoke(ctx context.Context, diagnostics io.Writer, argv []string) (int, error) {
	return f(ctx, diagnostics, argv), nil
}

// Invoker drives a Backend for compile requests.
type Invoker struct {
	backend Backend
}

// NewInvoker returns an Invoker over backend.
func NewInvoker(backend Backend) *Invoker {
	return &Invoker{backend: backend}
}

// Compile runs the backend for req. Diagnostics are streamed to sink as they
// are produced and also returned in the Result. Success is decided by the
// backend's exit status alone.
func (i *Invoker) Compile(ctx context.Context, req Request, sink io.Writer) Result {
	var diag bytes.Buffer
	w := io.Writer(&diag)
	if sink != nil {
		w = io.MultiWriter(&diag, sink)
	}

	status, err := i.backend.Invoke(ctx, w, req.Argv())
	if err != nil {
		fmt.Fprintf(w, "compiler backend failed: %v\n", err)
		return Result{Status: StatusError, Diagnostics: diag.String()}
	}
	if status != 0 {
		return Result{Status: StatusError, Diagnostics: diag.String()}
	}

	return Result{
		Status:      StatusOK,
		Diagnostics: diag.String(),
		ArtifactDir: req.OutputDir,
	}
}
