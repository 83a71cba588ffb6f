package compiler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestRequestArgv(t *testing.T) {
	req := Request{
		SourceFile: "/tmp/s/main.go",
		OutputDir:  "/tmp/s/out",
		Flags:      DefaultFlags(),
	}

	env, args := splitEnv(req.Argv())

	wantEnv := []string{"GOOS=wasip1", "GOARCH=wasm", "GOTOOLCHAIN=local", "GOPROXY=off", "GOWORK=off", "GOFLAGS="}
	if strings.Join(env, " ") != strings.Join(wantEnv, " ") {
		t.Errorf("env = %q, want %q", env, wantEnv)
	}

	wantArgs := []string{"build", "-C", "/tmp/s", "-o", "/tmp/s/out/main.wasm", "-trimpath", "-ldflags=-s -w", "main.go"}
	if strings.Join(args, "|") != strings.Join(wantArgs, "|") {
		t.Errorf("args = %q, want %q", args, wantArgs)
	}
}

func TestRequestArgvWithoutStrip(t *testing.T) {
	req := Request{SourceFile: "/a/main.go", OutputDir: "/a/out"}
	got := strings.Join(req.Argv(), " ")
	if strings.Contains(got, "-ldflags") || strings.Contains(got, "GOOS") {
		t.Errorf("unexpected flags in %q", got)
	}
}

func TestCompileSuccess(t *testing.T) {
	var gotArgv []string
	backend := FuncBackend(func(ctx context.Context, w io.Writer, argv []string) int {
		gotArgv = argv
		io.WriteString(w, "note: nothing to report\n")
		return 0
	})

	var sink bytes.Buffer
	req := Request{SourceFile: "/s/main.go", OutputDir: "/s/out", Flags: DefaultFlags()}
	res := NewInvoker(backend).Compile(context.Background(), req, &sink)

	if !res.OK() {
		t.Fatalf("expected ok, got %v", res.Status)
	}
	if res.ArtifactDir != "/s/out" {
		t.Errorf("ArtifactDir = %q, want /s/out", res.ArtifactDir)
	}
	if sink.String() != "note: nothing to report\n" {
		t.Errorf("sink = %q", sink.String())
	}
	if len(gotArgv) == 0 || gotArgv[len(gotArgv)-1] != "main.go" {
		t.Errorf("backend argv = %q", gotArgv)
	}
}

func TestCompileFailureUsesExitStatusOnly(t *testing.T) {
	tests := []struct {
		name   string
		output string
		status int
		wantOK bool
	}{
		{"silent failure", "", 1, false},
		{"noisy success", "warning: something\n", 0, true},
		{"diagnosed failure", "./main.go:5:1: syntax error\n", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := FuncBackend(func(ctx context.Context, w io.Writer, argv []string) int {
				io.WriteString(w, tt.output)
				return tt.status
			})
			res := NewInvoker(backend).Compile(context.Background(), Request{SourceFile: "/x/main.go", OutputDir: "/x/out"}, nil)
			if res.OK() != tt.wantOK {
				t.Fatalf("OK() = %v, want %v", res.OK(), tt.wantOK)
			}
			if res.Diagnostics != tt.output {
				t.Errorf("Diagnostics = %q, want %q", res.Diagnostics, tt.output)
			}
			if !tt.wantOK && res.ArtifactDir != "" {
				t.Errorf("ArtifactDir should be empty on failure, got %q", res.ArtifactDir)
			}
		})
	}
}

type failingBackend struct{}

func (failingBackend) Invoke(ctx context.Context, w io.Writer, argv []string) (int, error) {
	io.WriteString(w, "partial\n")
	return -1, errors.New("exec: \"go\": executable file not found in $PATH")
}

func TestCompileBackendStartFailure(t *testing.T) {
	var sink bytes.Buffer
	res := NewInvoker(failingBackend{}).Compile(context.Background(), Request{SourceFile: "/x/main.go", OutputDir: "/x/out"}, &sink)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(res.Diagnostics, "partial\n") {
		t.Errorf("diagnostics should keep earlier output, got %q", res.Diagnostics)
	}
	if !strings.Contains(res.Diagnostics, "executable file not found") {
		t.Errorf("diagnostics should include backend error, got %q", res.Diagnostics)
	}
	if sink.String() != res.Diagnostics {
		t.Errorf("sink = %q, want %q", sink.String(), res.Diagnostics)
	}
}

func TestSplitEnv(t *testing.T) {
	env, args := splitEnv([]string{"A=1", "B=", "build", "-ldflags=-s -w", "x.go"})
	if len(env) != 2 || env[0] != "A=1" || env[1] != "B=" {
		t.Errorf("env = %q", env)
	}
	if len(args) != 3 || args[0] != "build" {
		t.Errorf("args = %q", args)
	}

	env, args = splitEnv([]string{"-flag=x"})
	if len(env) != 0 || len(args) != 1 {
		t.Errorf("flag must not be treated as env: env=%q args=%q", env, args)
	}
}

func writeFakeGo(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script backend requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "go")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake go: %v", err)
	}
	return path
}

func TestGoBackendPassesEnvAndExitStatus(t *testing.T) {
	bin := writeFakeGo(t, `echo "goos=$GOOS cache=$GOCACHE args=$*"
exit 3
`)
	cache := t.TempDir()
	b := &GoBackend{GoBin: bin, CacheDir: cache}

	var out bytes.Buffer
	status, err := b.Invoke(context.Background(), &out, []string{"GOOS=wasip1", "build", "main.go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != 3 {
		t.Errorf("status = %d, want 3", status)
	}
	want := "goos=wasip1 cache=" + cache + " args=build main.go\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestGoBackendMissingBinary(t *testing.T) {
	b := &GoBackend{GoBin: filepath.Join(t.TempDir(), "no-such-go")}
	status, err := b.Invoke(context.Background(), io.Discard, []string{"build"})
	if err == nil {
		t.Fatal("expected start error")
	}
	if status != -1 {
		t.Errorf("status = %d, want -1", status)
	}
}

func TestGoBackendEmptyArgv(t *testing.T) {
	if _, err := (&GoBackend{}).Invoke(context.Background(), io.Discard, []string{"A=1"}); err == nil {
		t.Fatal("expected error for argv without a command")
	}
}

func TestGoBackendCompilesRealSnippet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping toolchain integration test in short mode")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "main.go")
	os.WriteFile(src, []byte("package main\n\nfunc main() { println(\"hi\") }\n"), 0o644)
	out := filepath.Join(dir, "out")
	os.Mkdir(out, 0o755)

	backend := &GoBackend{GoBin: "go", CacheDir: t.TempDir()}
	res := NewInvoker(backend).Compile(context.Background(), Request{SourceFile: src, OutputDir: out, Flags: DefaultFlags()}, nil)
	if !res.OK() {
		t.Fatalf("compile failed:\n%s", res.Diagnostics)
	}
	if _, err := os.Stat(filepath.Join(out, ArtifactName)); err != nil {
		t.Errorf("artifact missing: %v", err)
	}

	os.WriteFile(src, []byte("package main\n\nfunc main() { println(\"hi\"\n"), 0o644)
	res = NewInvoker(backend).Compile(context.Background(), Request{SourceFile: src, OutputDir: out, Flags: DefaultFlags()}, nil)
	if res.OK() {
		t.Fatal("expected syntax error")
	}
	if !strings.Contains(res.Diagnostics, "main.go") {
		t.Errorf("diagnostics should point at main.go, got %q", res.Diagnostics)
	}
}
