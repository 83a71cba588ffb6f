package loader

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/gosnip/compiler"
)

// Hand-assembled modules. Every section is shorter than 128 bytes so sizes
// fit in a single LEB128 byte.

func section(id byte, body []byte) []byte {
	return append([]byte{id, byte(len(body))}, body...)
}

func vec(items ...[]byte) []byte {
	out := []byte{byte(len(items))}
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func name(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

var (
	typeFdWrite  = []byte{0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f}
	typeVoid     = []byte{0x60, 0x00, 0x00}
	typeProcExit = []byte{0x60, 0x01, 0x7f, 0x00}
)

func wasiImport(field string, typeIdx byte) []byte {
	out := append(name("wasi_snapshot_preview1"), name(field)...)
	return append(out, 0x00, typeIdx)
}

// buildModule assembles a module exporting "memory" and a "_start" whose
// body is code.
func buildModule(imports [][]byte, code, data []byte) []byte {
	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	mod = append(mod, section(1, vec(typeFdWrite, typeVoid, typeProcExit))...)
	if len(imports) > 0 {
		mod = append(mod, section(2, vec(imports...))...)
	}
	mod = append(mod, section(3, vec([]byte{0x01}))...)
	mod = append(mod, section(5, vec([]byte{0x00, 0x01}))...)

	start := byte(len(imports))
	exports := vec(
		append(name("memory"), 0x02, 0x00),
		append(name("_start"), 0x00, start),
	)
	mod = append(mod, section(7, exports)...)

	body := append([]byte{0x00}, code...)
	body = append(body, 0x0b)
	mod = append(mod, section(10, vec(append([]byte{byte(len(body))}, body...)))...)

	if data != nil {
		seg := append([]byte{0x00, 0x41, 0x00, 0x0b}, vec(splitBytes(data)...)...)
		mod = append(mod, section(11, vec(seg))...)
	}
	return mod
}

func splitBytes(b []byte) [][]byte {
	out := make([][]byte, len(b))
	for i := range b {
		out[i] = b[i : i+1]
	}
	return out
}

// helloModule writes "hi\n" to stdout through fd_write.
func helloModule() []byte {
	data := []byte{0x08, 0, 0, 0, 0x03, 0, 0, 0, 'h', 'i', '\n'}
	code := []byte{
		0x41, 0x01, // fd 1
		0x41, 0x00, // iovs
		0x41, 0x01, // iovs_len
		0x41, 0x14, // nwritten
		0x10, 0x00, // call fd_write
		0x1a, // drop
	}
	return buildModule([][]byte{wasiImport("fd_write", 0)}, code, data)
}

func spinModule() []byte {
	return buildModule(nil, []byte{0x03, 0x40, 0x0c, 0x00, 0x0b}, nil)
}

func trapModule() []byte {
	return buildModule(nil, []byte{0x00}, nil)
}

func exitModule(code byte) []byte {
	return buildModule(
		[][]byte{wasiImport("proc_exit", 2)},
		[]byte{0x41, code, 0x10, 0x00},
		nil,
	)
}

// oomModule prints the Go runtime's out of memory notice to stderr and
// exits with status 2, the way a Go artifact dies when memory.grow fails.
func oomModule() []byte {
	msg := "fatal error: out of memory\n"
	data := append([]byte{0x08, 0, 0, 0, byte(len(msg)), 0, 0, 0}, msg...)
	code := []byte{
		0x41, 0x02, // fd 2
		0x41, 0x00, // iovs
		0x41, 0x01, // iovs_len
		0x41, 0x28, // nwritten
		0x10, 0x00, // call fd_write
		0x1a,       // drop
		0x41, 0x02, // exit code
		0x10, 0x01, // call proc_exit
	}
	return buildModule([][]byte{wasiImport("fd_write", 0), wasiImport("proc_exit", 2)}, code, data)
}

func emptyModule() []byte {
	return buildModule(nil, nil, nil)
}

func writeArtifact(t *testing.T, bin []byte) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, compiler.ArtifactName), bin, 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newLoader(t *testing.T, opts ...Option) *Loader {
	t.Helper()
	l, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRunCapturesStdout(t *testing.T) {
	l := newLoader(t)
	var out bytes.Buffer

	got, err := l.Run(context.Background(), writeArtifact(t, helloModule()), &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "hi\n" {
		t.Errorf("got %q, want %q", got, "hi\n")
	}
}

func TestRunNoOutput(t *testing.T) {
	l := newLoader(t)

	tests := []struct {
		name string
		bin  []byte
	}{
		{"empty body", emptyModule()},
		{"exit zero", exitModule(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := l.Run(context.Background(), writeArtifact(t, tt.bin), &out)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got != NoOutput {
				t.Errorf("got %q, want %q", got, NoOutput)
			}
		})
	}
}

func TestRunNonZeroExit(t *testing.T) {
	l := newLoader(t)
	var out bytes.Buffer

	_, err := l.Run(context.Background(), writeArtifact(t, exitModule(3)), &out)

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %v", err)
	}
	if !runErr.Exited || runErr.ExitCode != 3 {
		t.Errorf("got exit %d (exited=%v), want 3", runErr.ExitCode, runErr.Exited)
	}
	if runErr.Error() != "exit code 3" {
		t.Errorf("message = %q", runErr.Error())
	}
}

func TestRunTrap(t *testing.T) {
	l := newLoader(t)
	var out bytes.Buffer

	_, err := l.Run(context.Background(), writeArtifact(t, trapModule()), &out)

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %v", err)
	}
	if runErr.Exited {
		t.Error("trap should not be reported as an exit")
	}
	if !strings.Contains(runErr.Error(), "unreachable") {
		t.Errorf("message = %q, want mention of unreachable", runErr.Error())
	}
}

func TestRunCancelledByContext(t *testing.T) {
	l := newLoader(t)
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := l.Run(ctx, writeArtifact(t, spinModule()), &out)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("spin loop was not interrupted promptly: %v", elapsed)
	}
}

func TestRunMissingArtifact(t *testing.T) {
	l := newLoader(t)
	var out bytes.Buffer

	_, err := l.Run(context.Background(), t.TempDir(), &out)

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped not-exist error, got %v", err)
	}
}

func TestRunInvalidArtifact(t *testing.T) {
	l := newLoader(t)
	var out bytes.Buffer

	_, err := l.Run(context.Background(), writeArtifact(t, []byte("not wasm")), &out)

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %v", err)
	}
}

func TestRunMissingEntryPoint(t *testing.T) {
	l := newLoader(t, WithEntryPoint("main"))
	var out bytes.Buffer

	_, err := l.Run(context.Background(), writeArtifact(t, emptyModule()), &out)
	if err == nil || !strings.Contains(err.Error(), `"main"`) {
		t.Fatalf("expected missing entry point error, got %v", err)
	}
}

func TestRunIsolatedBetweenCalls(t *testing.T) {
	l := newLoader(t)
	dir := writeArtifact(t, helloModule())

	for i := 0; i < 3; i++ {
		var out bytes.Buffer
		got, err := l.Run(context.Background(), dir, &out)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if got != "hi\n" {
			t.Errorf("run %d: got %q", i, got)
		}
	}
}

func TestRunAfterClose(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatal(err)
	}
	l.Close()

	var out bytes.Buffer
	if _, err := l.Run(context.Background(), writeArtifact(t, emptyModule()), &out); err == nil {
		t.Error("expected error after Close")
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestMaxHeapBytes(t *testing.T) {
	tests := []struct {
		pages uint32
		want  uint64
	}{
		{MemoryLimit16MB, 16 << 20},
		{MemoryLimit256MB, 256 << 20},
		{0, 4 << 30},
	}

	for _, tt := range tests {
		l := newLoader(t, WithMemoryLimit(tt.pages))
		if got := l.MaxHeapBytes(); got != tt.want {
			t.Errorf("pages %d: got %d, want %d", tt.pages, got, tt.want)
		}
	}
}

func TestDiskCache(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, WithDiskCache(dir))
	artifact := writeArtifact(t, helloModule())

	for i := 0; i < 2; i++ {
		var out bytes.Buffer
		if _, err := l.Run(context.Background(), artifact, &out); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}

func TestRunOutOfMemory(t *testing.T) {
	l := newLoader(t)
	var out bytes.Buffer

	_, err := l.Run(context.Background(), writeArtifact(t, oomModule()), &out)

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %v", err)
	}
	if !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("expected ErrOutOfMemory, got %v", err)
	}
	if runErr.ExitCode != 2 {
		t.Errorf("exit code = %d, want 2", runErr.ExitCode)
	}
}

func TestRunPlainExitIsNotOutOfMemory(t *testing.T) {
	l := newLoader(t)
	var out bytes.Buffer

	_, err := l.Run(context.Background(), writeArtifact(t, exitModule(2)), &out)
	if errors.Is(err, ErrOutOfMemory) {
		t.Errorf("exit 2 without the runtime notice reported as out of memory: %v", err)
	}
}

func TestUsedTracksRunningArtifact(t *testing.T) {
	l := newLoader(t, WithMemoryLimit(MemoryLimit16MB))
	if got := l.Used(); got != 0 {
		t.Fatalf("Used before any run = %d, want 0", got)
	}
	if got := l.Max(); got != 16<<20 {
		t.Errorf("Max = %d, want %d", got, 16<<20)
	}

	dir := writeArtifact(t, spinModule())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		var out bytes.Buffer
		_, err := l.Run(ctx, dir, &out)
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for l.Used() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := l.Used(); got != PageSize {
		t.Errorf("Used while running = %d, want one page (%d)", got, PageSize)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v", err)
	}
	if got := l.Used(); got != 0 {
		t.Errorf("Used after run = %d, want 0", got)
	}
}
