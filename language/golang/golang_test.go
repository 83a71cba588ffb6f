package golang

import (
	"strings"
	"testing"
)

func TestWrapBareSnippet(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"println", `println("hi")`},
		{"empty", ""},
		{"multi line", "x := 1\nfor i := 0; i < 3; i++ {\n\tx += i\n}\nprintln(x)"},
		{"trailing newline", "println(1)\n"},
		{"mentions main in a string", `println("func main is elsewhere")`},
		{"method named main", "type t struct{}\n_ = t{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := Wrap(tt.code)
			if !strings.HasPrefix(wrapped, "package main\n") {
				t.Errorf("wrapped source should start with package clause, got %q", wrapped)
			}
			if !strings.Contains(wrapped, "func "+EntryFunc+"(_ []string) {") {
				t.Errorf("wrapped source missing entry function with argv parameter: %q", wrapped)
			}
			body, ok := Body(wrapped)
			if !ok {
				t.Fatalf("Body did not recognise wrapped source %q", wrapped)
			}
			if body != tt.code {
				t.Errorf("body = %q, want %q", body, tt.code)
			}
		})
	}
}

func TestWrapPassesThroughEntryPoint(t *testing.T) {
	tests := []string{
		"package main\n\nfunc main() {\n\tprintln(1)\n}\n",
		"package main\nimport \"fmt\"\nfunc main(){ fmt.Println(2) }",
		"package main\n\n  func  main ( ) {}\n",
	}

	for _, code := range tests {
		if got := Wrap(code); got != code {
			t.Errorf("Wrap(%q) = %q, want unchanged", code, got)
		}
	}
}

func TestHasEntryPoint(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"func main() {}", true},
		{"\tfunc main() {}", true},
		{"func mainLoop() {}", false},
		{"func (s *S) main() {}", false},
		{`println("func main() {}")`, false},
		{"", false},
	}

	for _, tt := range tests {
		if got := HasEntryPoint(tt.code); got != tt.want {
			t.Errorf("HasEntryPoint(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestBodyRejectsForeignSource(t *testing.T) {
	if _, ok := Body("package main\nfunc main() {}\n"); ok {
		t.Error("Body should reject source not produced by Wrap")
	}
}

func TestAdapter(t *testing.T) {
	lang := New()
	if lang.Name() != "go" {
		t.Errorf("Name() = %q, want %q", lang.Name(), "go")
	}
	if lang.SourceFile() != "main.go" {
		t.Errorf("SourceFile() = %q, want %q", lang.SourceFile(), "main.go")
	}
	if lang.WrapCode("x") != Wrap("x") {
		t.Error("WrapCode should match Wrap")
	}
}
