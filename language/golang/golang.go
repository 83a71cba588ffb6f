// Package golang provides the Go source adapter for gosnip.
package golang

import (
	"regexp"
	"strings"
)

// EntryFunc is the function generated around a bare snippet. It carries the
// argument vector parameter; main calls it with an empty vector.
const EntryFunc = "snippet"

// SourceFile is the file name the wrapped translation unit is written to.
const SourceFile = "main.go"

var entryPoint = regexp.MustCompile(`(?m)^[ \t]*func[ \t]+main[ \t]*\([ \t]*\)`)

const prelude = `package main

func main() {
	` + EntryFunc + `(nil)
}

func ` + EntryFunc + `(_ []string) {
`

// Go implements the executor.Language interface for Go snippets.
type Go struct{}

// New returns a Go language adapter.
func New() *Go {
	return &Go{}
}

// Name returns "go".
func (g *Go) Name() string {
	return "go"
}

// SourceFile returns "main.go".
func (g *Go) SourceFile() string {
	return SourceFile
}

// WrapCode returns code unchanged when it already declares func main,
// otherwise a complete main package whose entry function body is code.
func (g *Go) WrapCode(code string) string {
	return Wrap(code)
}

// HasEntryPoint reports whether code declares a top-level func main().
func HasEntryPoint(code string) bool {
	return entryPoint.MatchString(code)
}

// Wrap is the package-level form of (*Go).WrapCode.
func Wrap(code string) string {
	if HasEntryPoint(code) {
		return code
	}

	var b strings.Builder
	b.Grow(len(prelude) + len(code) + 3)
	b.WriteString(prelude)
	b.WriteString(code)
	b.WriteString("\n}\n")
	return b.String()
}

// Body returns the snippet body of a unit produced by Wrap. ok is false when
// wrapped was not generated by Wrap.
func Body(wrapped string) (body string, ok bool) {
	if !strings.HasPrefix(wrapped, prelude) || !strings.HasSuffix(wrapped, "\n}\n") {
		return "", false
	}
	return wrapped[len(prelude) : len(wrapped)-len("\n}\n")], true
}
