package executor

// Language describes how raw snippet text becomes a compilable source file.
// Implement this interface to target another source language.
type Language interface {
	// Name returns a unique identifier for this language (e.g., "go").
	Name() string

	// SourceFile is the file name the wrapped source is written to inside
	// the session directory.
	SourceFile() string

	// WrapCode turns raw snippet text into a complete program. It must be
	// pure and must not fail.
	WrapCode(code string) string
}
