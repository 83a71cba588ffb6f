// Package capture owns the process-wide output capture slot.
//
// Snippet stdout and stderr, compiler diagnostics and governor notices for a
// session all land in one Buffer. Only one Buffer can hold the slot at a
// time across the whole process, so output from two sessions can never
// interleave, even when more than one Governor exists.
package capture

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned by TryAcquire when another session holds the slot.
var ErrBusy = errors.New("capture slot busy")

var slot = semaphore.NewWeighted(1)

// Buffer is a goroutine-safe output sink owned by a single session.
type Buffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// Write appends data. Writes after Release are discarded so a worker that
// outlives its session cannot leak into anything.
func (b *Buffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return len(data), nil
	}
	return b.buf.Write(data)
}

// WriteString appends s.
func (b *Buffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// String returns everything captured so far.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Blank reports whether the buffer holds only whitespace.
func (b *Buffer) Blank() bool {
	return strings.TrimSpace(b.String()) == ""
}

// Len returns the number of captured bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *Buffer) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Acquire blocks until the capture slot is free or ctx is done, then returns
// a fresh Buffer and a release func. release is idempotent and must be called
// on every exit path.
func Acquire(ctx context.Context) (*Buffer, func(), error) {
	if err := slot.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	return grant()
}

// TryAcquire is Acquire without waiting.
func TryAcquire() (*Buffer, func(), error) {
	if !slot.TryAcquire(1) {
		return nil, nil, ErrBusy
	}
	return grant()
}

func grant() (*Buffer, func(), error) {
	b := &Buffer{}
	var once sync.Once
	release := func() {
		once.Do(func() {
			b.close()
			slot.Release(1)
		})
	}
	return b, release, nil
}
