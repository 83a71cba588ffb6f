package loader

import (
	"errors"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/tetratelabs/wazero/experimental"
)

// ErrOutOfMemory is wrapped by the RunError of an artifact that tried to grow
// its linear memory past the page limit.
var ErrOutOfMemory = errors.New("artifact ran out of linear memory")

// The Go runtime prints one of these before exiting when memory.grow fails.
var outOfMemoryMarkers = []string{
	"fatal error: out of memory",
	"runtime: out of memory",
}

func outOfMemory(output string) bool {
	for _, m := range outOfMemoryMarkers {
		if strings.Contains(output, m) {
			return true
		}
	}
	return false
}

// linearMemory backs a guest memory and publishes its length to size.
type linearMemory struct {
	buf  []byte
	max  uint64
	size *atomic.Uint64
}

func (l *Loader) allocator() experimental.MemoryAllocator {
	return experimental.MemoryAllocatorFunc(func(capacity, max uint64) experimental.LinearMemory {
		return &linearMemory{
			buf:  make([]byte, 0, capacity),
			max:  max,
			size: &l.used,
		}
	})
}

func (m *linearMemory) Reallocate(size uint64) []byte {
	if size > m.max {
		return nil
	}
	if size > uint64(len(m.buf)) {
		m.buf = slices.Grow(m.buf, int(size)-len(m.buf))
	}
	m.buf = m.buf[:size]
	m.size.Store(size)
	return m.buf
}

func (m *linearMemory) Free() {
	m.buf = nil
}
