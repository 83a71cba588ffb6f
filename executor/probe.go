package executor

import (
	"math"
	"runtime/debug"
	"runtime/metrics"
)

// MemoryProbe reports approximate memory figures for whatever the runner
// executes in. Used and Max must measure the same thing.
type MemoryProbe interface {
	// Used is the memory currently in use, in bytes.
	Used() uint64
	// Max is the memory it may grow to, in bytes.
	Max() uint64
}

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// RuntimeProbe reads the host Go runtime's heap metrics against the host's
// soft memory limit. It suits runners that execute on the host heap; a
// runner that is itself a MemoryProbe is preferred over it.
type RuntimeProbe struct {
	// Fallback is returned by Max when no soft memory limit is set.
	Fallback uint64
}

func (p RuntimeProbe) Used() uint64 {
	samples := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(samples)
	if samples[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return samples[0].Value.Uint64()
}

func (p RuntimeProbe) Max() uint64 {
	// A negative input reads the limit without changing it.
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		return uint64(limit)
	}
	return p.Fallback
}

// defaultFallback is the host maximum used when no soft limit is set.
const defaultFallback = 4 << 30
