package executor

import (
	"context"
	"sync"
	"time"

	"github.com/caffeineduck/gosnip/capture"
	"github.com/caffeineduck/gosnip/internal/metrics"
)

// BreachNotice is appended to the session output when the sampler trips.
const BreachNotice = "Memory limit exceeded!\n"

// sampler polls a MemoryProbe until stopped or until usage crosses ceiling.
type sampler struct {
	probe    MemoryProbe
	ceiling  uint64
	interval time.Duration
	cancel   context.CancelFunc
	out      *capture.Buffer

	breach   chan struct{}
	stopCh   chan struct{}
	exited   chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	breached bool
	peak     uint64
}

func startSampler(probe MemoryProbe, ceiling uint64, interval time.Duration, cancel context.CancelFunc, out *capture.Buffer) *sampler {
	s := &sampler{
		probe:    probe,
		ceiling:  ceiling,
		interval: interval,
		cancel:   cancel,
		out:      out,
		breach:   make(chan struct{}),
		stopCh:   make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *sampler) loop() {
	defer close(s.exited)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		// stop wins over a tick that raced with it
		select {
		case <-s.stopCh:
			return
		default:
		}

		used := s.probe.Used()
		s.mu.Lock()
		if used > s.peak {
			s.peak = used
		}
		s.mu.Unlock()

		if used > s.ceiling {
			s.trip()
			return
		}
	}
}

func (s *sampler) trip() {
	s.mu.Lock()
	s.breached = true
	s.mu.Unlock()

	metrics.MemoryBreaches.Inc()
	s.cancel()
	s.out.WriteString(BreachNotice)
	close(s.breach)
}

// stop halts sampling and waits for the loop to exit, so no sample is taken
// once stop returns.
func (s *sampler) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.exited
}

func (s *sampler) tripped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breached
}

func (s *sampler) peakBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}
