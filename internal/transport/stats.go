package transport

import (
	"sync"
	"time"
)

// Stats summarizes the most recent calls made through a Client.
type Stats struct {
	Calls       int           `json:"calls"`
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency_ns"`
	Total       uint64        `json:"total"`
}

type outcome struct {
	ok      bool
	latency time.Duration
}

// rollingStats keeps a fixed-size ring of call outcomes.
type rollingStats struct {
	mu    sync.Mutex
	ring  []outcome
	next  int
	full  bool
	total uint64
}

func newRollingStats(size int) *rollingStats {
	if size <= 0 {
		size = 100
	}
	return &rollingStats{ring: make([]outcome, size)}
}

func (s *rollingStats) record(ok bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = outcome{ok: ok, latency: latency}
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	s.total++
}

func (s *rollingStats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	if s.full {
		n = len(s.ring)
	}
	st := Stats{Calls: n, Total: s.total}
	if n == 0 {
		return st
	}

	var okCount int
	var sum time.Duration
	for _, o := range s.ring[:n] {
		if o.ok {
			okCount++
		}
		sum += o.latency
	}
	st.SuccessRate = float64(okCount) / float64(n)
	st.AvgLatency = sum / time.Duration(n)
	return st
}
