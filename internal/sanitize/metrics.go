package sanitize

import (
	"sync"
	"time"
)

// DomainMetrics holds per-domain sanitization counters. Values accumulate
// for the process lifetime; nothing is persisted.
type DomainMetrics struct {
	Domain     string        `json:"domain"`
	Requests   int64         `json:"requests"`
	Modified   int64         `json:"modified"`
	AvgLatency time.Duration `json:"avg_latency"`
}

// domainStats is a thread-safe per-domain counter map.
type domainStats struct {
	mu      sync.RWMutex
	domains map[string]*DomainMetrics
}

func newDomainStats() *domainStats {
	return &domainStats{domains: make(map[string]*DomainMetrics)}
}

// record updates counters for domain with one sanitize call's outcome.
func (s *domainStats) record(domain string, modified bool, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.domains[domain]
	if !ok {
		m = &DomainMetrics{Domain: domain}
		s.domains[domain] = m
	}

	m.Requests++
	if modified {
		m.Modified++
	}
	// Incremental running average keeps updates O(1) per call.
	m.AvgLatency += (elapsed - m.AvgLatency) / time.Duration(m.Requests)
}

// get returns a copy of the metrics for domain, zero-valued if unseen.
func (s *domainStats) get(domain string) DomainMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.domains[domain]; ok {
		return *m
	}
	return DomainMetrics{Domain: domain}
}

// snapshot returns copies of every domain's metrics.
func (s *domainStats) snapshot() []DomainMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DomainMetrics, 0, len(s.domains))
	for _, m := range s.domains {
		out = append(out, *m)
	}
	return out
}
