package download

import (
	"sync"
	"time"
)

// Metrics aggregates gate activity for the process lifetime.
type Metrics struct {
	TotalStarted     int64         `json:"total_started"`
	TotalBlocked     int64         `json:"total_blocked"`
	TotalQuarantined int64         `json:"total_quarantined"`
	TotalPromoted    int64         `json:"total_promoted"`
	TotalDeleted     int64         `json:"total_deleted"`
	TotalFailed      int64         `json:"total_failed"`
	BytesQuarantined int64         `json:"bytes_quarantined"`
	AvgTransfer      time.Duration `json:"avg_transfer_duration"`
}

type gateStats struct {
	mu        sync.Mutex
	m         Metrics
	completed int64
}

func (s *gateStats) started()  { s.mu.Lock(); s.m.TotalStarted++; s.mu.Unlock() }
func (s *gateStats) blocked()  { s.mu.Lock(); s.m.TotalBlocked++; s.mu.Unlock() }
func (s *gateStats) promoted() { s.mu.Lock(); s.m.TotalPromoted++; s.mu.Unlock() }
func (s *gateStats) deleted()  { s.mu.Lock(); s.m.TotalDeleted++; s.mu.Unlock() }
func (s *gateStats) failed()   { s.mu.Lock(); s.m.TotalFailed++; s.mu.Unlock() }

func (s *gateStats) quarantined(bytes int64, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.TotalQuarantined++
	s.m.BytesQuarantined += bytes
	s.completed++
	s.m.AvgTransfer += (elapsed - s.m.AvgTransfer) / time.Duration(s.completed)
}

func (s *gateStats) snapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m
}
