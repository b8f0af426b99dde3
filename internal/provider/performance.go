package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultEMAAlpha is the smoothing factor for latency and success-rate
	// moving averages: new = (1-alpha)*old + alpha*sample.
	DefaultEMAAlpha = 0.3

	// DefaultFailureThreshold is the recent-failure count at which a provider
	// is considered unhealthy.
	DefaultFailureThreshold = 5

	// DefaultHealthInterval is how often recent failures decay and health is
	// recomputed, independent of the request path.
	DefaultHealthInterval = 30 * time.Second

	failurePenalty    = 0.9
	defaultAvgMs      = 500.0
	defaultSuccessRat = 1.0
)

// Snapshot is a point-in-time view of one provider's tracked performance.
type Snapshot struct {
	Provider          string
	AvgResponseTimeMs float64
	SuccessRate       float64
	RecentFailures    int
	Healthy           bool
	LastChecked       time.Time
}

// PerformanceStore tracks per-provider latency and success-rate moving
// averages. Implementations must be safe for concurrent use: updates are
// read-modify-write and shared across every request handler. The store is
// process-local and rebuilds to defaults on restart; a distributed deployment
// can swap in a shared backing store without changing call sites.
type PerformanceStore interface {
	RecordSuccess(provider string, latency time.Duration)
	RecordFailure(provider string)
	Snapshot(provider string) Snapshot
	Snapshots() []Snapshot
	Decay()
}

type perfRecord struct {
	avgMs       float64
	successRate float64
	failures    int
	lastChecked time.Time
}

type memoryPerformanceStore struct {
	mu        sync.Mutex
	alpha     float64
	threshold int
	records   map[string]*perfRecord
}

// NewMemoryPerformanceStore builds the in-memory EMA store. Zero alpha or
// threshold select the defaults.
func NewMemoryPerformanceStore(alpha float64, failureThreshold int) PerformanceStore {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultEMAAlpha
	}
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	return &memoryPerformanceStore{
		alpha:     alpha,
		threshold: failureThreshold,
		records:   make(map[string]*perfRecord),
	}
}

func (s *memoryPerformanceStore) record(provider string) *perfRecord {
	r, ok := s.records[provider]
	if !ok {
		r = &perfRecord{avgMs: defaultAvgMs, successRate: defaultSuccessRat, lastChecked: time.Now().UTC()}
		s.records[provider] = r
	}
	return r
}

func (s *memoryPerformanceStore) RecordSuccess(provider string, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(provider)
	sample := float64(latency.Milliseconds())
	r.avgMs = (1-s.alpha)*r.avgMs + s.alpha*sample
	r.successRate = (1-s.alpha)*r.successRate + s.alpha*1.0
	if r.failures > 0 {
		r.failures--
	}
	r.lastChecked = time.Now().UTC()
}

func (s *memoryPerformanceStore) RecordFailure(provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(provider)
	r.successRate *= failurePenalty
	r.failures++
	r.lastChecked = time.Now().UTC()
}

func (s *memoryPerformanceStore) Snapshot(provider string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(provider)
}

func (s *memoryPerformanceStore) snapshotLocked(provider string) Snapshot {
	r := s.record(provider)
	return Snapshot{
		Provider:          provider,
		AvgResponseTimeMs: r.avgMs,
		SuccessRate:       r.successRate,
		RecentFailures:    r.failures,
		Healthy:           r.failures < s.threshold,
		LastChecked:       r.lastChecked,
	}
}

func (s *memoryPerformanceStore) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.records))
	for name := range s.records {
		out = append(out, s.snapshotLocked(name))
	}
	return out
}

// Decay lets recent failures drain so a provider that has been silent for a
// while can heal back into the healthy set.
func (s *memoryPerformanceStore) Decay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, r := range s.records {
		if r.failures > 0 {
			r.failures--
		}
		r.lastChecked = now
	}
}

// RunHealthLoop calls store.Decay on the given interval until ctx is done.
// It runs as a single background goroutine, not on the request path.
func RunHealthLoop(ctx context.Context, store PerformanceStore, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("provider health loop stopped")
			return
		case <-ticker.C:
			store.Decay()
		}
	}
}
