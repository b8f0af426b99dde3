package provider

import "time"

// SeedPerformance is a test helper that fixes the tracked numbers for a
// provider when using the in-memory performance store.
func SeedPerformance(store PerformanceStore, provider string, avgMs, successRate float64, failures int) {
	if mem, ok := store.(*memoryPerformanceStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.records[provider] = &perfRecord{
			avgMs:       avgMs,
			successRate: successRate,
			failures:    failures,
			lastChecked: time.Now().UTC(),
		}
	}
}
