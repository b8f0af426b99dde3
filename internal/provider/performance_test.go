package provider

import (
	"math"
	"testing"
	"time"
)

func TestPerformanceEMAUpdates(t *testing.T) {
	store := NewMemoryPerformanceStore(0.3, 5)

	store.RecordSuccess("alpha", 100*time.Millisecond)
	snap := store.Snapshot("alpha")

	// new = 0.7*500 + 0.3*100
	if math.Abs(snap.AvgResponseTimeMs-380) > 0.001 {
		t.Fatalf("unexpected avg after first sample: %f", snap.AvgResponseTimeMs)
	}
	if snap.SuccessRate != 1.0 {
		t.Fatalf("success rate should remain 1.0, got %f", snap.SuccessRate)
	}
	if !snap.Healthy {
		t.Fatal("provider should be healthy")
	}
}

func TestPerformanceFailurePenalty(t *testing.T) {
	store := NewMemoryPerformanceStore(0.3, 5)

	store.RecordFailure("alpha")
	snap := store.Snapshot("alpha")
	if math.Abs(snap.SuccessRate-0.9) > 0.001 {
		t.Fatalf("expected success rate 0.9, got %f", snap.SuccessRate)
	}
	if snap.RecentFailures != 1 {
		t.Fatalf("expected 1 recent failure, got %d", snap.RecentFailures)
	}
}

func TestPerformanceHealthFlipsAtThreshold(t *testing.T) {
	store := NewMemoryPerformanceStore(0.3, 3)

	for i := 0; i < 3; i++ {
		store.RecordFailure("alpha")
	}
	if store.Snapshot("alpha").Healthy {
		t.Fatal("provider should be unhealthy at the failure threshold")
	}

	// One success decrements the counter back under the threshold.
	store.RecordSuccess("alpha", 50*time.Millisecond)
	if !store.Snapshot("alpha").Healthy {
		t.Fatal("provider should heal after a success")
	}
}

func TestPerformanceDecayHealsSilentProvider(t *testing.T) {
	store := NewMemoryPerformanceStore(0.3, 2)

	store.RecordFailure("alpha")
	store.RecordFailure("alpha")
	if store.Snapshot("alpha").Healthy {
		t.Fatal("expected unhealthy before decay")
	}

	store.Decay()
	if !store.Snapshot("alpha").Healthy {
		t.Fatal("expected healthy after failure decay")
	}
	if got := store.Snapshot("alpha").RecentFailures; got != 1 {
		t.Fatalf("expected failures to decay to 1, got %d", got)
	}
}

func TestPerformanceDefaultsForUnknownProvider(t *testing.T) {
	store := NewMemoryPerformanceStore(0, 0)
	snap := store.Snapshot("never-seen")
	if snap.AvgResponseTimeMs != defaultAvgMs || snap.SuccessRate != defaultSuccessRat {
		t.Fatalf("unexpected defaults: %+v", snap)
	}
	if !snap.Healthy {
		t.Fatal("unknown providers start healthy")
	}
}
