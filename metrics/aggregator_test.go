package metrics

import "testing"

func TestConnectionCounters(t *testing.T) {
	a := New()
	a.ConnectionOpened()
	a.ConnectionOpened()
	a.ConnectionClosed()

	snap := a.Snapshot()
	if snap.TotalConnections != 2 {
		t.Fatalf("expected 2 total connections, got %d", snap.TotalConnections)
	}
	if snap.ActiveConnections != 1 {
		t.Fatalf("expected 1 active connection, got %d", snap.ActiveConnections)
	}
}

func TestRecordErrorTracksKindAndRate(t *testing.T) {
	a := New()
	a.RecordError("rate_limited")
	a.RecordError("rate_limited")
	a.RecordError("invalid_message")

	snap := a.Snapshot()
	if snap.ErrorsByKind["rate_limited"] != 2 {
		t.Fatalf("expected 2 rate_limited errors, got %d", snap.ErrorsByKind["rate_limited"])
	}
	if snap.ErrorRatePerMinute <= 0 {
		t.Fatal("expected a positive error rate after recording errors")
	}
}

func TestPercentileFallsBackToMaxBelowThreshold(t *testing.T) {
	a := New()
	a.RecordLatency(10)
	a.RecordLatency(50)
	a.RecordLatency(20)

	snap := a.Snapshot()
	// Fewer than 20 samples: p95 falls back to the observed max.
	if snap.LatencyP95Ms != 50 {
		t.Fatalf("expected fallback-to-max of 50, got %v", snap.LatencyP95Ms)
	}
}

func TestHealthStatusDegradesWithErrors(t *testing.T) {
	a := New()
	if got := a.HealthStatus(); got != "healthy" {
		t.Fatalf("expected healthy with no activity, got %q", got)
	}

	for i := 0; i < 60; i++ {
		a.RecordError("internal_error")
	}
	if got := a.HealthStatus(); got != "unhealthy" {
		t.Fatalf("expected unhealthy after heavy error rate, got %q", got)
	}
}
