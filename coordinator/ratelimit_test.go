package coordinator

import "testing"

func TestRateLimiterAllowsUpToBudget(t *testing.T) {
	rl := NewRateLimiter()
	for i := 0; i < rateLimitBudget; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("request %d should be within budget", i)
		}
	}
	if rl.Allow("alice") {
		t.Fatal("request beyond budget should be rejected")
	}
}

func TestRateLimiterTracksUsersIndependently(t *testing.T) {
	rl := NewRateLimiter()
	for i := 0; i < rateLimitBudget; i++ {
		rl.Allow("alice")
	}
	if !rl.Allow("bob") {
		t.Fatal("a different user should have an independent budget")
	}
}

func TestRateLimiterCleanupPrunesOnlyEmptyRings(t *testing.T) {
	rl := NewRateLimiter()
	rl.Allow("alice")

	removed := rl.Cleanup()
	if removed != 0 {
		t.Fatalf("freshly used ring should not be pruned, removed=%d", removed)
	}
}
