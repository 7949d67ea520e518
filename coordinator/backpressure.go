package coordinator

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// sendRatePerSec and sendBurst bound how fast the broadcast fan-out may
// push bytes at one peer; a slow reader's socket buffer fills, WaitN
// blocks that one send task, and every other peer's send proceeds
// unaffected (spec §5's "broadcasts spawn parallel send subtasks that
// each suspend on their own channel"). This is a distinct concern from
// RateLimiter: that one governs inbound request budget, this one governs
// outbound backpressure, grounded on ehrlich-b-wingthing's BandwidthMeter.
const (
	sendRatePerSec = 1 << 20 // 1 MiB/s per connection
	sendBurst      = 1 << 18 // 256 KiB burst
)

// backpressureGate is a per-connection token bucket guarding outbound
// broadcast sends.
type backpressureGate struct {
	mu       sync.Mutex
	limiters map[*Connection]*rate.Limiter
}

func newBackpressureGate() *backpressureGate {
	return &backpressureGate{limiters: make(map[*Connection]*rate.Limiter)}
}

func (g *backpressureGate) limiterFor(c *Connection) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limiters[c]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(sendRatePerSec), sendBurst)
		g.limiters[c] = lim
	}
	return lim
}

// wait blocks until the connection's bucket admits n bytes, bounded by a
// short timeout so one stuck peer can't hang the broadcast fan-out
// indefinitely.
func (g *backpressureGate) wait(c *Connection, n int) error {
	lim := g.limiterFor(c)
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	if n <= sendBurst {
		return lim.WaitN(ctx, n)
	}
	for n > 0 {
		chunk := n
		if chunk > sendBurst {
			chunk = sendBurst
		}
		if err := lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func (g *backpressureGate) forget(c *Connection) {
	g.mu.Lock()
	delete(g.limiters, c)
	g.mu.Unlock()
}
