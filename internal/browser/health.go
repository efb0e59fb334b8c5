package browser

import (
	"fmt"
	"time"

	"github.com/snapdeck/snapdeck-go/internal/types"
)

// Health is the result of a pool health check.
type Health struct {
	Healthy bool
	Issues  []string
	Stats   types.PoolSnapshot
}

// Counters is a snapshot of the pool's monotonic event counters.
type Counters struct {
	ContextsOpened   int64
	ContextsTimedOut int64
	BrowsersLaunched int64
	BrowsersRecycled int64
	BrowsersCrashed  int64
	AcquireErrors    int64
}

// Stats returns a point-in-time snapshot of pool state.
func (p *Pool) Stats() types.PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked(time.Now())
}

func (p *Pool) statsLocked(now time.Time) types.PoolSnapshot {
	s := types.PoolSnapshot{
		TotalBrowsers:  len(p.handles),
		TotalContexts:  len(p.contexts),
		ActiveContexts: len(p.contexts),
		PendingWaiters: len(p.waiters),
	}

	var oldest time.Duration
	for _, h := range p.handles {
		if h.state == handleReady {
			s.ActiveBrowsers++
		}
		s.TotalUsageCount += h.usage
		if age := now.Sub(h.createdAt); age > oldest {
			oldest = age
		}
	}
	s.OldestBrowserAgeMillis = oldest.Milliseconds()

	if len(p.handles) > 0 {
		s.AverageContextsPerBrowser = float64(len(p.contexts)) / float64(len(p.handles))
	}

	return s
}

// CheckHealth evaluates the pool against its watchdog conditions:
// no context registered longer than twice the context timeout (the reaper
// should have reclaimed it long before), no handle past the browser age
// limit, and the ability to serve at least one acquisition.
func (p *Pool) CheckHealth() Health {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	h := Health{
		Healthy: true,
		Stats:   p.statsLocked(now),
	}

	stuckLimit := 2 * p.cfg.ContextTimeout
	for id, e := range p.contexts {
		if now.Sub(e.acquiredAt) > stuckLimit {
			h.Healthy = false
			h.Issues = append(h.Issues, fmt.Sprintf(
				"context %s registered for %s, exceeds %s (reaper may be stalled)",
				id, now.Sub(e.acquiredAt).Round(time.Second), stuckLimit))
		}
	}

	for _, hd := range p.handles {
		if age := now.Sub(hd.createdAt); age > p.cfg.MaxBrowserAge {
			h.Healthy = false
			h.Issues = append(h.Issues, fmt.Sprintf(
				"browser %d is %s old, exceeds age limit %s",
				hd.id, age.Round(time.Second), p.cfg.MaxBrowserAge))
		}
	}

	canCreate := !p.closed && len(p.handles)+p.pendingLaunches < p.cfg.MaxBrowsers
	if len(p.handles) == 0 && !canCreate {
		h.Healthy = false
		h.Issues = append(h.Issues, "no browser handles and handle creation is not possible")
	}

	return h
}

// Counters returns the pool's monotonic event counters.
func (p *Pool) Counters() Counters {
	return Counters{
		ContextsOpened:   p.contextsOpened.Load(),
		ContextsTimedOut: p.contextsTimedOut.Load(),
		BrowsersLaunched: p.browsersLaunched.Load(),
		BrowsersRecycled: p.browsersRecycled.Load(),
		BrowsersCrashed:  p.browsersCrashed.Load(),
		AcquireErrors:    p.acquireErrors.Load(),
	}
}

// StartedAt reports when the pool was created.
func (p *Pool) StartedAt() time.Time {
	return p.startedAt
}
