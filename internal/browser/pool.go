package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/snapdeck/snapdeck-go/internal/config"
	"github.com/snapdeck/snapdeck-go/internal/fingerprint"
	"github.com/snapdeck/snapdeck-go/internal/security"
	"github.com/snapdeck/snapdeck-go/internal/types"
)

// Pool is the context pool coordinator. It admits acquisition requests,
// selects or spawns browser handles, constructs contexts with fresh
// fingerprint profiles, parks waiters when saturated, runs the reaper, and
// tears everything down on shutdown.
//
// Lock ordering: mu is the single pool-wide lock. Never hold mu while
// performing slow I/O (launching a browser, opening or closing a context);
// reserve a logical slot under the lock, do the I/O, then reacquire to commit
// or roll back.
type Pool struct {
	cfg    *config.Config
	driver Driver
	gen    *fingerprint.Generator

	mu              sync.Mutex
	handles         []*handle
	contexts        map[string]*contextEntry
	crashed         map[string]time.Time // ids orphaned by a crash; release is a no-op success
	waiters         []*waiter            // FIFO by admission time
	pendingLaunches int                  // reserved slots for in-flight browser launches
	nextBrowserID   int64
	closed          bool

	stopCh chan struct{}
	wg     sync.WaitGroup // reaper + crash watchers

	startedAt time.Time

	// Monotonic counters for the metrics collector.
	contextsOpened   atomic.Int64
	contextsTimedOut atomic.Int64
	browsersLaunched atomic.Int64
	browsersRecycled atomic.Int64
	browsersCrashed  atomic.Int64
	acquireErrors    atomic.Int64
}

// contextEntry is the registry record for one live context.
type contextEntry struct {
	id         string
	h          *handle
	bctx       BrowserContext
	acquiredAt time.Time
	deadline   time.Time
}

// waiter is a parked acquisition. Completion happens exactly once, always
// under the pool lock; ch is buffered so completion never blocks.
type waiter struct {
	deadline time.Time
	ch       chan waiterResult
	done     bool
}

type waiterResult struct {
	g   grant
	err error
}

// grant is a reserved slot handed to an acquirer: either a reservation on an
// existing handle or permission to launch a new browser.
type grant struct {
	h     *handle
	spawn bool
}

// New creates a context pool and starts its reaper. The driver performs the
// actual browser automation; the generator supplies fingerprint profiles.
func New(cfg *config.Config, drv Driver, gen *fingerprint.Generator) (*Pool, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if drv == nil {
		return nil, errors.New("nil driver")
	}
	if gen == nil {
		return nil, errors.New("nil fingerprint generator")
	}

	p := &Pool{
		cfg:       cfg,
		driver:    drv,
		gen:       gen,
		contexts:  make(map[string]*contextEntry),
		crashed:   make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		startedAt: time.Now(),
	}

	p.wg.Add(1)
	go p.reaperLoop()

	log.Info().
		Int("max_browsers", cfg.MaxBrowsers).
		Int("max_contexts_per_browser", cfg.MaxContextsPerBrowser).
		Dur("context_timeout", cfg.ContextTimeout).
		Dur("wait_timeout", cfg.WaitTimeout).
		Int64("recycle_uses", cfg.RecycleUses).
		Msg("Browser context pool initialized")

	return p, nil
}

// AcquireContext returns a fresh isolated context and its id. When every
// handle is saturated and the browser cap is reached, the call parks up to
// WaitTimeout before failing with ErrPoolExhausted. The caller must release
// the id exactly once; the reaper reclaims contexts that outlive
// ContextTimeout.
func (p *Pool) AcquireContext(ctx context.Context, ov *fingerprint.Overrides) (string, BrowserContext, error) {
	if ov != nil && ov.ProxyURL != "" {
		if err := security.ValidateProxyURL(ov.ProxyURL, false); err != nil {
			p.acquireErrors.Add(1)
			return "", nil, fmt.Errorf("%w: %v", types.ErrInvalidProxyURL, err)
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", nil, types.ErrPoolShuttingDown
	}

	g, ok := p.reserveLocked()
	if ok {
		p.mu.Unlock()
		return p.openOnGrant(ctx, g, ov)
	}

	// Saturated: park FIFO until a release, the reaper, or the deadline.
	w := &waiter{
		deadline: time.Now().Add(p.cfg.WaitTimeout),
		ch:       make(chan waiterResult, 1),
	}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	log.Debug().
		Dur("wait_timeout", p.cfg.WaitTimeout).
		Msg("Pool saturated, waiting for capacity")

	timer := time.NewTimer(p.cfg.WaitTimeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		if res.err != nil {
			p.acquireErrors.Add(1)
			return "", nil, res.err
		}
		return p.openOnGrant(ctx, res.g, ov)

	case <-timer.C:
		if res, completed := p.abandonWaiter(w); completed {
			if res.err != nil {
				p.acquireErrors.Add(1)
				return "", nil, res.err
			}
			// A grant raced the timer; use it rather than waste the slot.
			return p.openOnGrant(ctx, res.g, ov)
		}
		p.acquireErrors.Add(1)
		return "", nil, types.ErrPoolExhausted

	case <-ctx.Done():
		if res, completed := p.abandonWaiter(w); completed && res.err == nil {
			p.rollbackGrant(res.g)
		}
		p.acquireErrors.Add(1)
		return "", nil, fmt.Errorf("%w: %v", types.ErrAcquireCanceled, ctx.Err())
	}
}

// AcquirePage acquires a context and opens one page inside it. The page
// inherits the context's fingerprint and init script.
func (p *Pool) AcquirePage(ctx context.Context, ov *fingerprint.Overrides) (Page, string, error) {
	id, bctx, err := p.AcquireContext(ctx, ov)
	if err != nil {
		return nil, "", err
	}

	page, err := bctx.NewPage(ctx)
	if err != nil {
		if relErr := p.ReleaseContext(id); relErr != nil {
			log.Warn().Err(relErr).Str("context_id", id).Msg("Failed to release context after page open failure")
		}
		p.acquireErrors.Add(1)
		return nil, "", &types.PoolError{
			Operation: "page",
			ContextID: id,
			Message:   "Failed to open page in context",
			Err:       errors.Join(types.ErrContextOpenFailed, err),
		}
	}

	return page, id, nil
}

// ReleaseContext returns a context to the pool. The id must be one previously
// issued and not yet released: a second release of the same id reports
// ErrUnknownContext. Errors closing the underlying context are logged, never
// surfaced; once the id is recognized the bookkeeping always reconciles.
func (p *Pool) ReleaseContext(id string) error {
	return p.release(id, false)
}

func (p *Pool) release(id string, timedOut bool) error {
	p.mu.Lock()
	e, ok := p.contexts[id]
	if !ok {
		if _, wasCrashed := p.crashed[id]; wasCrashed {
			// The owning browser crashed underneath the caller; its context is
			// already gone, so the release succeeds as a no-op.
			delete(p.crashed, id)
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
		return types.ErrUnknownContext
	}
	delete(p.contexts, id)
	h := e.h
	p.mu.Unlock()

	if err := e.bctx.Close(); err != nil {
		log.Warn().
			Err(err).
			Str("context_id", id).
			Int64("browser_id", h.id).
			Msg("Error closing context, bookkeeping reconciled anyway")
	}

	p.mu.Lock()
	h.active--
	toClose := p.reconcileLocked()
	p.mu.Unlock()

	p.closeHandles(toClose)

	if timedOut {
		p.contextsTimedOut.Add(1)
		log.Warn().
			Str("context_id", id).
			Dur("timeout", p.cfg.ContextTimeout).
			Msg("Context exceeded its deadline and was reclaimed")
	} else {
		log.Debug().
			Str("context_id", id).
			Int64("browser_id", h.id).
			Msg("Context released")
	}

	return nil
}

// Shutdown rejects new acquisitions, completes every waiter with
// ErrPoolShuttingDown, closes all browsers, and clears the registries. It
// blocks until teardown finishes or ctx expires. Safe to call multiple times.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	for _, w := range p.waiters {
		if !w.done {
			w.done = true
			w.ch <- waiterResult{err: types.ErrPoolShuttingDown}
		}
	}
	p.waiters = nil

	handles := make([]*handle, len(p.handles))
	copy(handles, p.handles)
	p.handles = nil
	for _, h := range handles {
		h.state = handleDead
	}

	contextCount := len(p.contexts)
	p.contexts = make(map[string]*contextEntry)
	p.crashed = make(map[string]time.Time)
	p.mu.Unlock()

	log.Info().
		Int("browsers", len(handles)).
		Int("contexts", contextCount).
		Msg("Shutting down browser context pool")

	close(p.stopCh)

	// Close browsers in parallel, bounded to avoid a teardown stampede.
	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, h := range handles {
		h := h
		eg.Go(func() error {
			if err := h.browser.Close(); err != nil {
				log.Warn().Err(err).Int64("browser_id", h.id).Msg("Error closing browser during shutdown")
				return err
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		closeErr := eg.Wait()
		p.wg.Wait()
		done <- closeErr
	}()

	select {
	case err := <-done:
		log.Info().Msg("Browser context pool shut down")
		return err
	case <-ctx.Done():
		log.Warn().Msg("Pool shutdown timed out, some browsers may still be closing")
		return ctx.Err()
	}
}

// reserveLocked runs the selection policy and reserves a slot if possible:
// (1) the READY handle with the fewest active contexts and spare capacity,
// lowest id on ties; (2) a spawn grant when the handle cap has room;
// (3) nothing.
func (p *Pool) reserveLocked() (grant, bool) {
	var best *handle
	for _, h := range p.handles {
		if h.state != handleReady || h.active >= p.cfg.MaxContextsPerBrowser {
			continue
		}
		if best == nil || h.active < best.active {
			best = h
		}
	}
	if best != nil {
		best.active++
		return grant{h: best}, true
	}

	if len(p.handles)+p.pendingLaunches < p.cfg.MaxBrowsers {
		p.pendingLaunches++
		return grant{spawn: true}, true
	}

	return grant{}, false
}

// openOnGrant turns a reserved slot into a registered context. All I/O
// happens outside the lock; the reservation is rolled back on any failure.
func (p *Pool) openOnGrant(ctx context.Context, g grant, ov *fingerprint.Overrides) (string, BrowserContext, error) {
	h := g.h

	if g.spawn {
		b, err := p.driver.Launch(ctx, LaunchOptions{
			Headless:    p.cfg.Headless,
			NoSandbox:   p.cfg.NoSandbox,
			BrowserPath: p.cfg.BrowserPath,
		})

		p.mu.Lock()
		p.pendingLaunches--
		if err != nil {
			p.wakeWaitersLocked()
			p.mu.Unlock()
			p.acquireErrors.Add(1)
			log.Error().Err(err).Msg("Browser launch failed")
			return "", nil, types.NewLaunchError(err.Error(), err)
		}
		if p.closed {
			p.mu.Unlock()
			_ = b.Close()
			return "", nil, types.ErrPoolShuttingDown
		}
		p.nextBrowserID++
		h = newHandle(p.nextBrowserID, b)
		h.active = 1 // this acquisition's reservation
		p.handles = append(p.handles, h)
		// The new handle may have spare capacity beyond this reservation.
		p.wakeWaitersLocked()
		p.mu.Unlock()

		p.browsersLaunched.Add(1)
		p.watchCrash(h)

		log.Info().Int64("browser_id", h.id).Msg("New browser handle created")
	}

	profile := p.gen.Generate(ov)

	bctx, err := h.browser.NewContext(ctx, profile)

	p.mu.Lock()
	if err != nil {
		h.active--
		h.openFailures++
		if h.openFailures >= maxConsecutiveOpenFailures && h.state == handleReady {
			h.state = handleDraining
			log.Warn().
				Int64("browser_id", h.id).
				Int("failures", h.openFailures).
				Msg("Handle draining after consecutive context-open failures")
		}
		toClose := p.reconcileLocked()
		p.mu.Unlock()

		p.closeHandles(toClose)
		p.acquireErrors.Add(1)
		return "", nil, types.NewContextOpenError(h.id, err)
	}

	if p.closed || h.state == handleDead {
		// Shutdown or a crash raced the open; the context is not usable.
		h.active--
		closed := p.closed
		p.mu.Unlock()

		_ = bctx.Close()
		if closed {
			return "", nil, types.ErrPoolShuttingDown
		}
		p.acquireErrors.Add(1)
		return "", nil, types.ErrBrowserCrashed
	}

	h.openFailures = 0
	h.usage++
	now := time.Now()
	e := &contextEntry{
		id:         h.nextContextID(),
		h:          h,
		bctx:       bctx,
		acquiredAt: now,
		deadline:   now.Add(p.cfg.ContextTimeout),
	}
	p.contexts[e.id] = e
	p.mu.Unlock()

	p.contextsOpened.Add(1)
	log.Debug().
		Str("context_id", e.id).
		Int64("browser_id", h.id).
		Msg("Context acquired")

	return e.id, bctx, nil
}

// rollbackGrant undoes a reservation that will not be used.
func (p *Pool) rollbackGrant(g grant) {
	p.mu.Lock()
	if g.spawn {
		p.pendingLaunches--
	} else if g.h != nil {
		g.h.active--
	}
	p.wakeWaitersLocked()
	p.mu.Unlock()
}

// abandonWaiter removes a timed-out or canceled waiter from the queue. If
// the waiter was completed concurrently, its result is returned so the
// caller can decide to use the grant or surface the error.
func (p *Pool) abandonWaiter(w *waiter) (waiterResult, bool) {
	p.mu.Lock()
	if w.done {
		p.mu.Unlock()
		// Completion already sent; the buffered channel holds the result.
		return <-w.ch, true
	}
	w.done = true
	for i, queued := range p.waiters {
		if queued == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	return waiterResult{}, false
}

// reconcileLocked is the post-release critical section: it retires handles
// that hit the recycle threshold or finished draining, drops dead handles,
// and wakes waiters FIFO. Returns browsers to close outside the lock.
func (p *Pool) reconcileLocked() []Browser {
	var toClose []Browser
	keep := p.handles[:0]
	for _, h := range p.handles {
		switch {
		case h.state == handleDead:
			// Crash path already owns the teardown.
		case h.active == 0 && h.state == handleDraining:
			h.state = handleDead
			toClose = append(toClose, h.browser)
			log.Info().Int64("browser_id", h.id).Msg("Drained browser handle retired")
		case h.active == 0 && h.usage >= p.cfg.RecycleUses:
			h.state = handleDead
			toClose = append(toClose, h.browser)
			p.browsersRecycled.Add(1)
			log.Info().
				Int64("browser_id", h.id).
				Int64("usage", h.usage).
				Msg("Browser handle recycled after reaching usage threshold")
		default:
			keep = append(keep, h)
		}
	}
	p.handles = keep

	p.wakeWaitersLocked()
	return toClose
}

// wakeWaitersLocked completes waiters FIFO while capacity lasts. A waiter
// whose deadline has passed is failed in place. Stops at the first waiter the
// pool cannot serve, preserving admission order.
func (p *Pool) wakeWaitersLocked() {
	now := time.Now()
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		if w.done {
			p.waiters = p.waiters[1:]
			continue
		}
		if now.After(w.deadline) {
			w.done = true
			w.ch <- waiterResult{err: types.ErrPoolExhausted}
			p.waiters = p.waiters[1:]
			continue
		}
		g, ok := p.reserveLocked()
		if !ok {
			return
		}
		w.done = true
		w.ch <- waiterResult{g: g}
		p.waiters = p.waiters[1:]
	}
}

// closeHandles closes retired browsers outside the lock.
func (p *Pool) closeHandles(browsers []Browser) {
	for _, b := range browsers {
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing retired browser")
		}
	}
}

// watchCrash monitors a handle's browser for disconnection.
func (p *Pool) watchCrash(h *handle) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-h.browser.Disconnected():
			p.onCrash(h)
		case <-p.stopCh:
		}
	}()
}

// onCrash removes a dead handle, orphans its contexts so later releases
// succeed as no-ops, and wakes waiters now that a browser slot is free.
func (p *Pool) onCrash(h *handle) {
	p.mu.Lock()
	if p.closed || h.state == handleDead {
		p.mu.Unlock()
		return
	}
	h.state = handleDead

	now := time.Now()
	orphaned := 0
	for id, e := range p.contexts {
		if e.h == h {
			delete(p.contexts, id)
			p.crashed[id] = now
			orphaned++
		}
	}

	for i, other := range p.handles {
		if other == h {
			p.handles = append(p.handles[:i], p.handles[i+1:]...)
			break
		}
	}
	p.wakeWaitersLocked()
	p.mu.Unlock()

	p.browsersCrashed.Add(1)
	log.Warn().
		Int64("browser_id", h.id).
		Int("orphaned_contexts", orphaned).
		Msg("Browser disconnected, handle removed from pool")

	if err := h.browser.Close(); err != nil {
		log.Debug().Err(err).Int64("browser_id", h.id).Msg("Error closing crashed browser")
	}
}

// reaperLoop wakes every ReaperInterval to enforce deadlines and pool
// hygiene.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reap()
		}
	}
}

// reap synthesizes releases for expired contexts, fails expired waiters,
// retires eligible handles, and prunes stale crash records.
func (p *Pool) reap() {
	now := time.Now()

	p.mu.Lock()
	var expired []string
	for id, e := range p.contexts {
		if now.After(e.deadline) {
			expired = append(expired, id)
		}
	}

	remaining := p.waiters[:0]
	for _, w := range p.waiters {
		if w.done {
			continue
		}
		if now.After(w.deadline) {
			w.done = true
			w.ch <- waiterResult{err: types.ErrPoolExhausted}
			continue
		}
		remaining = append(remaining, w)
	}
	p.waiters = remaining

	toClose := p.reconcileLocked()

	for id, t := range p.crashed {
		if now.Sub(t) > p.cfg.ContextTimeout {
			delete(p.crashed, id)
		}
	}
	p.mu.Unlock()

	p.closeHandles(toClose)

	for _, id := range expired {
		// Same path as an explicit release, flagged as timeout-driven.
		if err := p.release(id, true); err != nil && !errors.Is(err, types.ErrUnknownContext) {
			log.Warn().Err(err).Str("context_id", id).Msg("Reaper failed to reclaim context")
		}
	}
}
