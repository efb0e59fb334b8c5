// Package integration exercises the assembled stack: configuration,
// fingerprint generation, the context pool, and the HTTP surface.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/snapdeck/snapdeck-go/internal/browser"
	"github.com/snapdeck/snapdeck-go/internal/config"
	"github.com/snapdeck/snapdeck-go/internal/fingerprint"
	"github.com/snapdeck/snapdeck-go/internal/handlers"
	"github.com/snapdeck/snapdeck-go/internal/middleware"
	"github.com/snapdeck/snapdeck-go/internal/types"
)

// stubDriver satisfies browser.Driver without real browser processes.
type stubDriver struct{}

func (stubDriver) Launch(context.Context, browser.LaunchOptions) (browser.Browser, error) {
	return &stubBrowser{disconnected: make(chan struct{})}, nil
}

type stubBrowser struct {
	mu           sync.Mutex
	disconnected chan struct{}
	closed       bool
}

func (b *stubBrowser) NewContext(context.Context, *fingerprint.Profile) (browser.BrowserContext, error) {
	return &stubContext{}, nil
}

func (b *stubBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *stubBrowser) Disconnected() <-chan struct{} { return b.disconnected }

type stubContext struct{}

func (stubContext) NewPage(context.Context) (browser.Page, error) { return stubPage{}, nil }
func (stubContext) Close() error                                  { return nil }

type stubPage struct{}

func (stubPage) Navigate(string) error { return nil }
func (stubPage) Close() error          { return nil }

func newStack(t *testing.T) (*browser.Pool, *httptest.Server) {
	t.Helper()

	cfg := config.Load()
	cfg.Validate()
	cfg.MaxBrowsers = 2
	cfg.MaxContextsPerBrowser = 2
	cfg.WaitTimeout = 500 * time.Millisecond
	cfg.ReaperInterval = 100 * time.Millisecond

	lists, err := fingerprint.NewManager("", false)
	if err != nil {
		t.Fatalf("Failed to create fingerprint manager: %v", err)
	}
	t.Cleanup(func() { lists.Close() })

	pool, err := browser.New(cfg, stubDriver{}, fingerprint.NewGenerator(rand.NewSource(7), lists))
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	handler := middleware.Chain(
		middleware.Recovery,
		middleware.Logging,
	)(handlers.New(pool, cfg))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return pool, srv
}

func TestHealthAndStatsRoundTrip(t *testing.T) {
	pool, srv := newStack(t)

	// A fresh node reports healthy with an empty pool.
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var health types.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if !health.Healthy {
		t.Errorf("Fresh node unhealthy: %+v", health.Issues)
	}

	// Hold two contexts and confirm the stats surface tracks them.
	id1, _, err := pool.AcquireContext(context.Background(), nil)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	id2, _, err := pool.AcquireContext(context.Background(), nil)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	resp, err = http.Get(srv.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats failed: %v", err)
	}
	defer resp.Body.Close()

	var stats types.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.Pool.ActiveContexts != 2 {
		t.Errorf("Expected 2 active contexts in stats, got %d", stats.Pool.ActiveContexts)
	}

	if err := pool.ReleaseContext(id1); err != nil {
		t.Errorf("Release failed: %v", err)
	}
	if err := pool.ReleaseContext(id2); err != nil {
		t.Errorf("Release failed: %v", err)
	}
}

func TestExhaustionSurfacesThroughPool(t *testing.T) {
	pool, _ := newStack(t)
	ctx := context.Background()

	var held []string
	for i := 0; i < 4; i++ {
		id, _, err := pool.AcquireContext(ctx, nil)
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		held = append(held, id)
	}

	// Capacity is 2 browsers x 2 contexts; the fifth acquisition must wait
	// out the bounded wait and fail.
	if _, _, err := pool.AcquireContext(ctx, nil); !errors.Is(err, types.ErrPoolExhausted) {
		t.Fatalf("Expected ErrPoolExhausted, got %v", err)
	}

	for _, id := range held {
		if err := pool.ReleaseContext(id); err != nil {
			t.Errorf("Release failed: %v", err)
		}
	}
}

func TestUnknownPathIs404(t *testing.T) {
	_, srv := newStack(t)

	resp, err := http.Get(srv.URL + "/v1/unknown")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}
