package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/snapdeck/snapdeck-go/internal/browser"
	"github.com/snapdeck/snapdeck-go/internal/types"
)

type fakePool struct {
	stats    types.PoolSnapshot
	counters browser.Counters
}

func (f *fakePool) Stats() types.PoolSnapshot  { return f.stats }
func (f *fakePool) Counters() browser.Counters { return f.counters }

func TestHandlerServesMetrics(t *testing.T) {
	SetBuildInfo("test", "go-test")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"snapdeck_pool_browsers",
		"snapdeck_pool_contexts_active",
		"snapdeck_pool_contexts_opened_total",
		"snapdeck_build_info",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("Metric %s missing from exposition", name)
		}
	}
}

func TestPoolCollectorPublishes(t *testing.T) {
	pool := &fakePool{
		stats: types.PoolSnapshot{
			TotalBrowsers:  2,
			ActiveBrowsers: 1,
			ActiveContexts: 3,
			PendingWaiters: 1,
		},
		counters: browser.Counters{ContextsOpened: 5},
	}

	stopCh := make(chan struct{})
	defer close(stopCh)
	StartPoolCollector(pool, 10*time.Millisecond, stopCh)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest("GET", "/metrics", nil)
		rec := httptest.NewRecorder()
		Handler().ServeHTTP(rec, req)
		if strings.Contains(rec.Body.String(), "snapdeck_pool_browsers 2") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("Collector did not publish pool gauges in time")
}
