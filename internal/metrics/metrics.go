// Package metrics provides Prometheus metrics for monitoring the pool.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapdeck/snapdeck-go/internal/browser"
	"github.com/snapdeck/snapdeck-go/internal/types"
)

var (
	// PoolBrowsers shows the current number of browser handles.
	PoolBrowsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapdeck_pool_browsers",
			Help: "Current number of browser handles in the pool",
		},
	)

	// PoolBrowsersReady shows handles currently accepting contexts.
	PoolBrowsersReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapdeck_pool_browsers_ready",
			Help: "Browser handles in READY state",
		},
	)

	// PoolContextsActive shows live contexts.
	PoolContextsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapdeck_pool_contexts_active",
			Help: "Currently registered browsing contexts",
		},
	)

	// PoolWaiters shows parked acquisitions.
	PoolWaiters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapdeck_pool_waiters",
			Help: "Acquisitions parked waiting for capacity",
		},
	)

	// PoolOldestBrowserAge shows the age of the oldest handle in seconds.
	PoolOldestBrowserAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapdeck_pool_oldest_browser_age_seconds",
			Help: "Age of the oldest browser handle",
		},
	)

	// ContextsOpened counts contexts opened over the process lifetime.
	ContextsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapdeck_pool_contexts_opened_total",
			Help: "Total browsing contexts opened",
		},
	)

	// ContextsTimedOut counts contexts reclaimed by the reaper.
	ContextsTimedOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapdeck_pool_contexts_timed_out_total",
			Help: "Total contexts reclaimed after exceeding their deadline",
		},
	)

	// BrowsersLaunched counts browser processes launched.
	BrowsersLaunched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapdeck_pool_browsers_launched_total",
			Help: "Total browser processes launched",
		},
	)

	// BrowsersRecycled counts handles retired at the usage threshold.
	BrowsersRecycled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapdeck_pool_browsers_recycled_total",
			Help: "Total browser handles recycled",
		},
	)

	// BrowsersCrashed counts handles lost to browser crashes.
	BrowsersCrashed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapdeck_pool_browsers_crashed_total",
			Help: "Total browser handles removed after a crash",
		},
	)

	// AcquireErrors counts failed acquisitions by any cause.
	AcquireErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapdeck_pool_acquire_errors_total",
			Help: "Total failed context acquisitions",
		},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapdeck_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapdeck_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapdeck_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		PoolBrowsers,
		PoolBrowsersReady,
		PoolContextsActive,
		PoolWaiters,
		PoolOldestBrowserAge,
		ContextsOpened,
		ContextsTimedOut,
		BrowsersLaunched,
		BrowsersRecycled,
		BrowsersCrashed,
		AcquireErrors,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// PoolView is the slice of the pool the collector reads.
type PoolView interface {
	Stats() types.PoolSnapshot
	Counters() browser.Counters
}

// StartPoolCollector starts a goroutine that periodically publishes pool
// state. Counter metrics are advanced by the delta since the previous sample.
func StartPoolCollector(pool PoolView, interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev browser.Counters
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s := pool.Stats()
				PoolBrowsers.Set(float64(s.TotalBrowsers))
				PoolBrowsersReady.Set(float64(s.ActiveBrowsers))
				PoolContextsActive.Set(float64(s.ActiveContexts))
				PoolWaiters.Set(float64(s.PendingWaiters))
				PoolOldestBrowserAge.Set(float64(s.OldestBrowserAgeMillis) / 1000)

				c := pool.Counters()
				ContextsOpened.Add(float64(c.ContextsOpened - prev.ContextsOpened))
				ContextsTimedOut.Add(float64(c.ContextsTimedOut - prev.ContextsTimedOut))
				BrowsersLaunched.Add(float64(c.BrowsersLaunched - prev.BrowsersLaunched))
				BrowsersRecycled.Add(float64(c.BrowsersRecycled - prev.BrowsersRecycled))
				BrowsersCrashed.Add(float64(c.BrowsersCrashed - prev.BrowsersCrashed))
				AcquireErrors.Add(float64(c.AcquireErrors - prev.AcquireErrors))
				prev = c

				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				MemoryUsageBytes.Set(float64(m.Alloc))
				GoroutineCount.Set(float64(runtime.NumGoroutine()))
			}
		}
	}()
}
