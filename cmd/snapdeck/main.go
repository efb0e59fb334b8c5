// Package main provides the entry point for the snapdeck capture node.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // Import for side effects - registers pprof handlers
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/snapdeck/snapdeck-go/internal/browser"
	"github.com/snapdeck/snapdeck-go/internal/config"
	"github.com/snapdeck/snapdeck-go/internal/fingerprint"
	"github.com/snapdeck/snapdeck-go/internal/handlers"
	"github.com/snapdeck/snapdeck-go/internal/metrics"
	"github.com/snapdeck/snapdeck-go/internal/middleware"
	"github.com/snapdeck/snapdeck-go/pkg/version"
)

func main() {
	// Handle --version flag early, before any initialization
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("snapdeck %s\n", version.Full())
		return
	}

	cfg := config.Load()

	// Setup logging first so validation warnings are visible
	setupLogging(cfg.LogLevel, cfg.LogPretty)

	cfg.Validate()

	printBanner()

	// Fingerprint allowlists, optionally hot-reloaded from an external file
	lists, err := fingerprint.NewManager(cfg.FingerprintsPath, cfg.FingerprintsHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize fingerprint allowlists")
	}
	gen := fingerprint.NewGenerator(rand.NewSource(time.Now().UnixNano()), lists)

	// Browser context pool
	log.Info().Msg("Initializing browser context pool...")
	pool, err := browser.New(cfg, browser.NewRodDriver(), gen)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize browser context pool")
	}

	// Metrics collector
	metricsStop := make(chan struct{})
	if cfg.MetricsEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		metrics.StartPoolCollector(pool, 15*time.Second, metricsStop)
	}

	// HTTP surface: health + stats behind recovery and logging, plus the
	// Prometheus exposition endpoint.
	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", metrics.Handler())
	}
	mux.Handle("/", handlers.New(pool, cfg))

	finalHandler := middleware.Chain(
		middleware.Recovery,
		middleware.Logging,
	)(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           finalHandler,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second, // Prevent slowloris attacks
	}

	// Start pprof server if enabled
	// WARNING: pprof should only be enabled in development/debugging
	// as it exposes detailed runtime information
	var pprofServer *http.Server
	if cfg.PProfEnabled {
		pprofAddr := fmt.Sprintf("%s:%d", cfg.PProfBindAddr, cfg.PProfPort)
		pprofServer = &http.Server{
			Addr:         pprofAddr,
			Handler:      http.DefaultServeMux, // pprof registers to DefaultServeMux
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second, // Profiles can take time
		}

		go func() {
			log.Warn().
				Str("addr", pprofAddr).
				Msg("WARNING: pprof profiling server started - exposes runtime internals, use for debugging only")

			if err := pprofServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	go func() {
		log.Info().
			Str("address", addr).
			Int("max_browsers", cfg.MaxBrowsers).
			Int("max_contexts_per_browser", cfg.MaxContextsPerBrowser).
			Msg("snapdeck is ready")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Stop receiving signals to prevent double-shutdown
	signal.Stop(quit)

	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	if pprofServer != nil {
		if err := pprofServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("pprof server shutdown error")
		}
	}

	close(metricsStop)

	if err := pool.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Browser context pool shutdown error")
	}

	if err := lists.Close(); err != nil {
		log.Error().Err(err).Msg("Fingerprint manager close error")
	}

	log.Info().Msg("Shutdown complete")
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string, pretty bool) {
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
                         _           _
 ___ _ __   __ _ _ __ __| | ___  ___| | __
/ __| '_ \ / _' | '_ \ _' |/ _ \/ __| |/ /
\__ \ | | | (_| | |_) | (_| |  __/ (__|   <
|___/_| |_|\__,_| .__/ \__,_|\___|\___|_|\_\
                |_|
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting snapdeck")
}
