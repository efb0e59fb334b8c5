// Package browser provides the browser context pool: a bounded, multi-tenant
// pool that multiplexes isolated browsing contexts over a fleet of headless
// browser processes.
package browser

import (
	"context"

	"github.com/snapdeck/snapdeck-go/internal/fingerprint"
)

// LaunchOptions control how a browser process is started.
type LaunchOptions struct {
	Headless    bool
	NoSandbox   bool
	BrowserPath string
}

// Driver abstracts the underlying browser automation layer. The pool state
// machine only ever talks to these interfaces, which keeps it exercisable
// without real browser processes.
type Driver interface {
	// Launch starts a new browser process and returns a supervisor for it.
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is one running browser process.
type Browser interface {
	// NewContext creates an isolated browsing context configured with the
	// given fingerprint profile. Contexts share no cookies, storage, or
	// JavaScript state with each other.
	NewContext(ctx context.Context, profile *fingerprint.Profile) (BrowserContext, error)

	// Close terminates the browser process.
	Close() error

	// Disconnected is closed when the browser process dies or the control
	// connection is lost.
	Disconnected() <-chan struct{}
}

// BrowserContext is one isolated browsing context.
type BrowserContext interface {
	// NewPage opens a page inside the context. The context's init script and
	// fingerprint settings apply before any page script runs.
	NewPage(ctx context.Context) (Page, error)

	// Close disposes the context and every page in it.
	Close() error
}

// Page is a single page usable for navigation and capture operations.
type Page interface {
	Navigate(url string) error
	Close() error
}
