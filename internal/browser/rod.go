package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/snapdeck/snapdeck-go/internal/fingerprint"
	"github.com/snapdeck/snapdeck-go/internal/security"
)

// How often the liveness poller probes the browser process.
const livenessPollInterval = 5 * time.Second

// RodDriver is the production Driver backed by go-rod.
type RodDriver struct{}

// NewRodDriver creates the production driver.
func NewRodDriver() *RodDriver {
	return &RodDriver{}
}

// Launch starts a browser process with the fixed launch flag set and connects
// to it over CDP.
func (d *RodDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	l := createLauncher(opts)

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	rb := &rodBrowser{
		browser:      b,
		disconnected: make(chan struct{}),
		stopCh:       make(chan struct{}),
	}
	rb.wg.Add(1)
	go rb.pollLiveness()

	log.Debug().Str("url", url).Msg("Browser spawned successfully")
	return rb, nil
}

// createLauncher builds the Rod launcher with the fixed flag set. The flags
// keep the process from advertising automation and stay stable across
// environments so every handle in the fleet behaves identically.
func createLauncher(opts LaunchOptions) *launcher.Launcher {
	l := launcher.New()

	if opts.BrowserPath != "" {
		l = l.Bin(opts.BrowserPath)
	}

	if opts.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	// Container flags
	if opts.NoSandbox {
		l = l.NoSandbox(true).
			Set("disable-setuid-sandbox")
	}
	l = l.Set("disable-dev-shm-usage")

	// Anti-detection: keep navigator.webdriver and friends quiet
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")
	l = l.Set("disable-features", "Translate,TranslateUI")

	// Quiet background behavior
	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("mute-audio")

	return l
}

// rodBrowser supervises one rod browser process.
type rodBrowser struct {
	browser      *rod.Browser
	disconnected chan struct{}
	stopCh       chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
	discOnce     sync.Once
}

// pollLiveness probes the browser until it dies or the supervisor is closed.
// A failed probe marks the browser disconnected; the pool treats that as a
// crash.
func (b *rodBrowser) pollLiveness() {
	defer b.wg.Done()

	ticker := time.NewTicker(livenessPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			if _, err := (proto.BrowserGetVersion{}).Call(b.browser); err != nil {
				log.Debug().Err(err).Msg("Browser liveness probe failed")
				b.discOnce.Do(func() { close(b.disconnected) })
				return
			}
		}
	}
}

// Disconnected implements Browser.
func (b *rodBrowser) Disconnected() <-chan struct{} {
	return b.disconnected
}

// Close implements Browser.
func (b *rodBrowser) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stopCh)
		err = b.browser.Close()
		b.wg.Wait()
	})
	return err
}

// NewContext implements Browser. It creates an isolated browser context and
// remembers the profile so pages opened later inherit it.
func (b *rodBrowser) NewContext(ctx context.Context, profile *fingerprint.Profile) (BrowserContext, error) {
	create := proto.TargetCreateBrowserContext{}
	if profile.ProxyURL != "" {
		create.ProxyServer = profile.ProxyURL
		log.Debug().
			Str("proxy", security.RedactProxyURL(profile.ProxyURL)).
			Msg("Creating context with proxy override")
	}

	res, err := create.Call(b.browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	// Clone the client bound to the new context, the same way Incognito does.
	scoped := *b.browser
	scoped.BrowserContextID = res.BrowserContextID

	if len(profile.Permissions) > 0 {
		if err := grantPermissions(b.browser, res.BrowserContextID, profile.Permissions); err != nil {
			log.Warn().Err(err).Msg("Failed to grant context permissions")
		}
	}

	return &rodContext{
		browser:   b.browser,
		scoped:    &scoped,
		contextID: res.BrowserContextID,
		profile:   profile,
	}, nil
}

// rodContext is one isolated browser context plus the profile it carries.
type rodContext struct {
	browser   *rod.Browser
	scoped    *rod.Browser
	contextID proto.BrowserBrowserContextID
	profile   *fingerprint.Profile
}

// NewPage implements BrowserContext. The stealth base layer and the profile
// (user agent, viewport, headers, emulation, init script) are all applied
// before the page is handed out, so nothing the caller does can race them.
func (c *rodContext) NewPage(ctx context.Context) (Page, error) {
	page, err := stealth.Page(c.scoped)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if ctx != nil {
		page = page.Context(ctx)
	}

	if err := c.applyProfile(page); err != nil {
		_ = page.Close()
		return nil, err
	}

	verifyStealth(page)

	return &rodPage{page: page}, nil
}

// applyProfile configures the page with the context's fingerprint profile.
func (c *rodContext) applyProfile(page *rod.Page) error {
	p := c.profile

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      p.UserAgent,
		AcceptLanguage: p.Headers["Accept-Language"],
	}); err != nil {
		return fmt.Errorf("failed to set user agent: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             p.ViewportWidth,
		Height:            p.ViewportHeight,
		DeviceScaleFactor: p.DeviceScaleFactor,
		Mobile:            p.Mobile,
	}); err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}

	if p.HasTouch {
		maxTouchPoints := 5
		if err := (proto.EmulationSetTouchEmulationEnabled{
			Enabled:        true,
			MaxTouchPoints: &maxTouchPoints,
		}).Call(page); err != nil {
			log.Warn().Err(err).Msg("Failed to enable touch emulation")
		}
	}

	headers := make(proto.NetworkHeaders, len(p.Headers)+1)
	for name, value := range p.Headers {
		headers[name] = gson.New(value)
	}
	if p.HTTPCredentials != nil {
		basic := base64.StdEncoding.EncodeToString(
			[]byte(p.HTTPCredentials.Username + ":" + p.HTTPCredentials.Password))
		headers["Authorization"] = gson.New("Basic " + basic)
	}
	if err := (proto.NetworkSetExtraHTTPHeaders{Headers: headers}).Call(page); err != nil {
		return fmt.Errorf("failed to set extra headers: %w", err)
	}

	if err := (proto.EmulationSetLocaleOverride{Locale: p.Locale}).Call(page); err != nil {
		log.Warn().Err(err).Str("locale", p.Locale).Msg("Failed to set locale override")
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: p.Timezone}).Call(page); err != nil {
		log.Warn().Err(err).Str("timezone", p.Timezone).Msg("Failed to set timezone override")
	}

	if p.Geolocation != nil {
		latitude := p.Geolocation.Latitude
		longitude := p.Geolocation.Longitude
		accuracy := p.Geolocation.Accuracy
		if err := (proto.EmulationSetGeolocationOverride{
			Latitude:  &latitude,
			Longitude: &longitude,
			Accuracy:  &accuracy,
		}).Call(page); err != nil {
			log.Warn().Err(err).Msg("Failed to set geolocation override")
		}
	}

	if p.Offline {
		if err := (proto.NetworkEmulateNetworkConditions{
			Offline:            true,
			Latency:            0,
			DownloadThroughput: -1,
			UploadThroughput:   -1,
		}).Call(page); err != nil {
			log.Warn().Err(err).Msg("Failed to enable offline emulation")
		}
	}

	// The fingerprint init script runs before any page script on every
	// navigation.
	if _, err := (proto.PageAddScriptToEvaluateOnNewDocument{
		Source: p.InitScript,
	}).Call(page); err != nil {
		return fmt.Errorf("failed to register init script: %w", err)
	}

	return nil
}

// verifyStealth samples a few masked surfaces and logs the outcome. Failures
// are diagnostic only.
func verifyStealth(page *rod.Page) {
	res, err := page.Eval(`() => ({
		webdriverHidden: navigator.webdriver === undefined,
		pluginCount: navigator.plugins.length,
	})`)
	if err != nil {
		log.Debug().Err(err).Msg("Stealth verification eval failed")
		return
	}

	log.Debug().
		Bool("webdriver_hidden", res.Value.Get("webdriverHidden").Bool()).
		Int("plugin_count", res.Value.Get("pluginCount").Int()).
		Msg("Stealth verification")
}

// Close implements BrowserContext by disposing the whole context.
func (c *rodContext) Close() error {
	return proto.TargetDisposeBrowserContext{
		BrowserContextID: c.contextID,
	}.Call(c.browser)
}

// rodPage adapts a rod page to the Page interface.
type rodPage struct {
	page *rod.Page
}

// Rod exposes the underlying rod page for capture operations.
func (p *rodPage) Rod() *rod.Page {
	return p.page
}

func (p *rodPage) Navigate(url string) error {
	return p.page.Navigate(url)
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

// grantPermissions maps profile permission names onto CDP permission types
// and grants them for the context. Unknown names are skipped.
func grantPermissions(b *rod.Browser, id proto.BrowserBrowserContextID, names []string) error {
	known := map[string]proto.BrowserPermissionType{
		"geolocation":          proto.BrowserPermissionTypeGeolocation,
		"notifications":        proto.BrowserPermissionTypeNotifications,
		"clipboard-read":       proto.BrowserPermissionTypeClipboardReadWrite,
		"clipboard-write":      proto.BrowserPermissionTypeClipboardSanitizedWrite,
		"background-sync":      proto.BrowserPermissionTypeBackgroundSync,
		"midi":                 proto.BrowserPermissionTypeMidi,
		"payment-handler":      proto.BrowserPermissionTypePaymentHandler,
		"persistent-storage":   proto.BrowserPermissionTypeDurableStorage,
		"ambient-light-sensor": proto.BrowserPermissionTypeSensors,
	}

	granted := make([]proto.BrowserPermissionType, 0, len(names))
	for _, name := range names {
		perm, ok := known[name]
		if !ok {
			log.Warn().Str("permission", name).Msg("Unknown permission name, skipping")
			continue
		}
		granted = append(granted, perm)
	}
	if len(granted) == 0 {
		return nil
	}

	return proto.BrowserGrantPermissions{
		Permissions:      granted,
		BrowserContextID: id,
	}.Call(b)
}
