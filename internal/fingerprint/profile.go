package fingerprint

import (
	"math/rand"
	"strings"
	"sync"
)

// viewportJitterPct is the maximum deviation applied independently to the
// preset width and height.
const viewportJitterPct = 5

// Fixed per-context HTTP headers. Accept-Language is derived from the locale.
var baseHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Encoding":           "gzip, deflate, br",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Upgrade-Insecure-Requests": "1",
}

// Geolocation is an emulated position for a context.
type Geolocation struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Credentials are HTTP basic-auth credentials presented by a context.
type Credentials struct {
	Username string
	Password string
}

// Profile is an immutable randomized fingerprint applied to one context.
type Profile struct {
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	DeviceScaleFactor float64
	Mobile            bool
	HasTouch          bool
	Locale            string
	Timezone          string
	WebGLVendor       string
	WebGLRenderer     string
	Headers           map[string]string
	InitScript        string

	// Per-request extras carried through from overrides
	HTTPCredentials *Credentials
	Offline         bool
	Permissions     []string
	Geolocation     *Geolocation
	ProxyURL        string
}

// Overrides replace generated values for any field they set.
type Overrides struct {
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	DeviceScaleFactor float64
	Mobile            bool
	HasTouch          bool
	Locale            string
	Timezone          string
	ExtraHeaders      map[string]string
	HTTPCredentials   *Credentials
	Offline           bool
	Permissions       []string
	Geolocation       *Geolocation
	ProxyURL          string
}

// Generator produces profiles from a random source and the current
// allowlists. It is safe for concurrent use.
type Generator struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	lists *Manager
}

// NewGenerator creates a Generator drawing from the given random source and
// allowlist manager.
func NewGenerator(src rand.Source, lists *Manager) *Generator {
	return &Generator{
		rnd:   rand.New(src),
		lists: lists,
	}
}

// Generate produces a fresh profile. Overrides (may be nil) replace any
// generated field.
func (g *Generator) Generate(ov *Overrides) *Profile {
	lists := g.lists.Get()

	g.mu.Lock()
	ua := lists.UserAgents[g.rnd.Intn(len(lists.UserAgents))]
	vp := lists.Viewports[g.rnd.Intn(len(lists.Viewports))]
	locale := lists.Locales[g.rnd.Intn(len(lists.Locales))]
	tz := lists.Timezones[g.rnd.Intn(len(lists.Timezones))]
	gl := lists.WebGL[g.rnd.Intn(len(lists.WebGL))]
	width := jitter(g.rnd, vp.Width)
	height := jitter(g.rnd, vp.Height)
	g.mu.Unlock()

	p := &Profile{
		UserAgent:         ua,
		ViewportWidth:     width,
		ViewportHeight:    height,
		DeviceScaleFactor: 1.0,
		Locale:            locale,
		Timezone:          tz,
		WebGLVendor:       gl.Vendor,
		WebGLRenderer:     gl.Renderer,
	}

	if ov != nil {
		p.applyOverrides(ov)
	}

	p.Headers = headersForLocale(p.Locale)
	if ov != nil {
		for k, v := range ov.ExtraHeaders {
			p.Headers[k] = v
		}
	}

	p.InitScript = renderInitScript(p.WebGLVendor, p.WebGLRenderer)

	return p
}

func (p *Profile) applyOverrides(ov *Overrides) {
	if ov.UserAgent != "" {
		p.UserAgent = ov.UserAgent
	}
	if ov.ViewportWidth > 0 {
		p.ViewportWidth = ov.ViewportWidth
	}
	if ov.ViewportHeight > 0 {
		p.ViewportHeight = ov.ViewportHeight
	}
	if ov.DeviceScaleFactor > 0 {
		p.DeviceScaleFactor = ov.DeviceScaleFactor
	}
	if ov.Mobile {
		p.Mobile = true
	}
	if ov.HasTouch {
		p.HasTouch = true
	}
	if ov.Locale != "" {
		p.Locale = ov.Locale
	}
	if ov.Timezone != "" {
		p.Timezone = ov.Timezone
	}
	if ov.HTTPCredentials != nil {
		p.HTTPCredentials = ov.HTTPCredentials
	}
	if ov.Offline {
		p.Offline = true
	}
	if len(ov.Permissions) > 0 {
		p.Permissions = ov.Permissions
	}
	if ov.Geolocation != nil {
		p.Geolocation = ov.Geolocation
	}
	if ov.ProxyURL != "" {
		p.ProxyURL = ov.ProxyURL
	}
}

// jitter applies an independent ±viewportJitterPct% integer deviation.
func jitter(rnd *rand.Rand, v int) int {
	span := v * viewportJitterPct / 100
	if span == 0 {
		return v
	}
	return v + rnd.Intn(2*span+1) - span
}

// headersForLocale builds the fixed header set with Accept-Language tracking
// the locale, e.g. "de-DE" yields "de-DE,de;q=0.9".
func headersForLocale(locale string) map[string]string {
	headers := make(map[string]string, len(baseHeaders)+1)
	for k, v := range baseHeaders {
		headers[k] = v
	}

	lang := locale
	if idx := strings.IndexByte(locale, '-'); idx > 0 {
		lang = locale[:idx]
	}
	headers["Accept-Language"] = locale + "," + lang + ";q=0.9"

	return headers
}

// renderInitScript substitutes the chosen WebGL identity into the embedded
// init script. The script is otherwise a fixed asset.
func renderInitScript(vendor, renderer string) string {
	script := strings.ReplaceAll(initScriptTemplate, "__WEBGL_VENDOR__", escapeJSString(vendor))
	return strings.ReplaceAll(script, "__WEBGL_RENDERER__", escapeJSString(renderer))
}

// escapeJSString escapes characters that would break out of a single-quoted
// JavaScript string literal.
func escapeJSString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}
