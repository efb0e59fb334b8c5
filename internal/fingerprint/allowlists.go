// Package fingerprint generates randomized browser fingerprints and the
// page-initialization script that masks automation indicators.
package fingerprint

import (
	"embed"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed fingerprints.yaml
var defaultAllowlistsFS embed.FS

//go:embed stealth.js
var initScriptTemplate string

// Viewport is a preset screen size before jitter is applied.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// WebGLIdentity is a vendor/renderer pair reported through getParameter.
type WebGLIdentity struct {
	Vendor   string `yaml:"vendor"`
	Renderer string `yaml:"renderer"`
}

// Allowlists contains the pools the generator draws from.
type Allowlists struct {
	UserAgents []string        `yaml:"user_agents"`
	Viewports  []Viewport      `yaml:"viewports"`
	Locales    []string        `yaml:"locales"`
	Timezones  []string        `yaml:"timezones"`
	WebGL      []WebGLIdentity `yaml:"webgl"`
}

var (
	instance *Allowlists
	once     sync.Once
	loadErr  error
)

// Get returns the singleton embedded Allowlists instance.
func Get() *Allowlists {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load embedded fingerprint allowlists, using defaults")
			instance = defaultAllowlists()
		}
	})
	return instance
}

// load reads the allowlists from the embedded YAML file.
func load() (*Allowlists, error) {
	data, err := defaultAllowlistsFS.ReadFile("fingerprints.yaml")
	if err != nil {
		return nil, err
	}

	var a Allowlists
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks that every pool has at least one entry.
func (a *Allowlists) Validate() error {
	if len(a.UserAgents) == 0 {
		return errors.New("fingerprint allowlists: no user agents")
	}
	if len(a.Viewports) == 0 {
		return errors.New("fingerprint allowlists: no viewports")
	}
	if len(a.Locales) == 0 {
		return errors.New("fingerprint allowlists: no locales")
	}
	if len(a.Timezones) == 0 {
		return errors.New("fingerprint allowlists: no timezones")
	}
	if len(a.WebGL) == 0 {
		return errors.New("fingerprint allowlists: no WebGL identities")
	}
	for _, v := range a.Viewports {
		if v.Width <= 0 || v.Height <= 0 {
			return errors.New("fingerprint allowlists: viewport with non-positive dimensions")
		}
	}
	return nil
}

// defaultAllowlists is the fallback if the embedded file cannot be parsed.
// Kept minimal; the embedded YAML is the real source of truth.
func defaultAllowlists() *Allowlists {
	return &Allowlists{
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
		},
		Viewports: []Viewport{{Width: 1920, Height: 1080}},
		Locales:   []string{"en-US"},
		Timezones: []string{"America/New_York"},
		WebGL: []WebGLIdentity{
			{Vendor: "Intel Inc.", Renderer: "Intel Iris OpenGL Engine"},
		},
	}
}
