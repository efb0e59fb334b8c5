package security

import (
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// Proxy validation errors.
var (
	ErrProxyEmptyURL        = errors.New("empty proxy URL")
	ErrProxyBlockedScheme   = errors.New("proxy scheme not allowed")
	ErrProxyEmptyHost       = errors.New("proxy host is empty")
	ErrProxyLocalBlocked    = errors.New("localhost proxies are not allowed")
	ErrProxyPrivateBlocked  = errors.New("private/internal proxy addresses are not allowed")
	ErrProxyMetadataBlocked = errors.New("cloud metadata addresses are not allowed as proxies")
	ErrProxyInvalidIDN      = errors.New("invalid internationalized proxy hostname")
	ErrProxyBareSuffix      = errors.New("proxy host is a bare public suffix")
)

// allowedProxySchemes defines the permitted proxy URL schemes.
var allowedProxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks4": true,
	"socks5": true,
}

// idnaProfile is used for strict IDN validation to detect homograph attacks.
var idnaProfile = idna.New(
	idna.ValidateLabels(true),
	idna.VerifyDNSLength(true),
	idna.StrictDomainName(true),
)

// cloudMetadataIPs contains IP addresses used by cloud provider metadata
// services. A proxy override pointing at one of these is an SSRF attempt.
var cloudMetadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"), // AWS, GCP, Azure, DigitalOcean, OpenStack
	net.ParseIP("169.254.170.2"),   // AWS ECS task metadata v2
	net.ParseIP("169.254.170.23"),  // AWS ECS task metadata v4
	net.ParseIP("fd00:ec2::254"),   // AWS IPv6 metadata
	net.ParseIP("169.254.169.253"), // Azure Wire Server
	net.ParseIP("100.100.100.200"), // Alibaba Cloud
	net.ParseIP("192.0.0.192"),     // Oracle Cloud IMDS
}

// ValidateProxyURL checks whether a caller-supplied proxy override is safe to
// hand to a browser context. It blocks:
// - Non-proxy schemes (file://, javascript:, data:, etc.)
// - Localhost and loopback targets unless allowLocal is set
// - Private/link-local addresses unless allowLocal is set
// - Cloud metadata service IPs (always)
// - Hostnames that are bare public suffixes (like "co.uk")
// - Malformed internationalized hostnames (homograph vectors)
//
// Hostname targets are validated syntactically only; the browser performs its
// own resolution when it connects through the proxy.
func ValidateProxyURL(rawURL string, allowLocal bool) error {
	if rawURL == "" {
		return ErrProxyEmptyURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Join(ErrProxyEmptyURL, err)
	}

	if !allowedProxySchemes[strings.ToLower(parsed.Scheme)] {
		return ErrProxyBlockedScheme
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return ErrProxyEmptyHost
	}

	if isLocalhostHostname(hostname) {
		if allowLocal {
			return nil
		}
		return ErrProxyLocalBlocked
	}

	if ip := net.ParseIP(hostname); ip != nil {
		return validateProxyIP(ip, allowLocal)
	}

	if err := validateIDN(hostname); err != nil {
		return err
	}

	// Reject hostnames that are nothing but a public suffix: a proxy at
	// "co.uk" or "com" is never legitimate and usually indicates a parsing
	// confusion upstream.
	if suffix, icann := publicsuffix.PublicSuffix(hostname); icann && suffix == hostname {
		return ErrProxyBareSuffix
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(hostname); err != nil && strings.Contains(hostname, ".") {
		return ErrProxyBareSuffix
	}

	return nil
}

func validateProxyIP(ip net.IP, allowLocal bool) error {
	for _, metadataIP := range cloudMetadataIPs {
		if ip.Equal(metadataIP) {
			log.Warn().
				Str("blocked_ip", ip.String()).
				Msg("Blocked cloud metadata address in proxy override (potential SSRF)")
			return ErrProxyMetadataBlocked
		}
	}

	if allowLocal {
		return nil
	}

	if ip.IsLoopback() || ip.IsUnspecified() {
		return ErrProxyLocalBlocked
	}
	if ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return ErrProxyPrivateBlocked
	}

	return nil
}

// validateIDN converts a non-ASCII hostname through a strict IDNA profile to
// surface malformed or deceptive internationalized names.
func validateIDN(hostname string) error {
	isASCII := true
	for i := 0; i < len(hostname); i++ {
		if hostname[i] > 127 {
			isASCII = false
			break
		}
	}
	if isASCII {
		return nil
	}

	asciiHost, err := idnaProfile.ToASCII(hostname)
	if err != nil {
		log.Warn().
			Str("hostname", hostname).
			Err(err).
			Msg("Invalid IDN proxy hostname")
		return ErrProxyInvalidIDN
	}

	if strings.Contains(asciiHost, "xn--") {
		log.Debug().
			Str("original", hostname).
			Str("punycode", asciiHost).
			Msg("IDN proxy hostname detected (punycode conversion)")
	}

	return nil
}

// isLocalhostHostname checks if a hostname is a localhost variant.
func isLocalhostHostname(hostname string) bool {
	localHostnames := []string{
		"localhost",
		"localhost.localdomain",
		"local",
		"ip6-localhost",
		"ip6-loopback",
	}

	for _, local := range localHostnames {
		if hostname == local {
			return true
		}
	}

	return strings.HasSuffix(hostname, ".localhost")
}
