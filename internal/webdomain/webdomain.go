// Package webdomain normalizes hostnames and classifies URLs for cache
// keying and analysis gating.
package webdomain

import (
	"net/url"
	"strings"
)

// twoPartSuffixes lists known two-label public suffixes. This is a heuristic,
// not a full public-suffix-list lookup; hostnames under suffixes outside this
// set collapse to their last two labels.
var twoPartSuffixes = map[string]bool{
	"co.uk":  true,
	"org.uk": true,
	"ac.uk":  true,
	"gov.uk": true,
	"com.au": true,
	"net.au": true,
	"org.au": true,
	"co.in":  true,
	"co.jp":  true,
	"co.nz":  true,
	"co.za":  true,
	"com.br": true,
	"com.mx": true,
}

// RootDomain derives the registrable domain from a hostname by stripping
// subdomains. localhost, IPv4 literals, and bare domains pass through
// unchanged.
func RootDomain(hostname string) string {
	h := strings.ToLower(strings.TrimSuffix(hostname, "."))
	if h == "localhost" || isIPv4(h) {
		return h
	}

	labels := strings.Split(h, ".")
	if len(labels) <= 2 {
		return h
	}

	lastTwo := strings.Join(labels[len(labels)-2:], ".")
	if twoPartSuffixes[lastTwo] && len(labels) >= 3 {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return lastTwo
}

func isIPv4(h string) bool {
	parts := strings.Split(h, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if len(p) == 0 || len(p) > 3 {
			return false
		}
		n := 0
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

// restrictedSchemes are browser-internal URL schemes that never carry
// analyzable page content.
var restrictedSchemes = map[string]bool{
	"chrome":           true,
	"chrome-extension": true,
	"edge":             true,
	"brave":            true,
	"opera":            true,
	"vivaldi":          true,
	"about":            true,
	"moz-extension":    true,
	"view-source":      true,
	"devtools":         true,
	"file":             true,
	"data":             true,
}

// IsRestricted reports whether rawURL uses a browser-internal scheme or
// cannot be parsed at all.
func IsRestricted(rawURL string) bool {
	if strings.TrimSpace(rawURL) == "" {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	if u.Scheme == "" {
		return true
	}
	return restrictedSchemes[strings.ToLower(u.Scheme)]
}

// IsHomepage reports whether rawURL points at a site's root: empty or "/"
// path with no query string.
func IsHomepage(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Path == "" || u.Path == "/") && u.RawQuery == ""
}

// Origin returns the scheme://host origin of rawURL, used as the
// homepage-fallback override target. Empty string if rawURL is unusable.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}

// Hostname extracts the hostname from rawURL, or "" when unparseable.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// IsInternal reports whether hostname belongs to one of the product's own
// domains. Matches the domain itself and any subdomain.
func IsInternal(hostname string, internalDomains []string) bool {
	h := strings.ToLower(hostname)
	for _, d := range internalDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if h == d || strings.HasSuffix(h, "."+d) {
			return true
		}
	}
	return false
}
