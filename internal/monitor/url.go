package monitor

import (
	"fmt"
	"net/url"
	"strings"
)

// DomainOf extracts the lowercased host of a URL. Cooldowns and 429
// accounting are keyed by it.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// RobotsURL derives the robots.txt URL from any URL on the same site.
func RobotsURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}
	return fmt.Sprintf("%s://%s/robots.txt", strings.ToLower(u.Scheme), strings.ToLower(u.Host)), nil
}

// NormalizeURL standardizes a URL so the same page never appears under
// two spellings. It lowercases the scheme and host, removes default
// ports and fragments, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}
