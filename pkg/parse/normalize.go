package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// NormalizeURL standardizes a URL into the canonical key used for records and mirror entries.
// It lowercases the scheme and host, removes default ports (80 for http, 443 for https),
// ensures an empty path becomes "/", and removes the fragment. The query string and a
// trailing slash are kept since they name different resources.
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	return normalizedCopy(u).String()
}

func normalizedCopy(u *url.URL) *url.URL {
	normalized := *u
	normalized.User = nil

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	// Remove default ports
	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" && normalized.Opaque == "" {
		normalized.Path = "/"
		normalized.RawPath = ""
	}
	normalized.Fragment = ""
	normalized.RawFragment = ""
	normalized.ForceQuery = false

	return &normalized
}

// Canonicalize resolves ref against base (base may be nil for absolute refs) and
// returns the canonical URL together with the fragment that was stripped.
// Only http and https URLs are accepted.
func Canonicalize(ref string, base *url.URL) (*url.URL, string, error) {
	ref = strings.TrimSpace(ref)
	parsed, err := url.Parse(ref)
	if err != nil {
		return nil, "", fmt.Errorf("%w: URL %q: %w", utils.ErrParsing, ref, err)
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, "", fmt.Errorf("%w: URL %q is not absolute", utils.ErrParsing, ref)
	}
	if s := strings.ToLower(parsed.Scheme); s != "http" && s != "https" {
		return nil, "", fmt.Errorf("%w: URL %q has unsupported scheme %q", utils.ErrParsing, ref, parsed.Scheme)
	}
	return normalizedCopy(parsed), parsed.Fragment, nil
}

// SameHost reports whether two URLs share scheme-independent host and port.
func SameHost(a, b *url.URL) bool {
	return a != nil && b != nil && strings.EqualFold(a.Host, b.Host)
}
