package urlcheck

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL indicates the input could not be parsed as an absolute URL.
var ErrInvalidURL = errors.New("invalid url")

// ErrDisallowedHost indicates the URL points at a host outside the allow-list.
var ErrDisallowedHost = errors.New("host not allowed")

// allowedHosts is the fixed set of recognized source domains. Hostnames are
// matched after lowercasing and stripping a leading "www.".
var allowedHosts = map[string]struct{}{
	"youtube.com":       {},
	"youtu.be":          {},
	"m.youtube.com":     {},
	"music.youtube.com": {},
}

// Check parses raw as an absolute URL and verifies its host against the
// allow-list. The URL is returned unchanged on success. Check performs no
// I/O and never mutates the input.
func Check(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrInvalidURL
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || !parsed.IsAbs() || parsed.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if _, ok := allowedHosts[host]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrDisallowedHost, host)
	}
	return parsed, nil
}
