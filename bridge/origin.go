package bridge

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeOrigin reduces s to scheme://host[:port] in lower case. Default
// ports are dropped. Wildcards, opaque origins and URLs without a host are
// rejected.
func NormalizeOrigin(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "*" {
		return "", ErrWildcardOrigin
	}
	if s == "" || s == "null" {
		return "", fmt.Errorf("bridge: origin %q is not addressable", s)
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("bridge: parse origin %q: %w", s, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("bridge: origin %q needs a scheme and host", s)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		return scheme + "://" + host + ":" + port, nil
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host, nil
}
