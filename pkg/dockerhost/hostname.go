package dockerhost

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	loopbackAddresses = map[string]bool{
		"127.0.0.1": true,
		"0.0.0.0":   true,
		"localhost": true,
	}

	ipv4Pattern    = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
	hostURLPattern = regexp.MustCompile(`^(?:tcp://)?([^:]+)(?::\d+)?`)
)

// ExtractHostname derives a link-rendering hostname from an endpoint URL.
// Local sockets have no hostname. Loopback addresses are discarded, and for
// the local engine bare single-label names are too (they are container-side
// names that mean nothing to a browser).
func ExtractHostname(rawURL string, localEngine bool) string {
	if rawURL == "" || strings.HasPrefix(rawURL, "unix://") {
		return ""
	}

	if strings.HasPrefix(rawURL, "tcp://") {
		if parsed, err := url.Parse(rawURL); err == nil {
			if h := parsed.Hostname(); h != "" && usableHostname(h, true) {
				return h
			}
		}
	}

	if m := hostURLPattern.FindStringSubmatch(rawURL); m != nil {
		if usableHostname(m[1], localEngine) {
			return m[1]
		}
	}
	return ""
}

func usableHostname(hostname string, localEngine bool) bool {
	if loopbackAddresses[hostname] {
		return false
	}
	if localEngine && isInternalName(hostname) {
		return false
	}
	return true
}

// isInternalName reports whether hostname is a bare single-label name
// (not an IPv4 address, no dots).
func isInternalName(hostname string) bool {
	if ipv4Pattern.MatchString(hostname) {
		return false
	}
	return !strings.Contains(hostname, ".")
}

// ResolveLinkHostname picks the hostname used when rendering port links:
// declared public hostname first, then a usable host IP, then the hostname
// the request came in on, then localhost.
func ResolveLinkHostname(publicHostname, hostIP, requestHostname string) string {
	if publicHostname != "" {
		return publicHostname
	}
	if hostIP != "" && hostIP != "0.0.0.0" && hostIP != "127.0.0.1" {
		return hostIP
	}
	if requestHostname != "" {
		return requestHostname
	}
	return "localhost"
}
