package ssrf

import "net/url"

// CheckURL validates that rawURL's host is safe to dial: not a blocked
// hostname and not resolving to a private/internal address. It returns the
// hostname it checked and whether the URL should be blocked, so callers can
// build an error message without re-parsing the URL.
func CheckURL(rawURL string) (host string, blocked bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", true
	}
	host = u.Hostname()
	if host == "" {
		return "", true
	}
	return host, ValidatePublicHostname(host) != nil
}
