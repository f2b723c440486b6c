package capture

import (
	"net/url"
	"strings"
)

// DomainFilter decides which hosts auto-capture may touch. Entries match a
// host exactly or as a parent domain. Deny wins over allow; an empty allow
// list admits every host that is not denied.
type DomainFilter struct {
	Allow []string
	Deny  []string
}

// Allowed reports whether rawURL passes the filter. Non-http(s) URLs never pass.
func (f DomainFilter) Allowed(rawURL string) bool {
	host, ok := capturableHost(rawURL)
	if !ok {
		return false
	}
	for _, entry := range f.Deny {
		if domainMatch(host, entry) {
			return false
		}
	}
	if len(f.Allow) == 0 {
		return true
	}
	for _, entry := range f.Allow {
		if domainMatch(host, entry) {
			return true
		}
	}
	return false
}

// Capturable reports whether rawURL is a web page rather than an internal
// browser page (chrome://, about:, extension pages, local files).
func Capturable(rawURL string) bool {
	_, ok := capturableHost(rawURL)
	return ok
}

func capturableHost(rawURL string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return "", false
	}
	return host, true
}

func domainMatch(host, entry string) bool {
	entry = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(entry)), "*.")
	entry = strings.Trim(entry, ".")
	if entry == "" {
		return false
	}
	return host == entry || strings.HasSuffix(host, "."+entry)
}
