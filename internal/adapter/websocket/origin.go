package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a viewer stream.
// Entries of the form "https://*.plant.example.com" match any subdomain.
type originPolicy struct {
	exact    map[string]struct{}
	wildcard []wildcardOrigin
	dev      bool
}

type wildcardOrigin struct {
	scheme string
	suffix string // ".plant.example.com"
}

// NewCheckOrigin returns the upgrader's origin check. It allows empty origins
// (non-browser clients), the request's own host, the configured origins and,
// in development, loopback origins.
func NewCheckOrigin(allowed []string, isDevelopment bool) func(r *http.Request) bool {
	p := &originPolicy{exact: make(map[string]struct{}, len(allowed)), dev: isDevelopment}
	for _, raw := range allowed {
		p.add(raw)
	}
	return p.check
}

func (p *originPolicy) add(raw string) {
	origin := normalizeOrigin(strings.TrimSpace(raw))
	if origin == "" {
		return
	}
	scheme, host, _ := strings.Cut(origin, "://")
	if rest, ok := strings.CutPrefix(host, "*."); ok {
		p.wildcard = append(p.wildcard, wildcardOrigin{scheme: scheme, suffix: "." + rest})
		return
	}
	p.exact[origin] = struct{}{}
}

func (p *originPolicy) check(r *http.Request) bool {
	raw := r.Header.Get("Origin")
	if raw == "" {
		return true
	}

	if p.allows(raw, r.Host) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", raw, "remote_addr", r.RemoteAddr)
	return false
}

func (p *originPolicy) allows(raw, requestHost string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, requestHost) {
		return true
	}

	origin := normalizeOrigin(raw)
	if _, ok := p.exact[origin]; ok {
		return true
	}
	scheme, host, _ := strings.Cut(origin, "://")
	for _, w := range p.wildcard {
		if scheme == w.scheme && strings.HasSuffix(host, w.suffix) {
			return true
		}
	}

	return p.dev && isLoopback(u.Hostname())
}

// normalizeOrigin reduces a URL to lower-case scheme://host[:port].
func normalizeOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func isLoopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
