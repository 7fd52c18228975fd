// Package security guards the mutating HTTP surface: CSRF checks, a
// per-client rate limiter, write-token auth, trusted-proxy resolution,
// and the destructive-operation allowlist.
package security

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/majoor-app/majoor/pkg/errcode"
)

var loopbackHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
	"[::1]":     {},
}

// CheckCSRF validates a state-changing request. The request must carry a
// CSRF header, and when an Origin is present it must match the effective
// host. X-Forwarded-Host is honored only when the peer is a trusted proxy.
func (g *Guard) CheckCSRF(r *http.Request) error {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return nil
	}

	if r.Header.Get("X-Requested-With") == "" && r.Header.Get("X-CSRF-Token") == "" {
		return errcode.New(errcode.CSRF, "missing CSRF header")
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	if origin == "null" {
		return errcode.New(errcode.CSRF, "null origin rejected")
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return errcode.New(errcode.CSRF, "malformed origin")
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" && g.isTrustedProxy(peerIP(r)) {
		host = fwd
	}
	if !hostsEquivalent(u.Host, host) {
		return errcode.New(errcode.CSRF, "origin does not match host")
	}
	return nil
}

// hostsEquivalent compares host[:port] pairs, treating the loopback
// aliases as one host when the ports match.
func hostsEquivalent(a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	ah, ap := splitHostPort(a)
	bh, bp := splitHostPort(b)
	if ap != bp {
		return false
	}
	if strings.EqualFold(ah, bh) {
		return true
	}
	_, aLoop := loopbackHosts[strings.ToLower(ah)]
	_, bLoop := loopbackHosts[strings.ToLower(bh)]
	return aLoop && bLoop
}

func splitHostPort(hostport string) (host, port string) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, ""
	}
	return host, port
}
