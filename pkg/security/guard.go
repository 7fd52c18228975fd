package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/majoor-app/majoor/pkg/errcode"
)

// Config holds the security layer's knobs.
type Config struct {
	// WriteToken, when set, must accompany every mutating request. It is
	// either the plain token or "sha256:<hex>" of token+pepper.
	WriteToken  string
	TokenPepper string

	// RequireAuth extends the token requirement to loopback clients.
	RequireAuth bool

	// AllowRemoteWrite permits mutating requests from non-loopback
	// clients when no token is configured.
	AllowRemoteWrite bool

	// TrustedProxies lists CIDRs whose forwarded headers are honored.
	// The 0.0.0.0/0 universe is rejected unless InsecureTrustAll is set.
	TrustedProxies   []string
	InsecureTrustAll bool
}

// Guard is the assembled security layer.
type Guard struct {
	cfg     Config
	proxies []*net.IPNet
	limiter *RateLimiter
}

// NewGuard validates the config and builds the guard.
func NewGuard(cfg Config, limiter *RateLimiter) (*Guard, error) {
	g := &Guard{cfg: cfg, limiter: limiter}
	for _, cidr := range cfg.TrustedProxies {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, errcode.Newf(errcode.InvalidInput, "invalid trusted proxy CIDR %q", cidr)
		}
		if ones, bits := ipnet.Mask.Size(); ones == 0 && bits > 0 && !cfg.InsecureTrustAll {
			return nil, errcode.New(errcode.InvalidInput, "refusing to trust all proxies without insecure override")
		}
		g.proxies = append(g.proxies, ipnet)
	}
	return g, nil
}

// Limiter exposes the guard's rate limiter.
func (g *Guard) Limiter() *RateLimiter { return g.limiter }

func (g *Guard) isTrustedProxy(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range g.proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// peerIP extracts the direct peer address of a request.
func peerIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

// ClientID resolves the rate-limit identity of a request: the peer IP,
// or the first forwarded hop when the peer is a trusted proxy.
func (g *Guard) ClientID(r *http.Request) string {
	ip := peerIP(r)
	if ip == nil {
		return r.RemoteAddr
	}
	if g.isTrustedProxy(ip) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if parsed := net.ParseIP(first); parsed != nil {
				return parsed.String()
			}
		}
		if real := r.Header.Get("X-Real-IP"); real != "" {
			if parsed := net.ParseIP(real); parsed != nil {
				return parsed.String()
			}
		}
	}
	return ip.String()
}

// IsLoopback reports whether the request's effective client is local.
func (g *Guard) IsLoopback(r *http.Request) bool {
	id := g.ClientID(r)
	ip := net.ParseIP(id)
	return ip != nil && ip.IsLoopback()
}

// CheckWriteAccess enforces the write-token policy for a mutating
// request.
func (g *Guard) CheckWriteAccess(r *http.Request) error {
	loopback := g.IsLoopback(r)

	if g.cfg.WriteToken == "" {
		if loopback || g.cfg.AllowRemoteWrite {
			return nil
		}
		return errcode.New(errcode.AuthRequired, "remote writes disabled")
	}

	if loopback && !g.cfg.RequireAuth {
		return nil
	}

	supplied := r.Header.Get("X-MJR-Token")
	if supplied == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			supplied = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if supplied == "" {
		return errcode.New(errcode.AuthRequired, "write token required")
	}
	if !g.tokenMatches(supplied) {
		return errcode.New(errcode.AuthRequired, "invalid write token")
	}
	return nil
}

// tokenMatches compares in constant time. A configured value of the form
// sha256:<hex> matches against sha256(supplied+pepper).
func (g *Guard) tokenMatches(supplied string) bool {
	want := g.cfg.WriteToken
	if digest, ok := strings.CutPrefix(want, "sha256:"); ok {
		sum := sha256.Sum256([]byte(supplied + g.cfg.TokenPepper))
		got := hex.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(strings.ToLower(digest)), []byte(got)) == 1
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(supplied)) == 1
}
