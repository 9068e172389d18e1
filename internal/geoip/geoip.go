// Package geoip turns the client side of a device request into
// ledger.ConnectionInfo, optionally enriched from a MaxMind City/Country
// database.
package geoip

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"ghosttrack/internal/ledger"

	"github.com/oschwald/maxminddb-golang"
)

// record covers both GeoLite2-City and GeoLite2-Country layouts.
type record struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		IsoCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

type Locator struct {
	db      *maxminddb.Reader
	trusted []*net.IPNet
}

// Open memory-maps the database at path and remembers the proxies whose
// forwarding headers are believed. trustedProxies holds CIDRs or bare
// addresses. With no database and no proxies the Locator is nil, which is
// valid: it resolves nothing and trusts nobody.
func Open(path string, trustedProxies []string) (*Locator, error) {
	trusted, err := ParseProxies(trustedProxies)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		if len(trusted) == 0 {
			return nil, nil
		}
		return &Locator{trusted: trusted}, nil
	}
	r, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Locator{db: r, trusted: trusted}, nil
}

// ParseProxies accepts CIDRs ("10.0.0.0/8") and single addresses.
func ParseProxies(list []string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			ip := net.ParseIP(s)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q: not an IP or CIDR", s)
			}
			bits := 128
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (l *Locator) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Lookup returns the ISO country code and English city name for ip.
func (l *Locator) Lookup(ip string) (country, city string) {
	if l == nil || l.db == nil {
		return "", ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", ""
	}
	var rec record
	if err := l.db.Lookup(parsed, &rec); err != nil {
		return "", ""
	}
	return rec.Country.IsoCode, rec.City.Names["en"]
}

// ClientIP returns the socket peer unless the peer is a trusted proxy. Behind
// one, X-Forwarded-For is walked from the right and the first hop outside the
// trusted set wins; without that header X-Real-IP is used.
func ClientIP(r *http.Request, trusted []*net.IPNet) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !isTrusted(net.ParseIP(peer), trusted) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		client := ""
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				break
			}
			client = ip.String()
			if !isTrusted(ip, trusted) {
				return client
			}
		}
		if client != "" {
			return client
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return peer
}

func isTrusted(ip net.IP, trusted []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, n := range trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP resolves the client address with the Locator's trusted proxies.
func (l *Locator) ClientIP(r *http.Request) string {
	if l == nil {
		return ClientIP(r, nil)
	}
	return ClientIP(r, l.trusted)
}

// Connection captures client metadata for a ledger record.
func (l *Locator) Connection(r *http.Request, source string) ledger.ConnectionInfo {
	ip := l.ClientIP(r)
	country, city := l.Lookup(ip)
	return ledger.ConnectionInfo{
		IP:        ip,
		UserAgent: r.UserAgent(),
		Country:   country,
		City:      city,
		Source:    source,
	}
}
