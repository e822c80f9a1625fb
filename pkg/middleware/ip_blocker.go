package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
)

// IPBlockList holds blocked addresses and CIDR ranges. It is safe for
// concurrent use and can be changed while the server runs.
type IPBlockList struct {
	mu       sync.RWMutex
	prefixes map[netip.Prefix]struct{}
}

// NewIPBlockList seeds the list, typically from WFSCRIPT_BLOCKED_IPS.
// Entries are addresses ("10.0.0.1") or ranges ("10.0.0.0/8"); blank
// entries are skipped.
func NewIPBlockList(entries []string) (*IPBlockList, error) {
	b := &IPBlockList{prefixes: make(map[netip.Prefix]struct{}, len(entries))}
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		p, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		b.prefixes[p] = struct{}{}
	}
	return b, nil
}

func parseEntry(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid blocked range %q: %w", entry, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid blocked address %q: %w", entry, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// IsBlocked reports whether ip falls in any blocked range. Unparseable
// input is never blocked.
func (b *IPBlockList) IsBlocked(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for p := range b.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Add blocks an address or range while the server runs.
func (b *IPBlockList) Add(entry string) error {
	p, err := parseEntry(entry)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.prefixes[p] = struct{}{}
	b.mu.Unlock()
	slog.Warn("🚫 IP Blocked Dynamically", "entry", p.String())
	return nil
}

// Remove unblocks an entry previously added with the same notation.
func (b *IPBlockList) Remove(entry string) {
	p, err := parseEntry(entry)
	if err != nil {
		return
	}
	b.mu.Lock()
	delete(b.prefixes, p)
	b.mu.Unlock()
	slog.Info("✅ IP Unblocked", "entry", p.String())
}

func (b *IPBlockList) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.prefixes)
}

// Middleware rejects requests from blocked addresses. RemoteAddr is used as
// is; forwarding headers are not trusted.
func (b *IPBlockList) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if b.IsBlocked(ip) {
			slog.Warn("🚫 Request Blocked (Blacklisted IP)", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"success":false,"error":"access denied"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
