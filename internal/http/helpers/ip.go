package helpers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// MaxForwardedLen tope de X-Forwarded-For; un header más largo se ignora.
const MaxForwardedLen = 512

// ProxyPolicy decide cuándo creer en X-Forwarded-For / X-Real-IP. Sin proxies
// confiables los headers nunca se leen y la IP es la de RemoteAddr.
type ProxyPolicy struct {
	Trusted []netip.Prefix
}

// ParseTrustedProxies acepta CIDRs o IPs sueltas.
func ParseTrustedProxies(items []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(items))
	for _, raw := range items {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func (p ProxyPolicy) trusted(a netip.Addr) bool {
	a = a.Unmap()
	for _, pref := range p.Trusted {
		if pref.Contains(a) {
			return true
		}
	}
	return false
}

// Resolve calcula la IP del cliente. Solo si RemoteAddr es un proxy confiable
// se recorre X-Forwarded-For de derecha a izquierda saltando proxies confiables;
// la primera IP no confiable es el cliente.
func (p ProxyPolicy) Resolve(r *http.Request) string {
	remote := remoteHost(r.RemoteAddr)
	addr, err := netip.ParseAddr(remote)
	if err != nil || len(p.Trusted) == 0 || !p.trusted(addr) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if len(xff) > MaxForwardedLen {
			return remote
		}
		hops := strings.Split(xff, ",")
		client := addr
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				// un hop ilegible corta la cadena: lo último válido es lo más cercano al cliente
				break
			}
			client = hop.Unmap()
			if !p.trusted(client) {
				break
			}
		}
		return client.String()
	}

	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		if a, err := netip.ParseAddr(xr); err == nil {
			return a.Unmap().String()
		}
	}
	return remote
}

type clientIPKey struct{}

// WithClientIP guarda la IP resuelta en el contexto.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP retorna la IP resuelta por el middleware de proxies. Sin middleware
// usa el host de RemoteAddr; los headers de forwarding nunca se leen acá.
func ClientIP(r *http.Request) string {
	if v, ok := r.Context().Value(clientIPKey{}).(string); ok && v != "" {
		return v
	}
	return remoteHost(r.RemoteAddr)
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil {
		return host
	}
	return remoteAddr
}

// IsHTTPS detecta si el request llegó por HTTPS (directo o detrás de proxy).
func IsHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
