package gate

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/filegate/service/internal/apperr"
	"github.com/filegate/service/internal/response"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

// principalKey is the context key under which the admitted Principal lives.
const principalKey contextKey = "principal"

// FromContext returns the Principal stored by the middleware, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// Middleware admits or rejects every request through the gate and injects
// the resolved Principal into the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Admit(r.Context(), MetadataFromRequest(r))
		if err != nil {
			var ae *apperr.Error
			if errors.As(err, &ae) && ae.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(ae.RetryAfter.Seconds())+1))
			}
			response.FailErr(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MetadataFromRequest extracts gate metadata from an HTTP request. RemoteIP
// trusts the value chi's RealIP middleware already resolved into RemoteAddr.
func MetadataFromRequest(r *http.Request) Metadata {
	md := Metadata{
		RemoteIP:     remoteIP(r),
		OriginDomain: originDomain(r),
		Path:         r.URL.Path,
	}

	authHeader := r.Header.Get("Authorization")
	if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 {
		switch parts[0] {
		case "Bearer":
			md.BearerToken = parts[1]
		case "Basic":
			if user, pass, ok := r.BasicAuth(); ok {
				md.BasicUser = user
				md.BasicPass = pass
			}
		}
	}
	return md
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func originDomain(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	if host := r.Host; host != "" {
		if h, _, err := net.SplitHostPort(host); err == nil {
			return h
		}
		return host
	}
	return ""
}
