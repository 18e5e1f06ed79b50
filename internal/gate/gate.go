// Package gate resolves the identity of every request before it reaches a
// storage driver: token or basic authentication, IP/domain whitelisting,
// failure lockout, and rate limiting, in that order.
package gate

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"go.uber.org/zap"

	"github.com/filegate/service/internal/apperr"
	"github.com/filegate/service/internal/audit"
	"github.com/filegate/service/internal/config"
	"github.com/filegate/service/internal/credentials"
	"github.com/filegate/service/internal/metrics"
	"github.com/filegate/service/internal/ratelimit"
)

// Kind classifies how a request was admitted.
type Kind string

const (
	KindAuthenticatedUser Kind = "authenticated-user"
	KindWhitelistedIP     Kind = "whitelisted-ip"
	KindWhitelistedDomain Kind = "whitelisted-domain"
)

// Principal is the resolved identity of an admitted request.
type Principal struct {
	Kind    Kind
	Subject string // username for authenticated users
	// Identity keys the rate limiter and audit trail. Distinct whitelisted
	// domains behind one IP get separate budgets.
	Identity      string
	RateRemaining int
}

// Metadata is everything the gate needs from a request.
type Metadata struct {
	RemoteIP     string
	OriginDomain string
	BearerToken  string
	BasicUser    string
	BasicPass    string
	Path         string
}

// Gate composes authentication, whitelisting, lockout, and rate limiting
// into one admission decision.
type Gate struct {
	cfg     *config.Store
	creds   *credentials.Store
	limiter *ratelimit.Limiter
	lockout *Lockout
	audit   *audit.Logger
	log     *zap.Logger
}

// New creates a Gate.
func New(cfg *config.Store, creds *credentials.Store, limiter *ratelimit.Limiter, lockout *Lockout, auditLog *audit.Logger, log *zap.Logger) *Gate {
	return &Gate{
		cfg:     cfg,
		creds:   creds,
		limiter: limiter,
		lockout: lockout,
		audit:   auditLog,
		log:     log,
	}
}

// Admit resolves a Principal for the request or rejects it. Credentials are
// preferred over whitelist membership when both are present, for audit
// granularity; a whitelist match admits a request that carries no
// credentials at all (OR semantics).
func (g *Gate) Admit(ctx context.Context, md Metadata) (*Principal, error) {
	cfg := g.cfg.Current()

	p, err := g.resolve(ctx, cfg, md)
	if err != nil {
		g.record("reject", "", md, err)
		return nil, err
	}

	decision := g.limiter.Allow(p.Identity)
	if !decision.Allowed {
		err := apperr.New(apperr.CodeRateLimited, "rate limit exceeded")
		err.RetryAfter = decision.RetryAfter
		g.record("reject", string(p.Kind), md, err)
		return nil, err
	}
	p.RateRemaining = decision.Remaining

	g.record("admit", string(p.Kind), md, nil)
	return p, nil
}

func (g *Gate) resolve(ctx context.Context, cfg *config.Config, md Metadata) (*Principal, error) {
	if !cfg.RequireAuth {
		return &Principal{Kind: KindWhitelistedIP, Identity: "ip:" + md.RemoteIP}, nil
	}

	if md.BearerToken != "" || md.BasicUser != "" {
		return g.authenticate(md)
	}

	// Whitelist path: IP takes precedence over domain.
	if matchIP(md.RemoteIP, cfg.WhitelistIPs) {
		return &Principal{Kind: KindWhitelistedIP, Identity: "ip:" + md.RemoteIP}, nil
	}
	if matchDomain(md.OriginDomain, cfg.WhitelistDomains) {
		return &Principal{Kind: KindWhitelistedDomain, Identity: "domain:" + md.OriginDomain}, nil
	}

	return nil, apperr.New(apperr.CodeAuthInvalid, "authentication required")
}

func (g *Gate) authenticate(md Metadata) (*Principal, error) {
	// Lockout is keyed by client IP so a single origin cannot hammer the
	// credential check across usernames.
	lockKey := "ip:" + md.RemoteIP
	if locked, remaining := g.lockout.Locked(lockKey); locked {
		err := apperr.New(apperr.CodeAuthLocked, "too many failed attempts")
		err.RetryAfter = remaining
		return nil, err
	}

	var subject string
	switch {
	case md.BearerToken != "":
		sub, err := g.creds.VerifyAccess(md.BearerToken)
		if err != nil {
			return nil, g.fail(lockKey, "invalid or expired token")
		}
		subject = sub
	default:
		if err := g.creds.VerifyBasic(md.BasicUser, md.BasicPass); err != nil {
			return nil, g.fail(lockKey, "invalid credentials")
		}
		subject = md.BasicUser
	}

	g.lockout.Reset(lockKey)
	return &Principal{
		Kind:     KindAuthenticatedUser,
		Subject:  subject,
		Identity: "user:" + subject,
	}, nil
}

func (g *Gate) fail(lockKey, message string) error {
	if g.lockout.Fail(lockKey) {
		return apperr.New(apperr.CodeAuthLocked, "too many failed attempts")
	}
	return apperr.New(apperr.CodeAuthInvalid, message)
}

func (g *Gate) record(decision, kind string, md Metadata, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	identity := md.RemoteIP
	if md.OriginDomain != "" {
		identity = fmt.Sprintf("%s/%s", md.RemoteIP, md.OriginDomain)
	}
	metrics.GateDecision(decision)
	g.audit.Record(audit.Event{
		Decision:      decision,
		PrincipalKind: kind,
		Identity:      identity,
		Reason:        reason,
		Path:          md.Path,
	})
}

// matchIP reports whether ip matches any whitelist entry. Entries are exact
// addresses or CIDR blocks.
func matchIP(ip string, whitelist []string) bool {
	if ip == "" || len(whitelist) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, entry := range whitelist {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				continue
			}
			if prefix.Contains(addr) {
				return true
			}
		} else if entry == ip {
			return true
		}
	}
	return false
}

// matchDomain reports whether host matches any whitelist entry. A "*." entry
// matches the bare domain and any subdomain.
func matchDomain(host string, whitelist []string) bool {
	if host == "" || len(whitelist) == 0 {
		return false
	}
	host = strings.ToLower(host)
	for _, entry := range whitelist {
		entry = strings.ToLower(entry)
		if suffix, ok := strings.CutPrefix(entry, "*."); ok {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return true
			}
		} else if host == entry {
			return true
		}
	}
	return false
}
