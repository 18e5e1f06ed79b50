package gate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/filegate/service/internal/apperr"
	"github.com/filegate/service/internal/audit"
	"github.com/filegate/service/internal/config"
	"github.com/filegate/service/internal/credentials"
	"github.com/filegate/service/internal/ratelimit"
)

func testConfig() *config.Config {
	return &config.Config{
		AdminUser:         "root",
		AdminPassword:     "hunter2hunter2",
		JWTSecret:         "test-secret",
		AccessTokenTTL:    time.Hour,
		RefreshTokenTTL:   time.Hour,
		RequireAuth:       true,
		WhitelistIPs:      []string{"10.0.0.7", "192.168.1.0/24"},
		WhitelistDomains:  []string{"trusted.example.com", "*.cdn.example.com"},
		RateLimitStrategy: "fixed",
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		LockoutThreshold:  3,
		LockoutWindow:     10 * time.Minute,
		StorageType:       config.StorageNone,
		KeyStrategy:       "date",
		DuplicatePolicy:   "rename",
		HashPrefixLen:     4,
		StorageTimeout:    time.Second,
	}
}

type gateEnv struct {
	gate  *Gate
	creds *credentials.Store
	audit *audit.Logger
}

func newGateEnv(t *testing.T, cfg *config.Config) *gateEnv {
	t.Helper()
	creds := credentials.NewStore(&credentials.Set{
		AdminUser:     cfg.AdminUser,
		AdminPassword: cfg.AdminPassword,
		JWTSecret:     []byte(cfg.JWTSecret),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	}, credentials.NewMemorySessionStore())

	auditLog := audit.New(zap.NewNop())
	t.Cleanup(auditLog.Close)

	g := New(
		config.NewStore(cfg),
		creds,
		ratelimit.New(ratelimit.Strategy(cfg.RateLimitStrategy), cfg.RateLimitRequests, cfg.RateLimitWindow),
		NewLockout(cfg.LockoutThreshold, cfg.LockoutWindow),
		auditLog,
		zap.NewNop(),
	)
	return &gateEnv{gate: g, creds: creds, audit: auditLog}
}

func TestAdmitWhitelistORSemantics(t *testing.T) {
	tests := []struct {
		name     string
		md       Metadata
		wantKind Kind
	}{
		{
			name:     "ip only",
			md:       Metadata{RemoteIP: "10.0.0.7", OriginDomain: "unknown.example.org"},
			wantKind: KindWhitelistedIP,
		},
		{
			name:     "cidr member",
			md:       Metadata{RemoteIP: "192.168.1.42"},
			wantKind: KindWhitelistedIP,
		},
		{
			name:     "domain only",
			md:       Metadata{RemoteIP: "203.0.113.9", OriginDomain: "trusted.example.com"},
			wantKind: KindWhitelistedDomain,
		},
		{
			name:     "wildcard subdomain",
			md:       Metadata{RemoteIP: "203.0.113.9", OriginDomain: "eu1.cdn.example.com"},
			wantKind: KindWhitelistedDomain,
		},
		{
			name: "both match, ip wins",
			md: Metadata{
				RemoteIP:     "10.0.0.7",
				OriginDomain: "trusted.example.com",
			},
			wantKind: KindWhitelistedIP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newGateEnv(t, testConfig())
			p, err := env.gate.Admit(context.Background(), tt.md)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, p.Kind)
		})
	}
}

func TestAdmitRejectsUnmatchedAnonymous(t *testing.T) {
	env := newGateEnv(t, testConfig())

	_, err := env.gate.Admit(context.Background(), Metadata{
		RemoteIP:     "203.0.113.9",
		OriginDomain: "stranger.example.org",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeAuthInvalid, apperr.CodeOf(err))
}

func TestAdmitBearerToken(t *testing.T) {
	env := newGateEnv(t, testConfig())

	pair, err := env.creds.IssuePair(context.Background(), "root")
	require.NoError(t, err)

	p, err := env.gate.Admit(context.Background(), Metadata{
		RemoteIP:    "203.0.113.9",
		BearerToken: pair.AccessToken,
	})
	require.NoError(t, err)
	assert.Equal(t, KindAuthenticatedUser, p.Kind)
	assert.Equal(t, "root", p.Subject)
}

func TestAdmitPrefersTokenOverWhitelist(t *testing.T) {
	env := newGateEnv(t, testConfig())

	pair, err := env.creds.IssuePair(context.Background(), "root")
	require.NoError(t, err)

	p, err := env.gate.Admit(context.Background(), Metadata{
		RemoteIP:    "10.0.0.7", // also whitelisted
		BearerToken: pair.AccessToken,
	})
	require.NoError(t, err)
	assert.Equal(t, KindAuthenticatedUser, p.Kind)
}

func TestAdmitBasicAuth(t *testing.T) {
	env := newGateEnv(t, testConfig())

	p, err := env.gate.Admit(context.Background(), Metadata{
		RemoteIP:  "203.0.113.9",
		BasicUser: "root",
		BasicPass: "hunter2hunter2",
	})
	require.NoError(t, err)
	assert.Equal(t, KindAuthenticatedUser, p.Kind)

	_, err = env.gate.Admit(context.Background(), Metadata{
		RemoteIP:  "203.0.113.9",
		BasicUser: "root",
		BasicPass: "wrong",
	})
	assert.Equal(t, apperr.CodeAuthInvalid, apperr.CodeOf(err))
}

func TestAdmitLockoutAfterConsecutiveFailures(t *testing.T) {
	env := newGateEnv(t, testConfig())
	md := Metadata{RemoteIP: "203.0.113.9", BasicUser: "root", BasicPass: "wrong"}

	for i := 0; i < 2; i++ {
		_, err := env.gate.Admit(context.Background(), md)
		assert.Equal(t, apperr.CodeAuthInvalid, apperr.CodeOf(err))
	}

	// Third failure crosses the threshold.
	_, err := env.gate.Admit(context.Background(), md)
	assert.Equal(t, apperr.CodeAuthLocked, apperr.CodeOf(err))

	// Even correct credentials are refused while locked.
	md.BasicPass = "hunter2hunter2"
	_, err = env.gate.Admit(context.Background(), md)
	assert.Equal(t, apperr.CodeAuthLocked, apperr.CodeOf(err))
}

func TestLockoutBoundsTrackedIdentities(t *testing.T) {
	l := NewLockout(3, 10*time.Minute)

	for i := 0; i < maxTrackedIdentities+500; i++ {
		l.Fail(fmt.Sprintf("203.0.113.%d-%d", i%250, i))
	}
	assert.LessOrEqual(t, l.entries.Len(), maxTrackedIdentities,
		"rotating identities must not grow the failure table without bound")
}

func TestAdmitRateLimitBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRequests = 3
	env := newGateEnv(t, cfg)
	md := Metadata{RemoteIP: "10.0.0.7"}

	for i := 0; i < 3; i++ {
		p, err := env.gate.Admit(context.Background(), md)
		require.NoError(t, err, "request %d", i+1)
		assert.Equal(t, 3-(i+1), p.RateRemaining)
	}

	_, err := env.gate.Admit(context.Background(), md)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeRateLimited, apperr.CodeOf(err))

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Greater(t, ae.RetryAfter, time.Duration(0))
}

func TestAdmitSeparateBudgetsPerIdentity(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRequests = 1
	cfg.WhitelistDomains = []string{"a.example.com", "b.example.com"}
	cfg.WhitelistIPs = nil
	env := newGateEnv(t, cfg)

	// One IP, two whitelisted domains: each domain gets its own budget.
	p1, err := env.gate.Admit(context.Background(), Metadata{RemoteIP: "203.0.113.9", OriginDomain: "a.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "domain:a.example.com", p1.Identity)

	_, err = env.gate.Admit(context.Background(), Metadata{RemoteIP: "203.0.113.9", OriginDomain: "b.example.com"})
	require.NoError(t, err)

	_, err = env.gate.Admit(context.Background(), Metadata{RemoteIP: "203.0.113.9", OriginDomain: "a.example.com"})
	assert.Equal(t, apperr.CodeRateLimited, apperr.CodeOf(err))
}

func TestAdmitAuthDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RequireAuth = false
	env := newGateEnv(t, cfg)

	p, err := env.gate.Admit(context.Background(), Metadata{RemoteIP: "203.0.113.9"})
	require.NoError(t, err)
	assert.Equal(t, KindWhitelistedIP, p.Kind)
}
