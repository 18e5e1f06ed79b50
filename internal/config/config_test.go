package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:              "8080",
		AppEnv:            "test",
		RequireAuth:       false,
		RateLimitStrategy: "sliding",
		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,
		LockoutThreshold:  5,
		LockoutWindow:     time.Minute,
		StorageType:       StorageNone,
		KeyStrategy:       "date",
		DuplicatePolicy:   "rename",
		HashPrefixLen:     4,
		StorageTimeout:    time.Second,
	}
}

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestApplyDocumentOverridesOnlyNamedFields(t *testing.T) {
	cfg := validConfig()
	cfg.MaxFileSize = 1024

	path := writeDoc(t, `{
		"storage_type": "local",
		"local_root": "/var/data",
		"rate_limit_window": "30s",
		"whitelist_ips": ["10.0.0.0/8"]
	}`)
	require.NoError(t, cfg.applyDocument(path))

	assert.Equal(t, StorageLocal, cfg.StorageType)
	assert.Equal(t, "/var/data", cfg.LocalRoot)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.WhitelistIPs)
	// Untouched fields keep their prior values.
	assert.Equal(t, int64(1024), cfg.MaxFileSize)
	assert.Equal(t, "rename", cfg.DuplicatePolicy)
}

func TestApplyDocumentRejectsUnknownFields(t *testing.T) {
	cfg := validConfig()
	path := writeDoc(t, `{"storge_type": "local"}`)
	assert.Error(t, cfg.applyDocument(path))
}

func TestApplyDocumentRejectsBadDuration(t *testing.T) {
	cfg := validConfig()
	path := writeDoc(t, `{"rate_limit_window": "soon"}`)
	assert.Error(t, cfg.applyDocument(path))
}

func TestValidateCatalog(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"baseline", func(c *Config) {}, true},
		{"local without root", func(c *Config) { c.StorageType = StorageLocal }, false},
		{"s3 without bucket", func(c *Config) { c.StorageType = StorageS3 }, false},
		{"telegram without token", func(c *Config) { c.StorageType = StorageTelegram }, false},
		{"file_api without endpoint", func(c *Config) { c.StorageType = StorageFileAPI }, false},
		{"unknown storage", func(c *Config) { c.StorageType = "tape" }, false},
		{"unknown key strategy", func(c *Config) { c.KeyStrategy = "random" }, false},
		{"unknown duplicate policy", func(c *Config) { c.DuplicatePolicy = "ask" }, false},
		{"zero rate budget", func(c *Config) { c.RateLimitRequests = 0 }, false},
		{"auth without secret", func(c *Config) { c.RequireAuth = true; c.AdminPassword = "x" }, false},
		{"auth without password", func(c *Config) { c.RequireAuth = true; c.JWTSecret = "s" }, false},
		{"auth complete", func(c *Config) {
			c.RequireAuth = true
			c.JWTSecret = "s"
			c.AdminPassword = "x"
		}, true},
		{"odd hash prefix", func(c *Config) { c.HashPrefixLen = 3 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestStoreRetainsPriorOnInvalidSwap(t *testing.T) {
	cfg := validConfig()
	store := NewStore(cfg)

	bad := validConfig()
	bad.StorageType = "tape"
	require.Error(t, store.Swap(bad))
	assert.Same(t, cfg, store.Current())
}

func TestStoreReloadRejectsInvalidDocument(t *testing.T) {
	path := writeDoc(t, `{"duplicate_policy": "ask"}`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("REQUIRE_AUTH", "false")

	cfg := validConfig()
	store := NewStore(cfg)
	_, err := store.Reload()
	require.Error(t, err)
	assert.Same(t, cfg, store.Current())
}
