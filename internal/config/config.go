// Package config loads gateway configuration from environment variables and
// an optional JSON document, and exposes it as an atomically swapped
// immutable snapshot.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backend selectors. "none" keeps content inline (base64) and never
// persists anything.
const (
	StorageLocal    = "local"
	StorageS3       = "s3"
	StorageTelegram = "telegram"
	StorageFileAPI  = "file_api"
	StorageNone     = "none"
)

// Config holds all runtime configuration for the gateway. Instances are
// immutable once published; reload builds and validates a fresh one.
type Config struct {
	Port        string `json:"port"`
	AppEnv      string `json:"app_env"`
	DatabaseURL string `json:"database_url"`

	// Admin credential set. AdminPasswordHash (bcrypt) wins over the
	// plaintext bootstrap password when both are set.
	AdminUser         string `json:"admin_user"`
	AdminPassword     string `json:"admin_password"`
	AdminPasswordHash string `json:"admin_password_hash"`

	JWTSecret       string        `json:"jwt_secret"`
	AccessTokenTTL  time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl"`

	RequireAuth      bool     `json:"require_auth"`
	WhitelistIPs     []string `json:"whitelist_ips"`     // exact IPs or CIDR blocks
	WhitelistDomains []string `json:"whitelist_domains"` // exact names or "*." suffixes

	RateLimitStrategy string        `json:"rate_limit_strategy"` // fixed | sliding
	RateLimitRequests int           `json:"rate_limit_requests"`
	RateLimitWindow   time.Duration `json:"rate_limit_window"`
	LockoutThreshold  int           `json:"lockout_threshold"`
	LockoutWindow     time.Duration `json:"lockout_window"`

	StorageType string `json:"storage_type"`

	LocalRoot   string `json:"local_root"`
	LocalDomain string `json:"local_domain"` // public base URL for direct links

	S3Endpoint   string `json:"s3_endpoint"`
	S3AccessKey  string `json:"s3_access_key"`
	S3SecretKey  string `json:"s3_secret_key"`
	S3Bucket     string `json:"s3_bucket"`
	S3Region     string `json:"s3_region"`
	S3PublicBase string `json:"s3_public_base"`
	S3UseSSL     bool   `json:"s3_use_ssl"`
	S3PathStyle  bool   `json:"s3_path_style"` // fixed per deployment, never per request

	TGEndpoint string `json:"tg_endpoint"`
	TGBotToken string `json:"tg_bot_token"`
	TGChatID   string `json:"tg_chat_id"`

	FileAPIEndpoint string        `json:"file_api_endpoint"`
	FileAPIKey      string        `json:"file_api_key"`
	FileAPITimeout  time.Duration `json:"file_api_timeout"`

	MaxFileSize       int64    `json:"max_file_size"` // bytes; <=0 disables the check
	AllowedExtensions []string `json:"allowed_extensions"`

	KeyStrategy     string `json:"key_strategy"`     // date | hash | uuid
	DuplicatePolicy string `json:"duplicate_policy"` // rename | overwrite | error
	HashPrefixLen   int    `json:"hash_prefix_len"`

	OCREndpoint string `json:"ocr_endpoint"`

	StorageTimeout time.Duration `json:"storage_timeout"`
	StorageRetries int           `json:"storage_retries"`

	ConfigFile string `json:"-"`
}

// Load reads configuration from a .env file (if present) and environment
// variables, then overlays the JSON document named by CONFIG_FILE when set.
// The result is fully validated.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading from environment")
	}

	cfg := fromEnv()

	if cfg.ConfigFile != "" {
		if err := cfg.applyDocument(cfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("apply config document: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		AppEnv:      getEnv("APP_ENV", "development"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		AdminUser:         getEnv("ADMIN_USER", "root"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		JWTSecret:       getEnv("JWT_SECRET", ""),
		AccessTokenTTL:  getDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		RefreshTokenTTL: getDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),

		RequireAuth:      getBool("REQUIRE_AUTH", true),
		WhitelistIPs:     getList("WHITELIST_IPS"),
		WhitelistDomains: getList("WHITELIST_DOMAINS"),

		RateLimitStrategy: getEnv("RATE_LIMIT_STRATEGY", "sliding"),
		RateLimitRequests: getInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDuration("RATE_LIMIT_WINDOW", time.Minute),
		LockoutThreshold:  getInt("LOCKOUT_THRESHOLD", 5),
		LockoutWindow:     getDuration("LOCKOUT_WINDOW", 15*time.Minute),

		StorageType: getEnv("STORAGE_TYPE", StorageNone),

		LocalRoot:   getEnv("LOCAL_STORAGE_ROOT", "static"),
		LocalDomain: strings.TrimRight(getEnv("LOCAL_STORAGE_DOMAIN", ""), "/"),

		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		S3AccessKey:  getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:  getEnv("S3_SECRET_KEY", ""),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3Region:     getEnv("S3_REGION", ""),
		S3PublicBase: strings.TrimRight(getEnv("S3_PUBLIC_BASE", ""), "/"),
		S3UseSSL:     getBool("S3_USE_SSL", true),
		S3PathStyle:  getBool("S3_PATH_STYLE", false),

		TGEndpoint: strings.TrimRight(getEnv("TG_ENDPOINT", "https://api.telegram.org"), "/"),
		TGBotToken: getEnv("TG_BOT_TOKEN", ""),
		TGChatID:   getEnv("TG_CHAT_ID", ""),

		FileAPIEndpoint: strings.TrimRight(getEnv("FILE_API_ENDPOINT", ""), "/"),
		FileAPIKey:      getEnv("FILE_API_KEY", ""),
		FileAPITimeout:  getDuration("FILE_API_TIMEOUT", 30*time.Second),

		MaxFileSize:       getInt64("MAX_FILE_SIZE", 25<<20),
		AllowedExtensions: getList("ALLOWED_EXTENSIONS"),

		KeyStrategy:     getEnv("KEY_STRATEGY", "date"),
		DuplicatePolicy: getEnv("DUPLICATE_POLICY", "rename"),
		HashPrefixLen:   getInt("HASH_PREFIX_LEN", 4),

		OCREndpoint: strings.TrimRight(getEnv("OCR_ENDPOINT", ""), "/"),

		StorageTimeout: getDuration("STORAGE_TIMEOUT", 30*time.Second),
		StorageRetries: getInt("STORAGE_RETRIES", 3),

		ConfigFile: getEnv("CONFIG_FILE", ""),
	}
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate checks the whole document; a Config must never be published in a
// partially valid state.
func (c *Config) Validate() error {
	switch c.StorageType {
	case StorageLocal:
		if c.LocalRoot == "" {
			return fmt.Errorf("local storage requires LOCAL_STORAGE_ROOT")
		}
	case StorageS3:
		if c.S3Bucket == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("s3 storage requires bucket and credentials")
		}
		if c.S3Endpoint == "" && c.S3Region == "" {
			return fmt.Errorf("s3 storage requires an endpoint or a region")
		}
	case StorageTelegram:
		if c.TGBotToken == "" || c.TGChatID == "" {
			return fmt.Errorf("telegram storage requires TG_BOT_TOKEN and TG_CHAT_ID")
		}
	case StorageFileAPI:
		if c.FileAPIEndpoint == "" {
			return fmt.Errorf("file_api storage requires FILE_API_ENDPOINT")
		}
	case StorageNone:
	default:
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}

	switch c.KeyStrategy {
	case "date", "hash", "uuid":
	default:
		return fmt.Errorf("unknown key strategy %q", c.KeyStrategy)
	}

	switch c.DuplicatePolicy {
	case "rename", "overwrite", "error":
	default:
		return fmt.Errorf("unknown duplicate policy %q", c.DuplicatePolicy)
	}

	switch c.RateLimitStrategy {
	case "fixed", "sliding":
	default:
		return fmt.Errorf("unknown rate limit strategy %q", c.RateLimitStrategy)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("rate limit budget must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.LockoutThreshold <= 0 {
		return fmt.Errorf("lockout threshold must be positive")
	}

	if c.RequireAuth {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when auth is enabled")
		}
		if c.AdminPassword == "" && c.AdminPasswordHash == "" {
			return fmt.Errorf("admin password (or hash) is required when auth is enabled")
		}
	}

	if c.HashPrefixLen < 2 || c.HashPrefixLen > 16 || c.HashPrefixLen%2 != 0 {
		return fmt.Errorf("hash prefix length must be an even number between 2 and 16")
	}

	if c.StorageTimeout <= 0 {
		return fmt.Errorf("storage timeout must be positive")
	}
	if c.StorageRetries < 0 {
		return fmt.Errorf("storage retries must not be negative")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid integer for %s: %q, using default", key, v)
		return fallback
	}
	return n
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("config: invalid integer for %s: %q, using default", key, v)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid duration for %s: %q, using default", key, v)
		return fallback
	}
	return d
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
