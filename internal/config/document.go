package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// document is the persisted JSON overlay. Every recognized field is
// enumerated here; unknown fields make the whole document invalid. Pointer
// fields distinguish "absent" from zero values, so a document only overrides
// what it names.
type document struct {
	AdminUser         *string  `json:"admin_user"`
	AdminPassword     *string  `json:"admin_password"`
	AdminPasswordHash *string  `json:"admin_password_hash"`
	JWTSecret         *string  `json:"jwt_secret"`
	RequireAuth       *bool    `json:"require_auth"`
	WhitelistIPs      []string `json:"whitelist_ips"`
	WhitelistDomains  []string `json:"whitelist_domains"`

	RateLimitStrategy *string `json:"rate_limit_strategy"`
	RateLimitRequests *int    `json:"rate_limit_requests"`
	RateLimitWindow   *string `json:"rate_limit_window"`
	LockoutThreshold  *int    `json:"lockout_threshold"`
	LockoutWindow     *string `json:"lockout_window"`

	StorageType *string `json:"storage_type"`

	LocalRoot   *string `json:"local_root"`
	LocalDomain *string `json:"local_domain"`

	S3Endpoint   *string `json:"s3_endpoint"`
	S3AccessKey  *string `json:"s3_access_key"`
	S3SecretKey  *string `json:"s3_secret_key"`
	S3Bucket     *string `json:"s3_bucket"`
	S3Region     *string `json:"s3_region"`
	S3PublicBase *string `json:"s3_public_base"`
	S3UseSSL     *bool   `json:"s3_use_ssl"`
	S3PathStyle  *bool   `json:"s3_path_style"`

	TGEndpoint *string `json:"tg_endpoint"`
	TGBotToken *string `json:"tg_bot_token"`
	TGChatID   *string `json:"tg_chat_id"`

	FileAPIEndpoint *string `json:"file_api_endpoint"`
	FileAPIKey      *string `json:"file_api_key"`
	FileAPITimeout  *string `json:"file_api_timeout"`

	MaxFileSize       *int64   `json:"max_file_size"`
	AllowedExtensions []string `json:"allowed_extensions"`

	KeyStrategy     *string `json:"key_strategy"`
	DuplicatePolicy *string `json:"duplicate_policy"`
	HashPrefixLen   *int    `json:"hash_prefix_len"`

	OCREndpoint *string `json:"ocr_endpoint"`

	StorageTimeout *string `json:"storage_timeout"`
	StorageRetries *int    `json:"storage_retries"`
}

// applyDocument overlays the JSON document at path onto c. Malformed or
// unknown fields reject the whole document.
func (c *Config) applyDocument(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setTrimmed := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimRight(*src, "/")
		}
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setDuration := func(dst *time.Duration, src *string, field string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
		*dst = d
		return nil
	}

	setString(&c.AdminUser, doc.AdminUser)
	setString(&c.AdminPassword, doc.AdminPassword)
	setString(&c.AdminPasswordHash, doc.AdminPasswordHash)
	setString(&c.JWTSecret, doc.JWTSecret)
	setBool(&c.RequireAuth, doc.RequireAuth)
	if doc.WhitelistIPs != nil {
		c.WhitelistIPs = doc.WhitelistIPs
	}
	if doc.WhitelistDomains != nil {
		c.WhitelistDomains = doc.WhitelistDomains
	}

	setString(&c.RateLimitStrategy, doc.RateLimitStrategy)
	setInt(&c.RateLimitRequests, doc.RateLimitRequests)
	if err := setDuration(&c.RateLimitWindow, doc.RateLimitWindow, "rate_limit_window"); err != nil {
		return err
	}
	setInt(&c.LockoutThreshold, doc.LockoutThreshold)
	if err := setDuration(&c.LockoutWindow, doc.LockoutWindow, "lockout_window"); err != nil {
		return err
	}

	setString(&c.StorageType, doc.StorageType)
	setString(&c.LocalRoot, doc.LocalRoot)
	setTrimmed(&c.LocalDomain, doc.LocalDomain)
	setString(&c.S3Endpoint, doc.S3Endpoint)
	setString(&c.S3AccessKey, doc.S3AccessKey)
	setString(&c.S3SecretKey, doc.S3SecretKey)
	setString(&c.S3Bucket, doc.S3Bucket)
	setString(&c.S3Region, doc.S3Region)
	setTrimmed(&c.S3PublicBase, doc.S3PublicBase)
	setBool(&c.S3UseSSL, doc.S3UseSSL)
	setBool(&c.S3PathStyle, doc.S3PathStyle)
	setTrimmed(&c.TGEndpoint, doc.TGEndpoint)
	setString(&c.TGBotToken, doc.TGBotToken)
	setString(&c.TGChatID, doc.TGChatID)
	setTrimmed(&c.FileAPIEndpoint, doc.FileAPIEndpoint)
	setString(&c.FileAPIKey, doc.FileAPIKey)
	if err := setDuration(&c.FileAPITimeout, doc.FileAPITimeout, "file_api_timeout"); err != nil {
		return err
	}

	if doc.MaxFileSize != nil {
		c.MaxFileSize = *doc.MaxFileSize
	}
	if doc.AllowedExtensions != nil {
		c.AllowedExtensions = doc.AllowedExtensions
	}

	setString(&c.KeyStrategy, doc.KeyStrategy)
	setString(&c.DuplicatePolicy, doc.DuplicatePolicy)
	setInt(&c.HashPrefixLen, doc.HashPrefixLen)
	setTrimmed(&c.OCREndpoint, doc.OCREndpoint)
	if err := setDuration(&c.StorageTimeout, doc.StorageTimeout, "storage_timeout"); err != nil {
		return err
	}
	setInt(&c.StorageRetries, doc.StorageRetries)

	return nil
}
