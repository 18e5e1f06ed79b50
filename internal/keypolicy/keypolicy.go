// Package keypolicy derives the storage key for an upload and resolves
// naming collisions against the active backend.
package keypolicy

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Strategy selects how keys are derived.
type Strategy string

const (
	// StrategyDate nests keys under YYYY/MM/DD.
	StrategyDate Strategy = "date"
	// StrategyHash nests keys under pairs of content-hash hex characters.
	StrategyHash Strategy = "hash"
	// StrategyUUID replaces the filename with a fresh identifier.
	StrategyUUID Strategy = "uuid"
)

// DuplicatePolicy decides what happens when the derived key already exists.
type DuplicatePolicy string

const (
	// DuplicateRename appends "(n)" with the smallest unused n.
	DuplicateRename DuplicatePolicy = "rename"
	// DuplicateOverwrite proceeds; the prior object is superseded.
	DuplicateOverwrite DuplicatePolicy = "overwrite"
	// DuplicateError rejects before any backend write is attempted.
	DuplicateError DuplicatePolicy = "error"
)

// ErrDuplicateKey is returned under DuplicateError when the key is taken.
var ErrDuplicateKey = errors.New("duplicate key")

// ExistsFunc is the backend-provided existence check used for collision
// resolution.
type ExistsFunc func(ctx context.Context, key string) (bool, error)

// Options parameterize key derivation. Now and NewID default to the real
// clock and uuid generation; tests override them.
type Options struct {
	Strategy      Strategy
	Duplicate     DuplicatePolicy
	HashPrefixLen int  // hex chars of checksum used by StrategyHash
	KeepFilename  bool // StrategyUUID: append the sanitized original name

	Now   func() time.Time
	NewID func() string
}

// DeriveKey derives the storage key for a file. Apart from the existence
// check needed for collision handling, the result is a pure function of its
// inputs: the same filename, checksum, and strategy produce the same key.
func DeriveKey(ctx context.Context, filename, checksum string, opts Options, exists ExistsFunc) (string, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	name := SanitizeFilename(filename)

	var key string
	switch opts.Strategy {
	case StrategyDate:
		key = now().UTC().Format("2006/01/02") + "/" + name
	case StrategyHash:
		n := opts.HashPrefixLen
		if n <= 0 || n > len(checksum) {
			n = 4
		}
		var prefix []string
		for i := 0; i+2 <= n; i += 2 {
			prefix = append(prefix, checksum[i:i+2])
		}
		key = strings.Join(prefix, "/") + "/" + name
	case StrategyUUID:
		id := newID()
		if opts.KeepFilename {
			key = id + "_" + name
		} else {
			key = id + strings.ToLower(path.Ext(name))
		}
	default:
		return "", fmt.Errorf("unknown key strategy %q", opts.Strategy)
	}

	return resolveCollision(ctx, key, opts.Duplicate, exists)
}

func resolveCollision(ctx context.Context, key string, policy DuplicatePolicy, exists ExistsFunc) (string, error) {
	if exists == nil || policy == DuplicateOverwrite {
		return key, nil
	}

	taken, err := exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("check key %q: %w", key, err)
	}
	if !taken {
		return key, nil
	}

	switch policy {
	case DuplicateError:
		return "", fmt.Errorf("key %q: %w", key, ErrDuplicateKey)
	case DuplicateRename:
		base, ext := splitExt(key)
		for n := 1; ; n++ {
			candidate := fmt.Sprintf("%s(%d)%s", base, n, ext)
			taken, err := exists(ctx, candidate)
			if err != nil {
				return "", fmt.Errorf("check key %q: %w", candidate, err)
			}
			if !taken {
				return candidate, nil
			}
		}
	default:
		return "", fmt.Errorf("unknown duplicate policy %q", policy)
	}
}

// SanitizeFilename strips unsafe characters, keeping letters, digits, dot,
// underscore, and dash. Empty results fall back to "file"; a missing
// extension becomes ".bin".
func SanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(path.Ext(base))
	stem := strings.TrimSuffix(base, path.Ext(base))

	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		clean = "file"
	}
	if ext == "" || ext == "." {
		ext = ".bin"
	}
	return clean + ext
}

func splitExt(key string) (string, string) {
	ext := path.Ext(key)
	return strings.TrimSuffix(key, ext), ext
}
