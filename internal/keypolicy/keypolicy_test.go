package keypolicy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checksum = "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func noneExist(context.Context, string) (bool, error) { return false, nil }

func existing(keys ...string) ExistsFunc {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return func(_ context.Context, key string) (bool, error) {
		return set[key], nil
	}
}

func TestDeriveKeyDate(t *testing.T) {
	key, err := DeriveKey(context.Background(), "report.pdf", checksum,
		Options{Strategy: StrategyDate, Duplicate: DuplicateRename, Now: fixedNow}, noneExist)
	require.NoError(t, err)
	assert.Equal(t, "2026/03/14/report.pdf", key)
}

func TestDeriveKeyHash(t *testing.T) {
	key, err := DeriveKey(context.Background(), "report.pdf", checksum,
		Options{Strategy: StrategyHash, Duplicate: DuplicateRename, HashPrefixLen: 4}, noneExist)
	require.NoError(t, err)
	assert.Equal(t, "ab/12/report.pdf", key)
}

func TestDeriveKeyUUID(t *testing.T) {
	newID := func() string { return "0f66536e-8d3f-4a4e-9f60-0f1f4ad2c2a1" }

	key, err := DeriveKey(context.Background(), "report.pdf", checksum,
		Options{Strategy: StrategyUUID, Duplicate: DuplicateRename, NewID: newID}, noneExist)
	require.NoError(t, err)
	assert.Equal(t, "0f66536e-8d3f-4a4e-9f60-0f1f4ad2c2a1.pdf", key)

	key, err = DeriveKey(context.Background(), "report.pdf", checksum,
		Options{Strategy: StrategyUUID, Duplicate: DuplicateRename, KeepFilename: true, NewID: newID}, noneExist)
	require.NoError(t, err)
	assert.Equal(t, "0f66536e-8d3f-4a4e-9f60-0f1f4ad2c2a1_report.pdf", key)
}

func TestDeriveKeyIdempotent(t *testing.T) {
	opts := Options{Strategy: StrategyHash, Duplicate: DuplicateRename, HashPrefixLen: 6}

	first, err := DeriveKey(context.Background(), "data.csv", checksum, opts, noneExist)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := DeriveKey(context.Background(), "data.csv", checksum, opts, noneExist)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDuplicateRenameSmallestUnused(t *testing.T) {
	exists := existing("2026/03/14/a.jpg", "2026/03/14/a(1).jpg")

	key, err := DeriveKey(context.Background(), "a.jpg", checksum,
		Options{Strategy: StrategyDate, Duplicate: DuplicateRename, Now: fixedNow}, exists)
	require.NoError(t, err)
	assert.Equal(t, "2026/03/14/a(2).jpg", key)
}

func TestDuplicateErrorRejectsBeforeWrite(t *testing.T) {
	exists := existing("2026/03/14/a.jpg")

	_, err := DeriveKey(context.Background(), "a.jpg", checksum,
		Options{Strategy: StrategyDate, Duplicate: DuplicateError, Now: fixedNow}, exists)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestDuplicateOverwriteSkipsExistenceCheck(t *testing.T) {
	called := false
	exists := func(context.Context, string) (bool, error) {
		called = true
		return true, nil
	}

	key, err := DeriveKey(context.Background(), "a.jpg", checksum,
		Options{Strategy: StrategyDate, Duplicate: DuplicateOverwrite, Now: fixedNow}, exists)
	require.NoError(t, err)
	assert.Equal(t, "2026/03/14/a.jpg", key)
	assert.False(t, called)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"my report (final).PDF", "myreportfinal.pdf"},
		{"../../etc/passwd", "passwd.bin"},
		{"..\\..\\boot.ini", "boot.ini"},
		{"héllo wörld.txt", "hllowrld.txt"},
		{"???", "file.bin"},
		{"noext", "noext.bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "input %q", tt.in)
	}
}
