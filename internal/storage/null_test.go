package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullPutReturnsInlineDataURL(t *testing.T) {
	d := NewNull()

	obj, err := d.Put(context.Background(), "note.txt", []byte("hi"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, BackendNone, obj.Backend)
	assert.Empty(t, obj.URL)
	assert.Equal(t, "data:text/plain;base64,aGk=", obj.Inline)
}

func TestNullDefaultsContentType(t *testing.T) {
	d := NewNull()

	obj, err := d.Put(context.Background(), "blob", []byte{0x00}, "")
	require.NoError(t, err)
	assert.Contains(t, obj.Inline, "data:application/octet-stream;base64,")
}

func TestNullNeverPersists(t *testing.T) {
	d := NewNull()
	ctx := context.Background()

	_, err := d.Put(ctx, "a.txt", []byte("x"), "text/plain")
	require.NoError(t, err)

	ok, err := d.Exists(ctx, "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = d.Get(ctx, "a.txt")
	assert.True(t, IsCode(err, ErrNotFound))

	page, err := d.List(ctx, "", "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Objects)
}
