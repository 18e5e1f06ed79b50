package upload

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/filegate/service/internal/apperr"
	"github.com/filegate/service/internal/config"
	"github.com/filegate/service/internal/extract"
	"github.com/filegate/service/internal/storage"
)

type staticDrivers struct{ d storage.Driver }

func (s staticDrivers) Driver() storage.Driver { return s.d }

func testConfig() *config.Config {
	return &config.Config{
		RequireAuth:       false,
		RateLimitStrategy: "sliding",
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		LockoutThreshold:  5,
		LockoutWindow:     time.Minute,
		StorageType:       config.StorageNone,
		MaxFileSize:       1 << 20,
		KeyStrategy:       "date",
		DuplicatePolicy:   "rename",
		HashPrefixLen:     4,
		StorageTimeout:    time.Second,
	}
}

func newService(t *testing.T, cfg *config.Config, driver storage.Driver, ocr *extract.OCRClient) *Service {
	t.Helper()
	store := config.NewStore(cfg)
	require.NoError(t, store.Swap(cfg))
	return NewService(store, staticDrivers{driver}, nil, ocr, zap.NewNop())
}

func textFile(name, content string) File {
	return File{Name: name, ContentType: "text/plain", SizeHint: int64(len(content)), Reader: strings.NewReader(content)}
}

func TestHandleExtractsText(t *testing.T) {
	s := newService(t, testConfig(), storage.NewNull(), nil)

	res := s.Handle(context.Background(), textFile("notes.txt", "hello"), Options{EnableVision: true})
	require.True(t, res.Status, res.Error)
	assert.Equal(t, "text", res.Type)
	assert.Equal(t, "hello", res.Content.Text)
	assert.Empty(t, res.Content.URL)
}

func TestHandleRejectsSaveAllWithoutStorage(t *testing.T) {
	s := newService(t, testConfig(), storage.NewNull(), nil)

	res := s.Handle(context.Background(), textFile("notes.txt", "hello"), Options{SaveAll: true, EnableVision: true})
	require.False(t, res.Status)
	assert.Contains(t, res.Error, string(apperr.CodeStorageRequired))
}

func TestHandleRejectsImageWithoutVisionOrOCR(t *testing.T) {
	cfg := testConfig()
	cfg.StorageType = config.StorageLocal
	cfg.LocalRoot = t.TempDir()
	local, err := storage.NewLocal(cfg.LocalRoot, "")
	require.NoError(t, err)
	s := newService(t, cfg, local, nil)

	res := s.Handle(context.Background(),
		File{Name: "photo.png", ContentType: "image/png", Reader: strings.NewReader("png")},
		Options{EnableVision: false, EnableOCR: false})
	require.False(t, res.Status)
	assert.Contains(t, res.Error, string(apperr.CodeVisionOrOCRRequired))
}

func TestHandleRejectsLegacyOfficeFormats(t *testing.T) {
	s := newService(t, testConfig(), storage.NewNull(), nil)

	for _, name := range []string{"memo.doc", "deck.ppt"} {
		res := s.Handle(context.Background(), textFile(name, "x"), Options{EnableVision: true})
		require.False(t, res.Status, name)
		assert.Contains(t, res.Error, string(apperr.CodeUnsupportedLegacyFormat))
	}
}

func TestHandleEnforcesAllowedExtensions(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedExtensions = []string{"txt", "pdf"}
	s := newService(t, cfg, storage.NewNull(), nil)

	res := s.Handle(context.Background(), textFile("notes.txt", "ok"), Options{EnableVision: true})
	assert.True(t, res.Status, res.Error)

	res = s.Handle(context.Background(),
		File{Name: "tool.exe", ContentType: "application/octet-stream", Reader: strings.NewReader("MZ")},
		Options{EnableVision: true})
	require.False(t, res.Status)
	assert.Contains(t, res.Error, string(apperr.CodeUnsupportedFileType))
}

func TestHandleRejectsOversizeByHint(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFileSize = 10
	s := newService(t, cfg, storage.NewNull(), nil)

	res := s.Handle(context.Background(),
		File{Name: "a.txt", ContentType: "text/plain", SizeHint: 11, Reader: strings.NewReader("")},
		Options{EnableVision: true})
	require.False(t, res.Status)
	assert.Contains(t, res.Error, string(apperr.CodeFileTooLarge))
}

func TestHandleRejectsOversizeByStream(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFileSize = 4
	s := newService(t, cfg, storage.NewNull(), nil)

	// No size hint: the streaming cutoff must still fire.
	res := s.Handle(context.Background(),
		File{Name: "a.txt", ContentType: "text/plain", Reader: strings.NewReader("too big")},
		Options{EnableVision: true})
	require.False(t, res.Status)
	assert.Contains(t, res.Error, string(apperr.CodeFileTooLarge))
}

func TestHandlePersistsWithSaveAll(t *testing.T) {
	cfg := testConfig()
	cfg.StorageType = config.StorageLocal
	cfg.LocalRoot = t.TempDir()
	cfg.LocalDomain = "https://files.example.com"
	local, err := storage.NewLocal(cfg.LocalRoot, cfg.LocalDomain)
	require.NoError(t, err)
	s := newService(t, cfg, local, nil)

	res := s.Handle(context.Background(), textFile("notes.txt", "hello"), Options{SaveAll: true, EnableVision: true})
	require.True(t, res.Status, res.Error)
	assert.Equal(t, "hello", res.Content.Text)
	require.NotEmpty(t, res.Content.Key)
	assert.Contains(t, res.Content.URL, "https://files.example.com/")

	ok, err := local.Exists(context.Background(), res.Content.Key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandleDuplicateErrorPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.StorageType = config.StorageLocal
	cfg.LocalRoot = t.TempDir()
	cfg.DuplicatePolicy = "error"
	local, err := storage.NewLocal(cfg.LocalRoot, "")
	require.NoError(t, err)
	s := newService(t, cfg, local, nil)

	first := s.Handle(context.Background(), textFile("notes.txt", "hello"), Options{SaveAll: true, EnableVision: true})
	require.True(t, first.Status, first.Error)

	second := s.Handle(context.Background(), textFile("notes.txt", "hello"), Options{SaveAll: true, EnableVision: true})
	require.False(t, second.Status)
	assert.Contains(t, second.Error, string(apperr.CodeDuplicateKey))

	// Per-request overwrite bypasses the policy.
	third := s.Handle(context.Background(), textFile("notes.txt", "changed"), Options{SaveAll: true, EnableVision: true, Overwrite: true})
	assert.True(t, third.Status, third.Error)
}

// racingDriver reports every key as free yet refuses exclusive writes, the
// shape of a concurrent writer landing between the existence check and the
// put.
type racingDriver struct {
	*storage.NullDriver
	refuse        bool
	exclusivePuts int
	plainPuts     int
}

func (d *racingDriver) Backend() storage.Backend { return storage.BackendS3 }

func (d *racingDriver) Exists(ctx context.Context, key string) (bool, error) { return false, nil }

func (d *racingDriver) Put(ctx context.Context, key string, data []byte, contentType string) (*storage.StoredObject, error) {
	d.plainPuts++
	return d.NullDriver.Put(ctx, key, data, contentType)
}

func (d *racingDriver) PutExclusive(ctx context.Context, key string, data []byte, contentType string) (*storage.StoredObject, error) {
	d.exclusivePuts++
	if d.refuse {
		return nil, storage.NewError(storage.BackendS3, storage.ErrPreconditionFailed, key)
	}
	return d.NullDriver.Put(ctx, key, data, contentType)
}

func TestHandleErrorPolicyUsesExclusiveCreate(t *testing.T) {
	cfg := testConfig()
	cfg.DuplicatePolicy = "error"
	driver := &racingDriver{NullDriver: storage.NewNull(), refuse: true}
	s := newService(t, cfg, driver, nil)

	res := s.Handle(context.Background(), textFile("notes.txt", "hello"), Options{SaveAll: true, EnableVision: true})
	require.False(t, res.Status)
	assert.Contains(t, res.Error, string(apperr.CodeDuplicateKey),
		"a competing writer the existence check missed must still surface as a duplicate")
	assert.Equal(t, 1, driver.exclusivePuts)
	assert.Zero(t, driver.plainPuts)

	// Per-request overwrite drops back to the plain write.
	res = s.Handle(context.Background(), textFile("notes.txt", "hello"), Options{SaveAll: true, EnableVision: true, Overwrite: true})
	require.True(t, res.Status, res.Error)
	assert.Equal(t, 1, driver.plainPuts)
}

func TestHandleOCRPath(t *testing.T) {
	ocrServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":"scanned words"}`)
	}))
	defer ocrServer.Close()

	cfg := testConfig()
	cfg.StorageType = config.StorageLocal
	cfg.LocalRoot = t.TempDir()
	local, err := storage.NewLocal(cfg.LocalRoot, "")
	require.NoError(t, err)
	s := newService(t, cfg, local, extract.NewOCRClient(ocrServer.URL, 0))

	res := s.Handle(context.Background(),
		File{Name: "scan.png", ContentType: "image/png", Reader: strings.NewReader("png-bytes")},
		Options{EnableOCR: true})
	require.True(t, res.Status, res.Error)
	assert.Equal(t, "image", res.Type)
	assert.Equal(t, "scanned words", res.Content.Text)
	assert.NotEmpty(t, res.Content.Key, "images are persisted when storage is configured")
}

func TestHandleOCRDisabledWithoutService(t *testing.T) {
	s := newService(t, testConfig(), storage.NewNull(), nil)

	// enable_ocr alone cannot admit the image when no OCR service exists.
	res := s.Handle(context.Background(),
		File{Name: "scan.png", ContentType: "image/png", Reader: strings.NewReader("png")},
		Options{EnableOCR: true, EnableVision: false})
	require.False(t, res.Status)
	assert.Contains(t, res.Error, string(apperr.CodeVisionOrOCRRequired))
}

func TestHandleBatchPartialFailure(t *testing.T) {
	s := newService(t, testConfig(), storage.NewNull(), nil)

	files := []File{
		textFile("one.txt", "first"),
		textFile("memo.doc", "legacy"),
		textFile("two.txt", "second"),
	}
	batch := s.HandleBatch(context.Background(), files, Options{EnableVision: true})

	assert.Equal(t, Summary{Total: 3, Success: 2, Failed: 1}, batch.Summary)
	require.Len(t, batch.Results, 3)
	assert.True(t, batch.Results[0].Status)
	assert.False(t, batch.Results[1].Status)
	assert.Equal(t, "memo.doc", batch.Results[1].Filename)
	assert.Contains(t, batch.Results[1].Error, string(apperr.CodeUnsupportedLegacyFormat))
	assert.True(t, batch.Results[2].Status)
}
