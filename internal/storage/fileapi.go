package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FileAPIOptions configures the remote file-service driver.
type FileAPIOptions struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

// FileAPIDriver delegates persistence to an external file service that
// accepts multipart uploads and answers with a public URL. Like the
// Telegram relay, the service does not expose key lookup, so the driver
// keeps its own in-memory key index.
type FileAPIDriver struct {
	opts  FileAPIOptions
	files *lru.Cache[string, fileAPIEntry]
	now   func() time.Time
}

type fileAPIEntry struct {
	url    string
	size   int64
	mime   string
	stored time.Time
}

func NewFileAPI(opts FileAPIOptions) (*FileAPIDriver, error) {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 60 * time.Second}
	}
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	files, err := lru.New[string, fileAPIEntry](4096)
	if err != nil {
		return nil, WrapError(BackendFileAPI, ErrInternal, "create file index", err)
	}
	return &FileAPIDriver{opts: opts, files: files, now: time.Now}, nil
}

func (d *FileAPIDriver) Backend() Backend { return BackendFileAPI }

func (d *FileAPIDriver) Put(ctx context.Context, key string, data []byte, contentType string) (*StoredObject, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", path.Base(key))
	if err != nil {
		return nil, WrapError(BackendFileAPI, ErrInternal, "encode request", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, WrapError(BackendFileAPI, ErrInternal, "encode request", err)
	}
	if err := mw.Close(); err != nil {
		return nil, WrapError(BackendFileAPI, ErrInternal, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.opts.Endpoint+"/v1/file", &body)
	if err != nil {
		return nil, WrapError(BackendFileAPI, ErrInternal, "build upload request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if d.opts.Token != "" {
		req.Header.Set("Authorization", d.opts.Token)
	}
	resp, err := d.opts.Client.Do(req)
	if err != nil {
		return nil, WrapError(BackendFileAPI, ErrUnavailable, "upload", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, NewError(BackendFileAPI, ErrUnavailable, fmt.Sprintf("upload returned %d", resp.StatusCode))
	}
	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(BackendFileAPI, ErrUnavailable, "decode upload response", err)
	}
	if result.URL == "" {
		return nil, NewError(BackendFileAPI, ErrUnavailable, "upload response carried no url")
	}

	now := d.now().UTC()
	d.files.Add(key, fileAPIEntry{url: result.URL, size: int64(len(data)), mime: contentType, stored: now})
	sum := sha256.Sum256(data)
	return &StoredObject{
		Key:       key,
		Backend:   BackendFileAPI,
		Size:      int64(len(data)),
		MimeType:  contentType,
		Checksum:  hex.EncodeToString(sum[:]),
		CreatedAt: now,
		URL:       result.URL,
	}, nil
}

func (d *FileAPIDriver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	entry, ok := d.files.Get(key)
	if !ok {
		return nil, NewError(BackendFileAPI, ErrNotFound, key)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.url, nil)
	if err != nil {
		return nil, WrapError(BackendFileAPI, ErrInternal, "build download request", err)
	}
	resp, err := d.opts.Client.Do(req)
	if err != nil {
		return nil, WrapError(BackendFileAPI, ErrUnavailable, "download", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, NewError(BackendFileAPI, ErrNotFound, key)
		}
		return nil, NewError(BackendFileAPI, ErrUnavailable, fmt.Sprintf("download returned %d", resp.StatusCode))
	}
	return resp.Body, nil
}

// Delete is not part of the remote service's contract.
func (d *FileAPIDriver) Delete(ctx context.Context, key string, permanent bool) error {
	return NewError(BackendFileAPI, ErrUnsupported, "delete")
}

func (d *FileAPIDriver) Presign(ctx context.Context, key string, ttl time.Duration, op Operation) (string, error) {
	if op == OperationWrite {
		return "", NewError(BackendFileAPI, ErrUnsupported, "write presigning")
	}
	entry, ok := d.files.Get(key)
	if !ok {
		return "", NewError(BackendFileAPI, ErrNotFound, key)
	}
	return entry.url, nil
}

func (d *FileAPIDriver) List(ctx context.Context, prefix, pageToken string, pageSize int) (*Page, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	keys := d.files.Keys()
	sort.Strings(keys)
	page := &Page{}
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) || key <= pageToken {
			continue
		}
		entry, ok := d.files.Peek(key)
		if !ok {
			continue
		}
		if len(page.Objects) == pageSize {
			page.NextToken = page.Objects[len(page.Objects)-1].Key
			break
		}
		page.Objects = append(page.Objects, StoredObject{
			Key:       key,
			Backend:   BackendFileAPI,
			Size:      entry.size,
			MimeType:  entry.mime,
			CreatedAt: entry.stored,
			URL:       entry.url,
		})
	}
	return page, nil
}

func (d *FileAPIDriver) Exists(ctx context.Context, key string) (bool, error) {
	return d.files.Contains(key), nil
}
