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

// telegramMaxSize is the Bot API document limit. Larger payloads are
// rejected before any network round trip.
const telegramMaxSize = 50 << 20

// telegramDocExts are the document types the relay forwards. Anything else
// is refused before any network round trip.
var telegramDocExts = map[string]bool{
	".pdf": true, ".txt": true, ".md": true, ".csv": true, ".json": true,
	".xml": true, ".html": true, ".docx": true, ".xlsx": true, ".pptx": true,
	".odt": true, ".rtf": true, ".epub": true,
	".zip": true, ".gz": true, ".tar": true, ".7z": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".svg": true, ".bmp": true, ".tiff": true,
	".mp3": true, ".ogg": true, ".wav": true, ".flac": true, ".m4a": true,
	".mp4": true, ".webm": true, ".mov": true, ".mkv": true,
}

// TelegramOptions configures the Telegram relay driver.
type TelegramOptions struct {
	BotToken string
	ChatID   string
	// BaseURL overrides https://api.telegram.org, for tests.
	BaseURL string
	Client  *http.Client
}

// TelegramDriver relays objects through a Telegram bot chat. Telegram
// assigns its own file identifiers, so the key-to-file mapping lives only
// in process memory; restarting the service forgets keys but the served
// CDN links stay valid.
type TelegramDriver struct {
	opts  TelegramOptions
	files *lru.Cache[string, telegramFile]
	now   func() time.Time
}

type telegramFile struct {
	fileID string
	url    string
	size   int64
	mime   string
	stored time.Time
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func NewTelegram(opts TelegramOptions) (*TelegramDriver, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.telegram.org"
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 60 * time.Second}
	}
	files, err := lru.New[string, telegramFile](4096)
	if err != nil {
		return nil, WrapError(BackendTelegram, ErrInternal, "create file index", err)
	}
	return &TelegramDriver{opts: opts, files: files, now: time.Now}, nil
}

func (d *TelegramDriver) Backend() Backend { return BackendTelegram }

func (d *TelegramDriver) call(ctx context.Context, method string, contentType string, body io.Reader, out any) error {
	url := fmt.Sprintf("%s/bot%s/%s", d.opts.BaseURL, d.opts.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return WrapError(BackendTelegram, ErrInternal, method, err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := d.opts.Client.Do(req)
	if err != nil {
		return WrapError(BackendTelegram, ErrUnavailable, method, err)
	}
	defer resp.Body.Close()
	var envelope telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return WrapError(BackendTelegram, ErrUnavailable, method+" decode", err)
	}
	if !envelope.OK {
		return NewError(BackendTelegram, ErrUnavailable, method+": "+envelope.Description)
	}
	return json.Unmarshal(envelope.Result, out)
}

func (d *TelegramDriver) Put(ctx context.Context, key string, data []byte, contentType string) (*StoredObject, error) {
	if int64(len(data)) > telegramMaxSize {
		return nil, NewError(BackendTelegram, ErrUnsupportedByBackend,
			fmt.Sprintf("document of %d bytes exceeds the 50 MiB bot limit", len(data)))
	}
	if ext := strings.ToLower(path.Ext(key)); !telegramDocExts[ext] {
		return nil, NewError(BackendTelegram, ErrUnsupportedByBackend,
			fmt.Sprintf("document type %q is not relayed", ext))
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("chat_id", d.opts.ChatID); err != nil {
		return nil, WrapError(BackendTelegram, ErrInternal, "encode request", err)
	}
	part, err := mw.CreateFormFile("document", path.Base(key))
	if err != nil {
		return nil, WrapError(BackendTelegram, ErrInternal, "encode request", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, WrapError(BackendTelegram, ErrInternal, "encode request", err)
	}
	if err := mw.Close(); err != nil {
		return nil, WrapError(BackendTelegram, ErrInternal, "encode request", err)
	}

	var sent struct {
		Document struct {
			FileID string `json:"file_id"`
		} `json:"document"`
	}
	if err := d.call(ctx, "sendDocument", mw.FormDataContentType(), &body, &sent); err != nil {
		return nil, err
	}
	if sent.Document.FileID == "" {
		return nil, NewError(BackendTelegram, ErrUnavailable, "sendDocument returned no file id")
	}

	cdnURL, err := d.fileURL(ctx, sent.Document.FileID)
	if err != nil {
		return nil, err
	}

	now := d.now().UTC()
	d.files.Add(key, telegramFile{
		fileID: sent.Document.FileID,
		url:    cdnURL,
		size:   int64(len(data)),
		mime:   contentType,
		stored: now,
	})
	sum := sha256.Sum256(data)
	return &StoredObject{
		Key:       key,
		Backend:   BackendTelegram,
		Size:      int64(len(data)),
		MimeType:  contentType,
		Checksum:  hex.EncodeToString(sum[:]),
		CreatedAt: now,
		URL:       cdnURL,
	}, nil
}

// fileURL resolves a file_id to the bot CDN download link.
func (d *TelegramDriver) fileURL(ctx context.Context, fileID string) (string, error) {
	var file struct {
		FilePath string `json:"file_path"`
	}
	form := fmt.Sprintf("file_id=%s", fileID)
	if err := d.call(ctx, "getFile", "application/x-www-form-urlencoded", bytes.NewBufferString(form), &file); err != nil {
		return "", err
	}
	if file.FilePath == "" {
		return "", NewError(BackendTelegram, ErrUnavailable, "getFile returned no path")
	}
	return fmt.Sprintf("%s/file/bot%s/%s", d.opts.BaseURL, d.opts.BotToken, file.FilePath), nil
}

func (d *TelegramDriver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, ok := d.files.Get(key)
	if !ok {
		return nil, NewError(BackendTelegram, ErrNotFound, key)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, WrapError(BackendTelegram, ErrInternal, "build download request", err)
	}
	resp, err := d.opts.Client.Do(req)
	if err != nil {
		return nil, WrapError(BackendTelegram, ErrUnavailable, "download document", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, NewError(BackendTelegram, ErrNotFound, key)
		}
		return nil, NewError(BackendTelegram, ErrUnavailable, fmt.Sprintf("download returned %d", resp.StatusCode))
	}
	return resp.Body, nil
}

// Delete is not offered by the Bot API; messages can only be removed
// chat-side.
func (d *TelegramDriver) Delete(ctx context.Context, key string, permanent bool) error {
	return NewError(BackendTelegram, ErrUnsupported, "delete")
}

// Presign returns the CDN link recorded at upload time. The link's real
// lifetime is controlled by Telegram, not by ttl.
func (d *TelegramDriver) Presign(ctx context.Context, key string, ttl time.Duration, op Operation) (string, error) {
	if op == OperationWrite {
		return "", NewError(BackendTelegram, ErrUnsupported, "write presigning")
	}
	f, ok := d.files.Get(key)
	if !ok {
		return "", NewError(BackendTelegram, ErrNotFound, key)
	}
	return f.url, nil
}

// List walks the in-memory index; keys uploaded by earlier process
// incarnations are not visible.
func (d *TelegramDriver) List(ctx context.Context, prefix, pageToken string, pageSize int) (*Page, error) {
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
		f, ok := d.files.Peek(key)
		if !ok {
			continue
		}
		if len(page.Objects) == pageSize {
			page.NextToken = page.Objects[len(page.Objects)-1].Key
			break
		}
		page.Objects = append(page.Objects, StoredObject{
			Key:       key,
			Backend:   BackendTelegram,
			Size:      f.size,
			MimeType:  f.mime,
			CreatedAt: f.stored,
			URL:       f.url,
		})
	}
	return page, nil
}

func (d *TelegramDriver) Exists(ctx context.Context, key string) (bool, error) {
	return d.files.Contains(key), nil
}
