package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	trashDir = ".trash"
	// tempPrefix names in-flight upload files; they are invisible to List.
	tempPrefix = ".upload-"
)

// LocalDriver persists objects under a root directory on the local
// filesystem. Writes go to a temp file first and are moved into place with
// an atomic rename, so readers never observe a partial object.
type LocalDriver struct {
	root      string
	publicURL string
	now       func() time.Time
}

// NewLocal creates the root (and its trash subdirectory) if missing.
// publicURL, when set, is the base under which stored keys are reachable;
// the driver returns publicURL-joined links instead of time-limited ones.
func NewLocal(root, publicURL string) (*LocalDriver, error) {
	if err := os.MkdirAll(filepath.Join(root, trashDir), 0o755); err != nil {
		return nil, WrapError(BackendLocal, ErrUnavailable, "create storage root", err)
	}
	return &LocalDriver{root: root, publicURL: strings.TrimRight(publicURL, "/"), now: time.Now}, nil
}

func (d *LocalDriver) Backend() Backend { return BackendLocal }

// resolve maps a key to a path under root, rejecting traversal.
func (d *LocalDriver) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.HasPrefix(clean, "/"+trashDir) {
		return "", NewError(BackendLocal, ErrNotFound, "invalid key "+key)
	}
	return filepath.Join(d.root, filepath.FromSlash(clean)), nil
}

func (d *LocalDriver) Put(ctx context.Context, key string, data []byte, contentType string) (*StoredObject, error) {
	dst, err := d.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, WrapError(BackendLocal, ErrUnavailable, "create key directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+"*")
	if err != nil {
		return nil, WrapError(BackendLocal, ErrUnavailable, "create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, WrapError(BackendLocal, ErrUnavailable, "write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, WrapError(BackendLocal, ErrUnavailable, "close temp file", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return nil, WrapError(BackendLocal, ErrUnavailable, "finalize object", err)
	}
	sum := sha256.Sum256(data)
	obj := &StoredObject{
		Key:       strings.TrimPrefix(path.Clean("/"+key), "/"),
		Backend:   BackendLocal,
		Size:      int64(len(data)),
		MimeType:  contentType,
		Checksum:  hex.EncodeToString(sum[:]),
		CreatedAt: d.now().UTC(),
	}
	if d.publicURL != "" {
		obj.URL = d.publicURL + "/" + obj.Key
	}
	return obj, nil
}

func (d *LocalDriver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := d.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewError(BackendLocal, ErrNotFound, key)
		}
		return nil, WrapError(BackendLocal, ErrUnavailable, "open object", err)
	}
	return f, nil
}

// Delete moves the object into the trash subdirectory unless permanent is
// set. Trashed objects keep their key with a timestamp suffix so repeated
// deletes of re-uploaded keys do not collide.
func (d *LocalDriver) Delete(ctx context.Context, key string, permanent bool) error {
	p, err := d.resolve(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return NewError(BackendLocal, ErrNotFound, key)
		}
		return WrapError(BackendLocal, ErrUnavailable, "stat object", err)
	}
	if permanent {
		if err := os.Remove(p); err != nil {
			return WrapError(BackendLocal, ErrUnavailable, "remove object", err)
		}
		return nil
	}
	trashed := filepath.Join(d.root, trashDir,
		fmt.Sprintf("%s.%d", strings.ReplaceAll(strings.TrimPrefix(path.Clean("/"+key), "/"), "/", "_"), d.now().UnixNano()))
	if err := os.Rename(p, trashed); err != nil {
		return WrapError(BackendLocal, ErrUnavailable, "trash object", err)
	}
	return nil
}

// Presign returns a stable public link. Local files are served as static
// content, so the ttl is advisory and the link does not expire.
func (d *LocalDriver) Presign(ctx context.Context, key string, ttl time.Duration, op Operation) (string, error) {
	if op == OperationWrite {
		return "", NewError(BackendLocal, ErrUnsupportedByBackend, "write presigning")
	}
	if d.publicURL == "" {
		return "", NewError(BackendLocal, ErrUnsupportedByBackend, "no public base URL configured")
	}
	ok, err := d.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", NewError(BackendLocal, ErrNotFound, key)
	}
	return d.publicURL + "/" + strings.TrimPrefix(path.Clean("/"+key), "/"), nil
}

// List walks the tree once and returns keys in lexical order. pageToken is
// the last key of the previous page; listing resumes strictly after it.
func (d *LocalDriver) List(ctx context.Context, prefix, pageToken string, pageSize int) (*Page, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var keys []string
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == trashDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(entry.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && key > pageToken {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, WrapError(BackendLocal, ErrUnavailable, "walk storage root", err)
	}
	sort.Strings(keys)
	page := &Page{}
	for _, key := range keys {
		if len(page.Objects) == pageSize {
			page.NextToken = page.Objects[len(page.Objects)-1].Key
			break
		}
		info, err := os.Stat(filepath.Join(d.root, filepath.FromSlash(key)))
		if err != nil {
			continue // deleted between walk and stat
		}
		obj := StoredObject{
			Key:       key,
			Backend:   BackendLocal,
			Size:      info.Size(),
			CreatedAt: info.ModTime().UTC(),
		}
		if d.publicURL != "" {
			obj.URL = d.publicURL + "/" + key
		}
		page.Objects = append(page.Objects, obj)
	}
	return page, nil
}

func (d *LocalDriver) Exists(ctx context.Context, key string) (bool, error) {
	p, err := d.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, WrapError(BackendLocal, ErrUnavailable, "stat object", err)
	}
	return true, nil
}
