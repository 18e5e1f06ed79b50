package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures the S3-compatible driver. Endpoint is host:port
// without scheme, MinIO style.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PathStyle bool
	// PresignTTL is the default link lifetime when the caller passes zero.
	PresignTTL time.Duration
}

// S3Driver stores objects in any S3-compatible service via the MinIO SDK.
type S3Driver struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

// NewS3 connects and ensures the bucket exists.
func NewS3(ctx context.Context, opts S3Options) (*S3Driver, error) {
	lookup := minio.BucketLookupDNS
	if opts.PathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:       opts.UseSSL,
		Region:       opts.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, WrapError(BackendS3, ErrUnavailable, "create s3 client", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, WrapError(BackendS3, ErrUnavailable, "check bucket", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, WrapError(BackendS3, ErrUnavailable, "create bucket", err)
		}
	}
	ttl := opts.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &S3Driver{client: client, bucket: opts.Bucket, ttl: ttl, now: time.Now}, nil
}

func (d *S3Driver) Backend() Backend { return BackendS3 }

func (d *S3Driver) classify(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return WrapError(BackendS3, ErrNotFound, op, err)
	case resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed:
		return WrapError(BackendS3, ErrPreconditionFailed, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(BackendS3, ErrTimeout, op, err)
	default:
		return WrapError(BackendS3, ErrUnavailable, op, err)
	}
}

func (d *S3Driver) Put(ctx context.Context, key string, data []byte, contentType string) (*StoredObject, error) {
	return d.put(ctx, key, data, contentType, minio.PutObjectOptions{ContentType: contentType})
}

// PutExclusive writes with If-None-Match so the server refuses the write when
// the key already holds an object.
func (d *S3Driver) PutExclusive(ctx context.Context, key string, data []byte, contentType string) (*StoredObject, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	opts.SetMatchETagExcept("*")
	return d.put(ctx, key, data, contentType, opts)
}

func (d *S3Driver) put(ctx context.Context, key string, data []byte, contentType string, opts minio.PutObjectOptions) (*StoredObject, error) {
	_, err := d.client.PutObject(ctx, d.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return nil, d.classify("put object", err)
	}
	sum := sha256.Sum256(data)
	link, err := d.Presign(ctx, key, d.ttl, OperationRead)
	if err != nil {
		return nil, err
	}
	return &StoredObject{
		Key:       key,
		Backend:   BackendS3,
		Size:      int64(len(data)),
		MimeType:  contentType,
		Checksum:  hex.EncodeToString(sum[:]),
		CreatedAt: d.now().UTC(),
		URL:       link,
	}, nil
}

func (d *S3Driver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := d.client.GetObject(ctx, d.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, d.classify("get object", err)
	}
	// GetObject is lazy; surface missing keys now rather than on first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, d.classify("stat object", err)
	}
	return obj, nil
}

// Delete copies the object under a trash/ prefix before removing it, unless
// permanent is set. The copy-then-remove pair is not atomic; a crash in
// between leaves both copies, never neither.
func (d *S3Driver) Delete(ctx context.Context, key string, permanent bool) error {
	if !permanent {
		dst := minio.CopyDestOptions{Bucket: d.bucket, Object: "trash/" + key}
		src := minio.CopySrcOptions{Bucket: d.bucket, Object: key}
		if _, err := d.client.CopyObject(ctx, dst, src); err != nil {
			return d.classify("copy to trash", err)
		}
	}
	if err := d.client.RemoveObject(ctx, d.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return d.classify("remove object", err)
	}
	return nil
}

func (d *S3Driver) Presign(ctx context.Context, key string, ttl time.Duration, op Operation) (string, error) {
	if ttl <= 0 {
		ttl = d.ttl
	}
	var (
		u   *url.URL
		err error
	)
	switch op {
	case OperationWrite:
		u, err = d.client.PresignedPutObject(ctx, d.bucket, key, ttl)
	default:
		u, err = d.client.PresignedGetObject(ctx, d.bucket, key, ttl, url.Values{})
	}
	if err != nil {
		return "", d.classify("presign", err)
	}
	return u.String(), nil
}

func (d *S3Driver) List(ctx context.Context, prefix, pageToken string, pageSize int) (*Page, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	page := &Page{}
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true, StartAfter: pageToken}
	for info := range d.client.ListObjects(ctx, d.bucket, opts) {
		if info.Err != nil {
			return nil, d.classify("list objects", info.Err)
		}
		if len(page.Objects) == pageSize {
			page.NextToken = page.Objects[len(page.Objects)-1].Key
			break
		}
		page.Objects = append(page.Objects, StoredObject{
			Key:       info.Key,
			Backend:   BackendS3,
			Size:      info.Size,
			MimeType:  info.ContentType,
			CreatedAt: info.LastModified.UTC(),
		})
	}
	return page, nil
}

func (d *S3Driver) Exists(ctx context.Context, key string) (bool, error) {
	_, err := d.client.StatObject(ctx, d.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if IsCode(d.classify("stat object", err), ErrNotFound) {
			return false, nil
		}
		return false, d.classify("stat object", err)
	}
	return true, nil
}
