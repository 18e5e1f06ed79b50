package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
)

// RetryOptions bounds the retry wrapper. Attempts counts total tries,
// not re-tries; 1 disables retrying.
type RetryOptions struct {
	Attempts int
	Delay    time.Duration
	Timeout  time.Duration
	// SafePut marks the wrapped driver's Put as idempotent, allowing
	// failed puts to be retried. Leave false for backends where a
	// duplicate put creates a second object.
	SafePut bool
}

// WithRetry wraps d so transient failures (UNAVAILABLE, TIMEOUT) are
// retried with a fixed delay, and each attempt runs under its own
// deadline. Non-transient failures pass through on the first attempt.
func WithRetry(d Driver, opts RetryOptions, log *zap.Logger) Driver {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	rd := &retryDriver{inner: d, opts: opts, log: log}
	if _, ok := d.(ConditionalPutter); ok {
		return &exclusiveRetryDriver{retryDriver: rd}
	}
	return rd
}

// exclusiveRetryDriver is returned when the wrapped driver supports
// conditional puts, so the capability survives the wrapping.
type exclusiveRetryDriver struct {
	*retryDriver
}

func (r *exclusiveRetryDriver) PutExclusive(ctx context.Context, key string, data []byte, contentType string) (*StoredObject, error) {
	cp := r.inner.(ConditionalPutter)
	var obj *StoredObject
	err := r.do(ctx, "put", key, r.opts.SafePut, nil, func(ctx context.Context) error {
		var err error
		obj, err = cp.PutExclusive(ctx, key, data, contentType)
		return err
	})
	return obj, err
}

type retryDriver struct {
	inner Driver
	opts  RetryOptions
	log   *zap.Logger
}

func (r *retryDriver) Backend() Backend { return r.inner.Backend() }

// do runs fn under the retry policy. When release is non-nil, a successful
// attempt hands its deadline's cancel to *release instead of canceling it,
// for operations whose result outlives the call.
func (r *retryDriver) do(ctx context.Context, op, key string, idempotent bool, release *context.CancelFunc, fn func(ctx context.Context) error) error {
	attempts := r.opts.Attempts
	if !idempotent {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			r.log.Warn("retrying storage operation",
				zap.String("op", op),
				zap.String("key", key),
				zap.String("backend", string(r.inner.Backend())),
				zap.Int("attempt", i+1),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return WrapError(r.inner.Backend(), ErrTimeout, op+" canceled", ctx.Err())
			case <-time.After(r.opts.Delay):
			}
		}
		err = r.attempt(ctx, op, release, fn)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func (r *retryDriver) attempt(ctx context.Context, op string, release *context.CancelFunc, fn func(ctx context.Context) error) error {
	if r.opts.Timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	err := fn(attemptCtx)
	if err == nil && release != nil {
		*release = cancel
		return nil
	}
	cancel()
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return WrapError(r.inner.Backend(), ErrTimeout, op+" deadline exceeded", err)
	}
	return err
}

func (r *retryDriver) Put(ctx context.Context, key string, data []byte, contentType string) (*StoredObject, error) {
	var obj *StoredObject
	err := r.do(ctx, "put", key, r.opts.SafePut, nil, func(ctx context.Context) error {
		var err error
		obj, err = r.inner.Put(ctx, key, data, contentType)
		return err
	})
	return obj, err
}

// Get keeps the per-attempt deadline alive until the caller closes the
// stream; canceling it on return would fail every read on backends whose
// readers carry the request context.
func (r *retryDriver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var (
		rc      io.ReadCloser
		release context.CancelFunc
	)
	err := r.do(ctx, "get", key, true, &release, func(ctx context.Context) error {
		var err error
		rc, err = r.inner.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if release != nil {
		rc = &deadlineStream{ReadCloser: rc, release: release}
	}
	return rc, nil
}

// deadlineStream releases the attempt deadline when the stream is closed.
type deadlineStream struct {
	io.ReadCloser
	release context.CancelFunc
}

func (s *deadlineStream) Close() error {
	err := s.ReadCloser.Close()
	s.release()
	return err
}

func (r *retryDriver) Delete(ctx context.Context, key string, permanent bool) error {
	return r.do(ctx, "delete", key, true, nil, func(ctx context.Context) error {
		return r.inner.Delete(ctx, key, permanent)
	})
}

func (r *retryDriver) Presign(ctx context.Context, key string, ttl time.Duration, op Operation) (string, error) {
	var url string
	err := r.do(ctx, "presign", key, true, nil, func(ctx context.Context) error {
		var err error
		url, err = r.inner.Presign(ctx, key, ttl, op)
		return err
	})
	return url, err
}

func (r *retryDriver) List(ctx context.Context, prefix, pageToken string, pageSize int) (*Page, error) {
	var page *Page
	err := r.do(ctx, "list", prefix, true, nil, func(ctx context.Context) error {
		var err error
		page, err = r.inner.List(ctx, prefix, pageToken, pageSize)
		return err
	})
	return page, err
}

func (r *retryDriver) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := r.do(ctx, "exists", key, true, nil, func(ctx context.Context) error {
		var err error
		ok, err = r.inner.Exists(ctx, key)
		return err
	})
	return ok, err
}
