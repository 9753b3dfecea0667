package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kebairia/bakctl/internal/backup"
)

// retryBackend wraps another Backend with bounded exponential backoff.
// Retrying is safe because uploads are idempotent per key.
type retryBackend struct {
	inner       Backend
	maxRetries  uint64
	maxInterval time.Duration
}

var _ Backend = (*retryBackend)(nil)

// WithRetry wraps b so every call is retried up to maxRetries times on
// transient errors. Not-found and integrity errors are never retried.
func WithRetry(b Backend, maxRetries int) Backend {
	if maxRetries <= 0 {
		return b
	}
	return &retryBackend{
		inner:       b,
		maxRetries:  uint64(maxRetries),
		maxInterval: 30 * time.Second,
	}
}

func (r *retryBackend) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = r.maxInterval

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, r.maxRetries), ctx))
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, backup.ErrNotFound),
		errors.Is(err, backup.ErrIntegrity),
		errors.Is(err, backup.ErrValidation),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (r *retryBackend) Upload(ctx context.Context, localPath, key string, tags map[string]string) (string, error) {
	var stored string
	err := r.retry(ctx, func() error {
		var err error
		stored, err = r.inner.Upload(ctx, localPath, key, tags)
		return err
	})
	return stored, err
}

func (r *retryBackend) Download(ctx context.Context, key, localPath string) error {
	return r.retry(ctx, func() error {
		return r.inner.Download(ctx, key, localPath)
	})
}

func (r *retryBackend) Delete(ctx context.Context, key string) error {
	return r.retry(ctx, func() error {
		return r.inner.Delete(ctx, key)
	})
}

func (r *retryBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := r.retry(ctx, func() error {
		var err error
		objects, err = r.inner.List(ctx, prefix)
		return err
	})
	return objects, err
}

func (r *retryBackend) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.retry(ctx, func() error {
		var err error
		exists, err = r.inner.Exists(ctx, key)
		return err
	})
	return exists, err
}
