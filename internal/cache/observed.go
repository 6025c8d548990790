package cache

import (
	"context"
	"time"
)

// Observed wraps a cache so every lookup reports its outcome to hook.
// Lookup errors count as misses, matching how callers treat them.
func Observed(c Cache, name string, hook func(name string, hit bool)) Cache {
	if hook == nil {
		return c
	}
	return &observed{inner: c, name: name, hook: hook}
}

type observed struct {
	inner Cache
	name  string
	hook  func(name string, hit bool)
}

var _ Cache = (*observed)(nil)

func (o *observed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := o.inner.Get(ctx, key)
	o.hook(o.name, ok && err == nil)
	return value, ok, err
}

func (o *observed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return o.inner.Set(ctx, key, value, ttl)
}

func (o *observed) Delete(ctx context.Context, key string) error {
	return o.inner.Delete(ctx, key)
}

func (o *observed) Close() error {
	return o.inner.Close()
}
