package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// Key prefixes.
const (
	prefixSubmission = "sub/"
	prefixCursor     = "cur/"
	prefixRun        = "run/"
	prefixDocument   = "doc/"
	prefixTenant     = "ten/"
)

// buildKey joins escaped parts behind prefix.
func buildKey(prefix string, parts ...string) []byte {
	var b strings.Builder
	b.WriteString(prefix)
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(url.PathEscape(p))
	}
	return []byte(b.String())
}

// storageErr maps engine errors to domain errors.
func storageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrKeyNotFound):
		return domain.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrStorageError.WithCause(err)
}

func getJSON[T any](ctx context.Context, kv KVEngine, key []byte) (*T, error) {
	raw, err := kv.Get(ctx, key)
	if err != nil {
		return nil, storageErr(err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, domain.ErrStorageError.WithDetails("decode " + string(key)).WithCause(err)
	}
	return &v, nil
}

func putJSON(ctx context.Context, kv KVEngine, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	return storageErr(kv.Set(ctx, key, raw))
}

// scanJSON decodes every value under prefix. Undecodable values are skipped.
func scanJSON[T any](ctx context.Context, kv KVEngine, prefix []byte, fn func(*T) bool) error {
	return storageErr(kv.Scan(ctx, prefix, func(_, value []byte) bool {
		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			return true
		}
		return fn(&v)
	}))
}

// updateJSON runs a typed read-modify-write on key. fn receives nil when the
// key is absent and returns nil to delete.
func updateJSON[T any](ctx context.Context, kv KVEngine, key []byte, fn func(cur *T) (*T, error)) error {
	err := kv.Update(ctx, key, func(raw []byte, exists bool) ([]byte, error) {
		var cur *T
		if exists {
			cur = new(T)
			if err := json.Unmarshal(raw, cur); err != nil {
				return nil, domain.ErrStorageError.WithDetails("decode " + string(key)).WithCause(err)
			}
		}
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		return json.Marshal(next)
	})
	return storageErr(err)
}
