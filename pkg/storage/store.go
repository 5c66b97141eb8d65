package storage

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Store is the scoped key/value persistence interface the wallet session
// writes its state through. All methods are safe for concurrent use and all
// keys are implicitly namespaced by the adapter, so two stores with different
// scopes never observe each other's entries.
type Store interface {
	// SetItem persists a string value under key.
	SetItem(ctx context.Context, key, value string) error
	// GetItem returns the value stored under key.
	// The second return value is false when the key is absent.
	GetItem(ctx context.Context, key string) (string, bool, error)
	// RemoveItem deletes the entry under key. Removing an absent key is a no-op.
	RemoveItem(ctx context.Context, key string) error
	// RemoveItems deletes several entries at once.
	RemoveItems(ctx context.Context, keys ...string) error
}

// StoreObject persists a JSON-serializable value under key.
func StoreObject(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode object for key %q", key)
	}
	return s.SetItem(ctx, key, string(raw))
}

// LoadObject reads the value stored under key into out.
// It returns false (and leaves out untouched) when the key is absent, which
// lets callers fall back to defaults.
func LoadObject(ctx context.Context, s Store, key string, out any) (bool, error) {
	raw, ok, err := s.GetItem(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, errors.Wrapf(err, "failed to decode object for key %q", key)
	}
	return true, nil
}

// scopedStore namespaces every key of an inner store with a fixed prefix.
type scopedStore struct {
	inner Store
	scope string
}

// NewScoped wraps a store so that all keys carry the given scope prefix.
// It is used to keep several wallet sessions apart in one backing store.
func NewScoped(inner Store, scope string) Store {
	return &scopedStore{inner: inner, scope: scope}
}

func (s *scopedStore) scoped(key string) string {
	return s.scope + ":" + key
}

func (s *scopedStore) SetItem(ctx context.Context, key, value string) error {
	return s.inner.SetItem(ctx, s.scoped(key), value)
}

func (s *scopedStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	return s.inner.GetItem(ctx, s.scoped(key))
}

func (s *scopedStore) RemoveItem(ctx context.Context, key string) error {
	return s.inner.RemoveItem(ctx, s.scoped(key))
}

func (s *scopedStore) RemoveItems(ctx context.Context, keys ...string) error {
	scoped := make([]string, len(keys))
	for i, k := range keys {
		scoped[i] = s.scoped(k)
	}
	return s.inner.RemoveItems(ctx, scoped...)
}
