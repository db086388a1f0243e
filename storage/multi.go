package storage

import "context"

// MultiStore provides deterministic, ordered fallback across multiple backends.
//
// Read order is the slice order in Stores; callers supply a fixed order so the
// retrieval strategy is explicit.
//
// Put writes only to the first store.
type MultiStore struct {
	Stores []BlobStore
}

var _ BlobStore = MultiStore{}

func (m MultiStore) Put(ctx context.Context, data []byte, opts PutOptions) (string, error) {
	if len(m.Stores) == 0 {
		return "", ErrNoBackends
	}
	return m.Stores[0].Put(ctx, data, opts)
}

func (m MultiStore) Get(ctx context.Context, ref string) ([]byte, error) {
	for _, s := range m.Stores {
		b, err := s.Get(ctx, ref)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

func (m MultiStore) Has(ctx context.Context, ref string) bool {
	for _, s := range m.Stores {
		if s.Has(ctx, ref) {
			return true
		}
	}
	return false
}

// Attributes returns the attributes held by the first store that has ref and
// retains attributes.
func (m MultiStore) Attributes(ctx context.Context, ref string) (map[string]string, error) {
	return firstAttributes(ctx, ref, m.Stores)
}

func firstAttributes(ctx context.Context, ref string, stores []BlobStore) (map[string]string, error) {
	for _, s := range stores {
		ar, ok := s.(AttributeReader)
		if !ok {
			continue
		}
		attrs, err := ar.Attributes(ctx, ref)
		if err == nil {
			return attrs, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}
