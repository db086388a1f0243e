package storage

import (
	"context"
	"fmt"
)

// NamedStore associates a BlobStore with a stable backend name.
//
// Multi-backend orchestration uses the name to report per-backend references.
type NamedStore struct {
	Name  string
	Store BlobStore
}

// ReplicatingStore writes to all configured backends.
//
// Reads fall back in order. Writes go to every backend and require all returned
// references to agree (otherwise ErrRefMismatch), so it is only meaningful for
// backends that share a reference scheme, such as the content-addressed ones.
//
// Use PutAll when you need the per-backend reference mapping.
type ReplicatingStore struct {
	Backends []NamedStore
}

var _ BlobStore = ReplicatingStore{}

// PutAll writes the same bytes with the same options to every backend.
//
// It returns the agreed reference and a map of backend name to returned
// reference. The map is returned alongside ErrRefMismatch for diagnostics.
func (r ReplicatingStore) PutAll(ctx context.Context, data []byte, opts PutOptions) (string, map[string]string, error) {
	if len(r.Backends) == 0 {
		return "", nil, ErrNoBackends
	}

	out := make(map[string]string, len(r.Backends))
	var want string
	for i, b := range r.Backends {
		if b.Store == nil {
			return "", nil, fmt.Errorf("storage: nil store for backend %q", b.Name)
		}
		got, err := b.Store.Put(ctx, data, opts)
		if err != nil {
			return "", out, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		out[b.Name] = got
		if i == 0 {
			want = got
			continue
		}
		if got != want {
			return "", out, ErrRefMismatch
		}
	}
	return want, out, nil
}

func (r ReplicatingStore) Put(ctx context.Context, data []byte, opts PutOptions) (string, error) {
	ref, _, err := r.PutAll(ctx, data, opts)
	return ref, err
}

func (r ReplicatingStore) Get(ctx context.Context, ref string) ([]byte, error) {
	return MultiStore{Stores: r.stores()}.Get(ctx, ref)
}

func (r ReplicatingStore) Has(ctx context.Context, ref string) bool {
	return MultiStore{Stores: r.stores()}.Has(ctx, ref)
}

func (r ReplicatingStore) Attributes(ctx context.Context, ref string) (map[string]string, error) {
	return firstAttributes(ctx, ref, r.stores())
}

func (r ReplicatingStore) stores() []BlobStore {
	out := make([]BlobStore, 0, len(r.Backends))
	for _, b := range r.Backends {
		if b.Store != nil {
			out = append(out, b.Store)
		}
	}
	return out
}
