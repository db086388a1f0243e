// Package memory is an in-process, content-addressed BlobStore. It backs tests
// and single-process demos.
package memory

import (
	"bytes"
	"context"
	"sync"

	"xdao.co/veritaslog/cidutil"
	"xdao.co/veritaslog/storage"
)

type object struct {
	data  []byte
	attrs map[string]string
	opts  storage.PutOptions
}

// Store keeps blobs keyed by CID. The zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

var (
	_ storage.BlobStore       = (*Store)(nil)
	_ storage.AttributeReader = (*Store)(nil)
)

func New() *Store {
	return &Store{objects: make(map[string]object)}
}

func (s *Store) Put(ctx context.Context, data []byte, opts storage.PutOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := cidutil.String(data)
	if ref == "" {
		return "", storage.ErrInvalidRef
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.objects[ref]; ok {
		if !bytes.Equal(existing.data, data) {
			return "", storage.ErrImmutable
		}
		return ref, nil
	}
	s.objects[ref] = object{
		data:  append([]byte(nil), data...),
		attrs: storage.CopyAttributes(opts.Attributes),
		opts:  opts,
	}
	return ref, nil
}

func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := cidutil.Parse(ref); err != nil {
		return nil, storage.ErrInvalidRef
	}
	s.mu.RLock()
	obj, ok := s.objects[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

func (s *Store) Has(ctx context.Context, ref string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[ref]
	return ok
}

func (s *Store) Attributes(ctx context.Context, ref string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[ref]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.CopyAttributes(obj.attrs), nil
}

// Len returns the number of stored blobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
