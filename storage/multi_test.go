package storage_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"xdao.co/veritaslog/storage"
	"xdao.co/veritaslog/storage/memory"
)

func TestMultiStore_ReadFallback(t *testing.T) {
	ctx := context.Background()
	primary, secondary := memory.New(), memory.New()
	ref, err := secondary.Put(ctx, []byte("only in secondary"), storage.PutOptions{Attributes: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatal(err)
	}

	m := storage.MultiStore{Stores: []storage.BlobStore{primary, secondary}}
	got, err := m.Get(ctx, ref)
	if err != nil || !bytes.Equal(got, []byte("only in secondary")) {
		t.Fatalf("fallback read failed: %v", err)
	}
	if !m.Has(ctx, ref) {
		t.Fatalf("Has should see secondary")
	}
	attrs, err := m.Attributes(ctx, ref)
	if err != nil || attrs["k"] != "v" {
		t.Fatalf("Attributes: %v %v", attrs, err)
	}

	newRef, err := m.Put(ctx, []byte("fresh"), storage.PutOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !primary.Has(ctx, newRef) || secondary.Has(ctx, newRef) {
		t.Fatalf("Put must only write the first store")
	}
}

func TestMultiStore_Empty(t *testing.T) {
	var m storage.MultiStore
	if _, err := m.Put(context.Background(), []byte("x"), storage.PutOptions{}); !errors.Is(err, storage.ErrNoBackends) {
		t.Fatalf("expected ErrNoBackends, got %v", err)
	}
}

type failingStore struct{ storage.BlobStore }

func (failingStore) Put(context.Context, []byte, storage.PutOptions) (string, error) {
	return "", errors.New("disk full")
}

func TestReplicatingStore_PutAll(t *testing.T) {
	ctx := context.Background()
	a, b := memory.New(), memory.New()
	r := storage.ReplicatingStore{Backends: []storage.NamedStore{{Name: "a", Store: a}, {Name: "b", Store: b}}}

	ref, refs, err := r.PutAll(ctx, []byte("both"), storage.PutOptions{})
	if err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	if ref == "" || refs["a"] != ref || refs["b"] != ref {
		t.Fatalf("unexpected refs: %v", refs)
	}

	r.Backends[1].Store = failingStore{b}
	if _, err := r.Put(ctx, []byte("partial"), storage.PutOptions{}); err == nil {
		t.Fatalf("expected failure when one replica fails")
	}
}
