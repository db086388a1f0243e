package localfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"xdao.co/veritaslog/cidutil"
	"xdao.co/veritaslog/storage"
)

// Store is a local filesystem-backed, content-addressed blob store.
//
// Objects are stored immutably and keyed strictly by CID. Put attributes are kept
// in a sidecar file written once alongside the object. Epochs, Deletable and
// Signer have no meaning on a local disk and are ignored.
type Store struct {
	root string
}

var (
	_ storage.BlobStore       = (*Store)(nil)
	_ storage.AttributeReader = (*Store)(nil)
)

// New constructs a filesystem store rooted at root. The directory is created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) Put(ctx context.Context, data []byte, opts storage.PutOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := cidutil.Sum(data)
	if err != nil {
		return "", err
	}
	if !id.Defined() {
		return "", storage.ErrInvalidRef
	}

	path := s.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := s.read(id)
			if rerr != nil {
				// Present but unreadable or corrupted: treat as an immutability violation.
				return "", storage.ErrImmutable
			}
			if !bytes.Equal(existing, data) {
				return "", storage.ErrImmutable
			}
			return id.String(), nil
		}
		return "", err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}

	if len(opts.Attributes) > 0 {
		if err := writeAttributes(attrsPath(path), opts.Attributes); err != nil {
			return "", err
		}
	}
	return id.String(), nil
}

func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := cidutil.Parse(ref)
	if err != nil {
		return nil, storage.ErrInvalidRef
	}
	return s.read(id)
}

func (s *Store) read(id cid.Cid) ([]byte, error) {
	b, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	got, err := cidutil.Sum(b)
	if err != nil {
		return nil, err
	}
	if !got.Equals(id) {
		return nil, storage.ErrIntegrity
	}
	return b, nil
}

func (s *Store) Has(ctx context.Context, ref string) bool {
	id, err := cidutil.Parse(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(s.pathFor(id))
	return err == nil
}

// Attributes returns the attributes recorded by the first Put of ref.
func (s *Store) Attributes(ctx context.Context, ref string) (map[string]string, error) {
	id, err := cidutil.Parse(ref)
	if err != nil {
		return nil, storage.ErrInvalidRef
	}
	path := s.pathFor(id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	b, err := os.ReadFile(attrsPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	var attrs map[string]string
	if err := json.Unmarshal(b, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

func (s *Store) pathFor(id cid.Cid) string {
	str := id.String()
	if len(str) < 2 {
		return filepath.Join(s.root, str)
	}
	return filepath.Join(s.root, str[:2], str)
}

func attrsPath(blobPath string) string { return blobPath + ".attrs.json" }

// writeAttributes records attrs once; later writes for the same object are ignored.
func writeAttributes(path string, attrs map[string]string) error {
	b, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
