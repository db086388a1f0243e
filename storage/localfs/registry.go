package localfs

import (
	"flag"
	"fmt"

	"xdao.co/veritaslog/storage"
	"xdao.co/veritaslog/storage/blobregistry"
)

var (
	flagLocalDir string
)

func init() {
	blobregistry.MustRegister(blobregistry.Backend{
		Name:        "localfs",
		Description: "Local filesystem blob store (directory, CID-addressed)",
		Usage:       blobregistry.UsageCLI | blobregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagLocalDir, "localfs-dir", "", "LocalFS blob directory (for --backend=localfs)")
		},
		Open: func() (storage.BlobStore, func() error, error) {
			if flagLocalDir == "" {
				return nil, nil, fmt.Errorf("missing --localfs-dir")
			}
			store, err := New(flagLocalDir)
			return store, nil, err
		},
	})
}
