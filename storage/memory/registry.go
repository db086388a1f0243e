package memory

import (
	"flag"

	"xdao.co/veritaslog/storage"
	"xdao.co/veritaslog/storage/blobregistry"
)

func init() {
	blobregistry.MustRegister(blobregistry.Backend{
		Name:          "memory",
		Description:   "In-process blob store (lost on exit)",
		Usage:         blobregistry.UsageCLI | blobregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {},
		Open: func() (storage.BlobStore, func() error, error) {
			return New(), nil, nil
		},
	})
}
