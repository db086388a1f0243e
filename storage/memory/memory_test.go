package memory

import (
	"testing"

	"xdao.co/veritaslog/storage"
	"xdao.co/veritaslog/storage/testkit"
)

func TestMemory_Conformance(t *testing.T) {
	testkit.RunBlobStoreConformance(t, func(t *testing.T) storage.BlobStore {
		return New()
	}, testkit.Options{ContentAddressed: true})
}
