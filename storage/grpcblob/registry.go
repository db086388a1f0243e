package grpcblob

import (
	"flag"
	"fmt"
	"time"

	"xdao.co/veritaslog/storage"
	"xdao.co/veritaslog/storage/blobregistry"
)

var (
	flagTarget      string
	flagDialTimeout time.Duration
	flagCallTimeout time.Duration
	flagMaxMsgBytes int
)

func init() {
	blobregistry.MustRegister(blobregistry.Backend{
		Name:        "grpc",
		Description: "Remote blob store over gRPC (veritas-blobd)",
		Usage:       blobregistry.UsageCLI,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagTarget, "grpc-target", "", "gRPC blob daemon address, host:port (for --backend=grpc)")
			fs.DurationVar(&flagDialTimeout, "grpc-dial-timeout", 5*time.Second, "gRPC dial timeout")
			fs.DurationVar(&flagCallTimeout, "grpc-timeout", 30*time.Second, "gRPC per-call timeout")
			fs.IntVar(&flagMaxMsgBytes, "grpc-max-msg-bytes", 16<<20, "gRPC max send/recv message size")
		},
		Open: func() (storage.BlobStore, func() error, error) {
			if flagTarget == "" {
				return nil, nil, fmt.Errorf("missing --grpc-target")
			}
			c, err := Dial(flagTarget, DialOptions{Timeout: flagDialTimeout, MaxMsgBytes: flagMaxMsgBytes})
			if err != nil {
				return nil, nil, err
			}
			c.Timeout = flagCallTimeout
			return c, c.Close, nil
		},
	})
}
