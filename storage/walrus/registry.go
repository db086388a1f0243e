package walrus

import (
	"flag"
	"fmt"
	"net/http"
	"time"

	"xdao.co/veritaslog/storage"
	"xdao.co/veritaslog/storage/blobregistry"
)

var (
	flagPublisher  string
	flagAggregator string
	flagTimeout    time.Duration
)

func init() {
	blobregistry.MustRegister(blobregistry.Backend{
		Name:        "walrus",
		Description: "Walrus network via HTTP publisher/aggregator",
		Usage:       blobregistry.UsageCLI | blobregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagPublisher, "walrus-publisher", "", "Walrus publisher base URL (for --backend=walrus)")
			fs.StringVar(&flagAggregator, "walrus-aggregator", "", "Walrus aggregator base URL (for --backend=walrus)")
			fs.DurationVar(&flagTimeout, "walrus-timeout", DefaultTimeout, "Walrus HTTP timeout")
		},
		Open: func() (storage.BlobStore, func() error, error) {
			if flagPublisher == "" && flagAggregator == "" {
				return nil, nil, fmt.Errorf("missing --walrus-publisher and --walrus-aggregator")
			}
			c := New(flagPublisher, flagAggregator)
			c.HTTP = &http.Client{Timeout: flagTimeout}
			return c, nil, nil
		},
	})
}
