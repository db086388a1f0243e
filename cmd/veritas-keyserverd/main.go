// Command veritas-keyserverd runs one threshold key server. It releases its
// share of a log's data key only when the ledger allows the requester.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"xdao.co/veritaslog/app"
	"xdao.co/veritaslog/config"
	"xdao.co/veritaslog/ledger"
	"xdao.co/veritaslog/ledger/pgledger"
	"xdao.co/veritaslog/threshold"
	"xdao.co/veritaslog/threshold/grpckeys"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, errOut io.Writer) int {
	fs := flag.NewFlagSet("veritas-keyserverd", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "config file (default $"+config.EnvVar+")")
	id := fs.String("id", "", "key server id; must name an entry in keyservers")
	listen := fs.String("listen", "127.0.0.1:7444", "listen address")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = io.WriteString(errOut, err.Error()+"\n")
		return 2
	}
	log, err := cfg.Log.NewLogger(errOut)
	if err != nil {
		_, _ = io.WriteString(errOut, err.Error()+"\n")
		return 2
	}

	var entry *config.KeyServerConfig
	for i := range cfg.KeyServers {
		if cfg.KeyServers[i].ID == *id {
			entry = &cfg.KeyServers[i]
		}
	}
	if entry == nil {
		log.Error("unknown key server id", "id", *id)
		return 2
	}
	// The entry may name this server's public target; the server itself
	// always holds its key locally.
	local := *entry
	local.Target = ""

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checker, closeLedger, err := openChecker(ctx, cfg)
	if err != nil {
		log.Error("open ledger", "err", err)
		return 1
	}
	defer closeLedger()

	ks, err := app.LocalKeyServer(cfg, local, checker)
	if err != nil {
		log.Error("key server", "err", err)
		return 2
	}
	ks.Logger = log.With("server", ks.ID)

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Error("listen", "err", err)
		return 1
	}
	s := grpc.NewServer()
	grpckeys.RegisterKeyServerServer(s, &grpckeys.Server{Keys: ks})
	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()

	log.Info("veritas-keyserverd listening", "addr", lis.Addr().String(), "id", ks.ID, "namespace", cfg.Namespace)
	if err := s.Serve(lis); err != nil {
		log.Error("serve", "err", err)
		return 1
	}
	return 0
}

// openChecker opens the ledger read side the key server consults.
func openChecker(ctx context.Context, cfg *config.Config) (threshold.AccessChecker, func(), error) {
	switch cfg.Ledger.Driver {
	case config.LedgerPostgres:
		pool, err := pgledger.Connect(ctx, cfg.Ledger.DSN)
		if err != nil {
			return nil, nil, err
		}
		return pgledger.New(pool), pool.Close, nil
	case config.LedgerFile:
		return ledger.FileChecker{Path: cfg.Ledger.Path}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("ledger driver %q cannot be shared with a separate key server", cfg.Ledger.Driver)
	}
}
