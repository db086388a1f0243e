// Command veritas-blobd serves a blob backend over gRPC so that registrars
// and auditors on other hosts can share one ciphertext store.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"xdao.co/veritaslog/storage/blobregistry"
	"xdao.co/veritaslog/storage/grpcblob"

	_ "xdao.co/veritaslog/storage/localfs"
	_ "xdao.co/veritaslog/storage/memory"
	_ "xdao.co/veritaslog/storage/walrus"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("veritas-blobd", flag.ContinueOnError)
	fs.SetOutput(errOut)
	listen := fs.String("listen", "127.0.0.1:7777", "listen address")
	backend := fs.String("backend", "localfs", "blob backend name")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")
	jsonLogs := fs.Bool("log-json", false, "Write JSON logs")

	blobregistry.RegisterFlags(fs, blobregistry.UsageDaemon)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *listBackends {
		for _, b := range blobregistry.List(blobregistry.UsageDaemon) {
			if b.Description == "" {
				_, _ = fmt.Fprintf(out, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}

	var handler slog.Handler = slog.NewTextHandler(errOut, nil)
	if *jsonLogs {
		handler = slog.NewJSONHandler(errOut, nil)
	}
	log := slog.New(handler)

	store, closeFn, err := blobregistry.Open(*backend, blobregistry.UsageDaemon)
	if err != nil {
		log.Error("open backend", "backend", *backend, "err", err)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Error("listen", "err", err)
		return 1
	}

	s := grpc.NewServer()
	grpcblob.RegisterBlobStoreServer(s, &grpcblob.Server{Store: store, Logger: log})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()

	log.Info("veritas-blobd listening", "addr", lis.Addr().String(), "backend", *backend)
	if err := s.Serve(lis); err != nil {
		log.Error("serve", "err", err)
		return 1
	}
	return 0
}
