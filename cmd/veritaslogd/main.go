// Command veritaslogd serves the veritaslog HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xdao.co/veritaslog/app"
	"xdao.co/veritaslog/config"
	"xdao.co/veritaslog/httpapi"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, errOut io.Writer) int {
	fs := flag.NewFlagSet("veritaslogd", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "config file (default $"+config.EnvVar+")")
	listen := fs.String("listen", "", "listen address (overrides http.listen)")
	owner := fs.String("owner", "", "address recorded as owner when a submission names none")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = io.WriteString(errOut, err.Error()+"\n")
		return 2
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}
	log, err := cfg.Log.NewLogger(errOut)
	if err != nil {
		_, _ = io.WriteString(errOut, err.Error()+"\n")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{Logger: log, Owner: *owner})
	if err != nil {
		log.Error("startup", "err", err)
		return 1
	}
	defer a.Close()

	api := &httpapi.Server{
		Registrar:    a.Registrar,
		Ledger:       a.Ledger,
		Verifier:     a.Verifier,
		Store:        a.Store,
		KeyServers:   a.Committee.ServerIDs(),
		MaxBodyBytes: int64(cfg.MaxArtifactBytes) + 2<<20,
		Logger:       log.With("component", "http"),
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("veritaslogd listening", "addr", cfg.HTTP.Listen, "namespace", cfg.Namespace, "ledger", cfg.Ledger.Driver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("serve", "err", err)
		return 1
	}
	return 0
}
