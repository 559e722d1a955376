package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rmacdonaldsmith/livesync-go/internal/auth"
	"github.com/rmacdonaldsmith/livesync-go/internal/config"
	"github.com/rmacdonaldsmith/livesync-go/internal/httpapi"
	"github.com/rmacdonaldsmith/livesync-go/internal/logging"
	"github.com/rmacdonaldsmith/livesync-go/internal/relay"
	"github.com/rmacdonaldsmith/livesync-go/internal/signalgrpc"
)

const (
	// Application info
	appName    = "livesyncd"
	appVersion = "0.1.0"

	shutdownTimeout = 30 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

// run parses flags, loads configuration and serves until ctx is cancelled.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath  = fs.String("config", "", "Path to a YAML config file")
		httpPort    = fs.String("http-port", "", "HTTP API port (overrides config)")
		grpcListen  = fs.String("grpc-listen", "", "gRPC listen address (overrides config)")
		logLevel    = fs.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
		showVersion = fs.Bool("version", false, "Show version and exit")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintf(stdout, "%s v%s\n", appName, appVersion)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *httpPort != "" {
		cfg.HTTP.Port = *httpPort
	}
	if *grpcListen != "" {
		cfg.GRPC.ListenAddress = *grpcListen
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}

	httpLis, err := net.Listen("tcp", ":"+cfg.HTTP.Port)
	if err != nil {
		return fmt.Errorf("listen on :%s: %w", cfg.HTTP.Port, err)
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPC.ListenAddress)
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("listen on %s: %w", cfg.GRPC.ListenAddress, err)
	}

	logger.Info("starting", "app", appName, "version", appVersion)
	return d.serve(ctx, httpLis, grpcLis)
}

// daemon owns the relay hub and both transports in front of it.
type daemon struct {
	hub    *relay.Hub
	http   *httpapi.Server
	grpc   *signalgrpc.Server
	logger *slog.Logger
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	hub, err := relay.NewHub(cfg.Relay, logger)
	if err != nil {
		return nil, err
	}
	jwtAuth := auth.NewJWTAuth(cfg.Secret).WithTTL(cfg.TokenTTL)

	grpcServer, err := signalgrpc.NewServer(hub, jwtAuth, cfg.GRPC, logger)
	if err != nil {
		_ = hub.Close()
		return nil, err
	}

	return &daemon{
		hub:    hub,
		http:   httpapi.NewServer(hub, jwtAuth, cfg.HTTP, logger),
		grpc:   grpcServer,
		logger: logger,
	}, nil
}

// serve runs both servers until ctx is cancelled or one of them fails.
func (d *daemon) serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	go func() {
		errs <- d.http.Serve(httpLis)
	}()
	go func() {
		errs <- d.grpc.Serve(ctx, grpcLis)
	}()

	pending := 2
	var first error
	select {
	case <-ctx.Done():
	case first = <-errs:
		pending--
		d.logger.Error("server stopped unexpectedly", "error", first)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	d.logger.Info("shutting down")

	// Signals from sessions still open are rejected from here on.
	_ = d.hub.Close()
	shutdownErr := d.http.Stop(shutdownCtx)

	for ; pending > 0; pending-- {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return errors.Join(first, shutdownErr)
}
