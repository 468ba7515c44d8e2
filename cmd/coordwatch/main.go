// Command coordwatch watches the children of a node and logs every change.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	coordination "github.com/tarantool/go-coordination"
	"github.com/tarantool/go-coordination/config"
	"github.com/tarantool/go-coordination/node"
)

const shutdownTimeout = 5 * time.Second

var (
	configPath  = flag.String("config", "", "path to the configuration file")
	parentPath  = flag.String("path", "/services", "parent node to watch")
	register    = flag.String("register", "", "create an ephemeral child with this name while running")
	metricsAddr = flag.String("metrics", "", "address to serve prometheus metrics on, disabled when empty")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("coordwatch failed", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = atomicLevel

	return zapConfig.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	registry := prometheus.NewRegistry()

	client, err := coordination.Connect(ctx, cfg,
		coordination.WithLogger(logger),
		coordination.WithMetrics(registry),
	)
	if err != nil {
		return err
	}

	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close client", zap.Error(err))
		}
	}()

	if *metricsAddr != "" {
		server := serveMetrics(*metricsAddr, registry, logger)

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			_ = server.Shutdown(shutdownCtx)
		}()
	}

	watch, err := client.WatchChildren(ctx, *parentPath,
		coordination.ListenerFunc(func(_ coordination.Client, event coordination.ChangeEvent) error {
			logger.Info("child changed",
				zap.Stringer("kind", event.Kind()),
				zap.String("path", event.Path()),
				zap.String("payload", event.Payload()),
			)

			return nil
		}))
	if err != nil {
		return err
	}

	defer watch.Close()

	if *register != "" {
		hostname, _ := os.Hostname()

		path, err := client.CreateEphemeral(ctx, node.Join(*parentPath, *register), hostname)
		if err != nil {
			return err
		}

		logger.Info("registered", zap.String("path", path))
	}

	<-ctx.Done()
	logger.Info("stopping coordwatch")

	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})) //nolint:exhaustruct

	server := &http.Server{ //nolint:exhaustruct
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return server
}
