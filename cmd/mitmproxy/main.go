// Command mitmproxy is a demonstration embedder of the MITM proxy core: it
// wires config, the certificate authority, the interceptor pipeline, the
// flow store, and the accept loop together, starts an optional loopback
// introspection server, and shuts down gracefully on SIGINT/SIGTERM.
//
// Usage:
//
//	./mitmproxy
//
//	# Custom listen port, management enabled
//	MITM_LISTEN_PORT=9999 MITM_MANAGEMENT_ENABLED=true ./mitmproxy
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/laplaque/mitmcore/internal/ca"
	"github.com/laplaque/mitmcore/internal/config"
	"github.com/laplaque/mitmcore/internal/corelog"
	"github.com/laplaque/mitmcore/internal/flowstore"
	"github.com/laplaque/mitmcore/internal/intercept"
	"github.com/laplaque/mitmcore/internal/management"
	"github.com/laplaque/mitmcore/internal/metrics"
	"github.com/laplaque/mitmcore/internal/platform"
	"github.com/laplaque/mitmcore/internal/proxyserver"
)

func main() {
	cfg := config.Load()

	printBanner(cfg)

	logger := corelog.New("proxy", cfg.LogLevel)

	caInst := ca.NewWithFileContainer(cfg.CAContainerFile, platform.Default())
	if err := caInst.GetOrCreateRoot(cfg.CAPassword); err != nil {
		log.Fatalf("[CA] Fatal: %v", err)
	}
	if trusted, err := caInst.IsRootTrusted(); err != nil {
		log.Printf("[CA] Could not determine trust status: %v", err)
	} else if !trusted {
		log.Printf("[CA] Root certificate is not yet trusted by the system store; run with a trust-store-capable platform or install it manually")
	}

	store := flowstore.New(cfg.FlowStoreCapacity, cfg.FlowSubscriberQueue)
	pipeline := intercept.New(logger)
	m := metrics.New()

	srv := proxyserver.New(caInst, pipeline, store, logger, m)

	if cfg.ManagementEnabled {
		mgmt := management.New(cfg, store, caInst, m)
		go func() {
			if err := mgmt.ListenAndServe(); err != nil {
				log.Fatalf("[MANAGEMENT] Fatal: %v", err)
			}
		}()
	}

	opts := proxyserver.Options{
		ListenAddress:            cfg.ListenAddress,
		ListenPort:               cfg.ListenPort,
		InterceptHTTPS:           cfg.InterceptHTTPS,
		EnableLogging:            cfg.EnableLogging,
		MaxConcurrentConnections: cfg.MaxConcurrentConnections,
		IdleTimeout:              cfg.IdleTimeout,
		FirstLineTimeout:         cfg.FirstLineTimeout,
		MaxBodyBytes:             cfg.MaxBodyBytes,
	}
	if err := srv.Start(opts); err != nil {
		log.Fatalf("[PROXY] Fatal: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("[PROXY] Shutting down…")
	if err := srv.Stop(15 * time.Second); err != nil {
		log.Printf("[PROXY] Shutdown error: %v", err)
	}
}

func printBanner(cfg *config.Options) {
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          MITM Proxy Core  (Go)                       ║
╚══════════════════════════════════════════════════════╝
  Listen address   : %s:%d
  Intercept HTTPS  : %v
  Management       : %v (port %d)
  CA container     : %s

  Point clients here:
    export HTTP_PROXY=http://%s:%d
    export HTTPS_PROXY=http://%s:%d
`, cfg.ListenAddress, cfg.ListenPort,
		cfg.InterceptHTTPS,
		cfg.ManagementEnabled, cfg.ManagementPort,
		cfg.CAContainerFile,
		cfg.ListenAddress, cfg.ListenPort,
		cfg.ListenAddress, cfg.ListenPort)
}
