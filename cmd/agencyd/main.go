// agencyd – the background daemon that owns PTY-backed agent sessions.
//
// Usage:
//
//	agencyd [--sock <path>]
//
// agencyd listens on a Unix domain socket and serves the framed IPC
// protocol described by the agency wire package. agencyctl does not start
// it: agencyd must already be running before agencyctl can connect.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ianremillard/agency/internal/config"
	"github.com/ianremillard/agency/internal/registry"
	"github.com/ianremillard/agency/internal/sockpath"
	"github.com/ianremillard/agency/internal/supervisor"
)

func main() {
	logger := log.New(os.Stderr, "agencyd: ", log.LstdFlags)

	defaultSock, err := sockpath.Default()
	if err != nil {
		logger.Fatalf("resolve default socket path: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if cfg.Sock != "" {
		defaultSock = cfg.Sock
	}
	sockFlag := flag.String("sock", defaultSock, "agencyd socket path (env: AGENCY_SOCK, config: sock)")
	flag.Parse()

	sock := *sockFlag
	if env := os.Getenv("AGENCY_SOCK"); env != "" {
		sock = env
	}

	l, err := sockpath.Listen(sock)
	if err != nil {
		logger.Fatalf("bind socket %s: %v", sock, err)
	}

	logDir := filepath.Join(filepath.Dir(sock), "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logger.Printf("warning: cannot create log dir %s: %v", logDir, err)
		logDir = ""
	}

	reg := registry.New()
	if logDir != "" {
		reg.SetLogDir(logDir)
	}
	sup := supervisor.New(logger, reg, l, sock)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %s, shutting down", sig)
		sup.Shutdown()
	}()

	logger.Printf("listening on %s", sock)
	sup.Run()
	logger.Printf("exited cleanly")
}
