// Package main implements the heap-primer command.
// Heap-primer allocates memory up to and past the runtime's expected heap
// occupancy at a capped rate, recording per-allocation latency, so that
// startup allocation artifacts are flushed out before a real workload starts.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/runtime-priming/heap-primer/internal/primer/api"
	"github.com/runtime-priming/heap-primer/internal/primer/config"
	"github.com/runtime-priming/heap-primer/internal/primer/metrics"
	"github.com/runtime-priming/heap-primer/internal/primer/session"
	"github.com/runtime-priming/heap-primer/pkg/common"
)

const version = "heap-primer version 1.1.7"

func main() {
	cfg, err := config.ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(1)
	}

	// The report stream: the configured log file, or standard output.
	var out io.Writer = os.Stdout
	var logFile *os.File
	if cfg.LogFile != "" {
		logFile, err = os.Create(cfg.LogFile)
		if err != nil {
			log.Fatalf("[heap-primer] Failed to open log file: %v", err)
		}
		defer logFile.Close()
		out = logFile
	}

	if cfg.Verbose {
		fmt.Fprintf(out, "Executing: %s %s\n", version, strings.Join(os.Args[1:], " "))
	}

	sess := session.New(cfg, out)
	sess.SetMetrics(metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel the worker on shutdown signals; partial results still report.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[heap-primer] Received %v, stopping early", sig)
		cancel()
	}()

	// Optional observation server for watching a long run in flight.
	var server *common.Server
	if cfg.Port > 0 {
		server = common.NewServer("heap-primer", cfg.Port)
		api.NewHandler(sess).RegisterRoutes(server.Router())
		go func() {
			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				log.Printf("[heap-primer] Observation server error: %v", err)
			}
		}()
	}

	// Start the priming worker, give it a head start, then join.
	done := make(chan error, 1)
	go func() {
		done <- sess.Execute(ctx)
	}()

	time.Sleep(cfg.PostPrimingDelay)

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[heap-primer] Session error: %v", err)
	}

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[heap-primer] Observation server shutdown: %v", err)
		}
	}
	if logFile != nil {
		if err := logFile.Sync(); err != nil {
			log.Printf("[heap-primer] Log file sync: %v", err)
		}
	}
}
