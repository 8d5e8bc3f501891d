// Package main implements the idle command.
// Idle waits for a configurable amount of time and then exits; it also exits
// if its standard input is severed. Useful as a control process to run next
// to observed applications.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/runtime-priming/heap-primer/internal/idle"
)

func main() {
	cfg := idle.DefaultConfig()

	fs := flag.NewFlagSet("idle", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: idle [-v] [-t runTimeMs]\n")
	}
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose output")
	runTimeMs := fs.Int64("t", int64(cfg.RunTime/time.Millisecond), "run time in milliseconds (0 = forever)")
	if err := fs.Parse(os.Args[1:]); err != nil || fs.NArg() > 0 {
		fs.Usage()
		os.Exit(1)
	}
	cfg.RunTime = time.Duration(*runTimeMs) * time.Millisecond
	if cfg.RunTime < 0 {
		fs.Usage()
		os.Exit(1)
	}

	if cfg.Verbose {
		log.Printf("[idle] Executing: idle %s", strings.Join(os.Args[1:], " "))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	idler := idle.New(cfg, os.Stdin)
	done := make(chan error, 1)
	go func() {
		done <- idler.Run(ctx)
	}()

	if err := <-done; errors.Is(err, idle.ErrInputSevered) {
		os.Exit(1)
	}
}
