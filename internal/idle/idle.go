// Package idle provides a wait engine that exits when its input is severed.
package idle

import (
	"context"
	"errors"
	"io"
	"log"
	"time"
)

// ErrInputSevered is returned by Run when the watched input stream reaches
// end-of-stream or fails, signalling that the controlling process went away.
var ErrInputSevered = errors.New("input stream severed")

// Config holds the idle engine configuration.
type Config struct {
	RunTime time.Duration `json:"runTime"` // 0 = idle until cancelled
	Verbose bool          `json:"verbose"`
}

// DefaultConfig returns the default idle configuration.
func DefaultConfig() Config {
	return Config{
		RunTime: 10 * time.Second,
	}
}

// Idler waits out a configured duration in short increments while a watcher
// goroutine reads the given input until end-of-stream or error.
type Idler struct {
	config Config
	in     io.Reader
}

// New creates a new Idler watching the given input stream.
func New(cfg Config, in io.Reader) *Idler {
	return &Idler{config: cfg, in: in}
}

// Run blocks until the configured run time elapses, ctx is cancelled, or the
// input stream is severed. A severed stream is reported via ErrInputSevered;
// cancellation and normal expiry return nil.
func (i *Idler) Run(ctx context.Context) error {
	severed := make(chan struct{})
	go i.watch(severed)

	if i.config.Verbose {
		log.Printf("[idle] Idling for %v...", i.config.RunTime)
	}

	start := time.Now()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if i.config.Verbose {
				log.Printf("[idle] Terminating...")
			}
			return nil
		case <-severed:
			return ErrInputSevered
		case <-ticker.C:
			if i.config.RunTime != 0 && time.Since(start) >= i.config.RunTime {
				return nil
			}
		}
	}
}

// watch reads the input stream until end-of-stream or error, then closes
// severed.
func (i *Idler) watch(severed chan<- struct{}) {
	buf := make([]byte, 1)
	for {
		if _, err := i.in.Read(buf); err != nil {
			close(severed)
			return
		}
	}
}
