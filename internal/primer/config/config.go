// Package config holds the heap-primer configuration and CLI parsing.
package config

import (
	"flag"
	"fmt"
	"io"
	"math"
	"runtime/debug"
	"time"
)

const mb = 1024 * 1024

// Config holds all tunables for a priming session.
type Config struct {
	Verbose    bool   `json:"verbose"`
	SecondPass bool   `json:"secondPass"`
	LogFile    string `json:"logFile,omitempty"`

	EstimatedHeapMB   int `json:"estimatedHeapMB"`   // Estimated maximum occupancy
	UnitArrayLen      int `json:"unitArrayLen"`      // Element count per allocation unit
	DeltaMB           int `json:"deltaMB"`           // Pass 1 offset from estimated heap size
	SecondPassDeltaMB int `json:"secondPassDeltaMB"` // Pass 2 offset from pass 1 size
	AllocRateMBPerSec int `json:"allocRateMBPerSec"` // Throughput cap; 0 = unthrottled

	PostPrimingDelay time.Duration `json:"postPrimingDelay"` // Controller delay after starting the worker
	SettleDelay      time.Duration `json:"settleDelay"`      // Wait between passes in two-pass mode

	HistHighestTrackable  int64 `json:"histHighestTrackable"` // Highest trackable latency in nanoseconds
	HistSignificantDigits int   `json:"histSignificantDigits"`
	HistPercentileTicks   int32 `json:"histPercentileTicks"` // Ticks per half distance in percentile output

	Port int `json:"port,omitempty"` // Observation server port; 0 disables it

	// CalibrationVolume overrides the calibration batch volume in bytes.
	// Zero selects the calibrator's default. Small values keep tests cheap.
	CalibrationVolume int64 `json:"calibrationVolume,omitempty"`
}

// DefaultConfig returns the default heap-primer configuration.
func DefaultConfig() Config {
	return Config{
		EstimatedHeapMB:       EstimateHeapMB(1024),
		UnitArrayLen:          500,
		DeltaMB:               100,
		SecondPassDeltaMB:     -1000,
		AllocRateMBPerSec:     800,
		PostPrimingDelay:      3 * time.Second,
		SettleDelay:           10 * time.Second,
		HistHighestTrackable:  100 * 1000 * 1000 * 1000,
		HistSignificantDigits: 2,
		HistPercentileTicks:   5,
	}
}

// EstimateHeapMB estimates the maximum heap occupancy in megabytes from the
// runtime's configured memory limit. When no limit is set the given fallback
// is returned; the original tool read the VM's max heap size, which Go only
// exposes when GOMEMLIMIT is configured.
func EstimateHeapMB(fallbackMB int) int {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return fallbackMB
	}
	return int(limit / mb)
}

// ParseFlags parses command-line arguments into a Config. Usage and parse
// errors are written to errw; a non-nil error means the process should exit
// with a non-zero status without running the session.
func ParseFlags(args []string, errw io.Writer) (Config, error) {
	cfg := DefaultConfig()

	fs := flag.NewFlagSet("heap-primer", flag.ContinueOnError)
	fs.SetOutput(errw)
	fs.Usage = func() {
		fmt.Fprintf(errw, "Usage: heap-primer [-v] [-s] [-i unitArrayLen] [-t postPrimingDelayMsec] "+
			"[-a allocRateMBPerSec] [-d deltaMBFromEstimatedHeapSize] [-x secondPassDeltaMBFromFirstPass] "+
			"[-m estimatedHeapMB] [-l logFileName] [-p observationPort]\n")
	}

	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "enable progress and distribution reporting")
	fs.BoolVar(&cfg.SecondPass, "s", cfg.SecondPass, "run a second allocation pass")
	fs.IntVar(&cfg.UnitArrayLen, "i", cfg.UnitArrayLen, "element count per allocation unit")
	postPrimingMsec := fs.Int("t", int(cfg.PostPrimingDelay/time.Millisecond), "post-priming delay in milliseconds")
	fs.IntVar(&cfg.AllocRateMBPerSec, "a", cfg.AllocRateMBPerSec, "allocation rate cap in MB/sec (0 = unthrottled)")
	fs.IntVar(&cfg.DeltaMB, "d", cfg.DeltaMB, "pass 1 delta from estimated heap size in MB")
	fs.IntVar(&cfg.SecondPassDeltaMB, "x", cfg.SecondPassDeltaMB, "pass 2 delta from pass 1 size in MB")
	fs.IntVar(&cfg.EstimatedHeapMB, "m", cfg.EstimatedHeapMB, "estimated maximum heap occupancy in MB")
	fs.StringVar(&cfg.LogFile, "l", cfg.LogFile, "log file path (default standard output)")
	fs.IntVar(&cfg.Port, "p", cfg.Port, "observation server port (0 disables)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return Config{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	cfg.PostPrimingDelay = time.Duration(*postPrimingMsec) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(errw, "heap-primer: %v\n", err)
		fs.Usage()
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.UnitArrayLen <= 0 {
		return fmt.Errorf("unit array length must be positive, got %d", c.UnitArrayLen)
	}
	if c.AllocRateMBPerSec < 0 {
		return fmt.Errorf("allocation rate must be >= 0, got %d", c.AllocRateMBPerSec)
	}
	if c.EstimatedHeapMB+c.DeltaMB <= 0 {
		return fmt.Errorf("pass 1 target %d MB is not positive", c.EstimatedHeapMB+c.DeltaMB)
	}
	if c.PostPrimingDelay < 0 {
		return fmt.Errorf("post-priming delay must be >= 0, got %v", c.PostPrimingDelay)
	}
	if c.HistHighestTrackable <= 0 {
		return fmt.Errorf("histogram highest trackable value must be positive, got %d", c.HistHighestTrackable)
	}
	if c.HistSignificantDigits < 1 || c.HistSignificantDigits > 5 {
		return fmt.Errorf("histogram significant digits must be in [1,5], got %d", c.HistSignificantDigits)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("observation port out of range: %d", c.Port)
	}
	return nil
}

// Pass1TargetMB returns the size of the first allocation pass.
func (c Config) Pass1TargetMB() int {
	return c.EstimatedHeapMB + c.DeltaMB
}
