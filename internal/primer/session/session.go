// Package session orchestrates the allocation passes of a priming run.
package session

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"

	"github.com/runtime-priming/heap-primer/internal/primer/allocator"
	"github.com/runtime-priming/heap-primer/internal/primer/config"
	"github.com/runtime-priming/heap-primer/internal/primer/metrics"
)

// Snapshot is a point-in-time view of a priming session, safe to read while
// the session worker is running. Percentile values are nanoseconds and are
// refreshed at block boundaries.
type Snapshot struct {
	RunID        string `json:"runId"`
	Running      bool   `json:"running"`
	Pass         int    `json:"pass"`
	TargetMB     int    `json:"targetMB"`
	AllocatedMB  int    `json:"allocatedMB"`
	RetainedMB   int    `json:"retainedMB"`
	Units        int64  `json:"units"`
	Samples      int64  `json:"samples"`
	P50          int64  `json:"p50ns"`
	P90          int64  `json:"p90ns"`
	P99          int64  `json:"p99ns"`
	P999         int64  `json:"p999ns"`
	Max          int64  `json:"maxNs"`
	BytesPerUnit int64  `json:"bytesPerUnit"`
	Timestamp    string `json:"timestamp"`
}

// Session runs one or two allocation passes, reporting the latency
// distribution of each. All allocation work happens on the goroutine that
// calls Execute; snapshot accessors are safe from other goroutines.
type Session struct {
	mu       sync.RWMutex
	config   config.Config
	runID    string
	out      io.Writer
	metrics  *metrics.Metrics
	hist     *hdrhistogram.Histogram
	snapshot Snapshot
	retained *allocator.RetentionSet
}

// New creates a Session that writes reports to out.
func New(cfg config.Config, out io.Writer) *Session {
	s := &Session{
		config: cfg,
		runID:  uuid.NewString(),
		out:    out,
	}
	s.snapshot.RunID = s.runID
	return s
}

// SetMetrics attaches Prometheus metrics updated as the session progresses.
func (s *Session) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// RunID returns the unique identifier of this priming run.
func (s *Session) RunID() string {
	return s.runID
}

// Config returns the session configuration.
func (s *Session) Config() config.Config {
	return s.config
}

// GetSnapshot returns the current session snapshot.
func (s *Session) GetSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snapshot
	snap.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return snap
}

// Execute runs the configured allocation passes. It blocks until both passes
// complete or ctx is cancelled; on cancellation the collected histogram data
// is still reported before returning.
func (s *Session) Execute(ctx context.Context) error {
	cfg := s.config
	s.hist = hdrhistogram.New(1, cfg.HistHighestTrackable, cfg.HistSignificantDigits)

	s.setRunning(true)
	defer s.setRunning(false)

	targetMB := cfg.Pass1TargetMB()
	if cfg.Verbose {
		fmt.Fprintf(s.out, "First pass, allocating %d MB of objects:\n", targetMB)
	}
	err := s.runPass(ctx, 1, targetMB)
	s.report("first")
	s.dropRetained()
	runtime.GC()
	if err != nil {
		return err
	}

	if !cfg.SecondPass {
		return nil
	}

	// Let the memory manager reach steady state before the second pass.
	runtime.GC()
	if err := sleepCtx(ctx, cfg.SettleDelay); err != nil {
		return err
	}

	targetMB += cfg.SecondPassDeltaMB
	s.hist.Reset()
	if cfg.Verbose {
		fmt.Fprintf(s.out, "\n\n\nSecond pass, allocating %d MB of objects:\n", targetMB)
	}
	err = s.runPass(ctx, 2, targetMB)
	s.report("second")
	s.dropRetained()
	runtime.GC()
	return err
}

// runPass performs one allocation pass and stores the retained set.
func (s *Session) runPass(ctx context.Context, pass, targetMB int) error {
	cfg := s.config

	alloc := allocator.New(allocator.Config{
		UnitArrayLen:    cfg.UnitArrayLen,
		RateMBPerSec:    cfg.AllocRateMBPerSec,
		ReferenceVolume: cfg.CalibrationVolume,
	})

	s.mu.Lock()
	s.snapshot.Pass = pass
	s.snapshot.TargetMB = targetMB
	s.snapshot.AllocatedMB = 0
	s.snapshot.RetainedMB = 0
	s.snapshot.Units = 0
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.CurrentPass.Set(float64(pass))
		s.metrics.TargetMB.Set(float64(targetMB))
		s.metrics.AllocatedMB.Set(0)
		s.metrics.RetainedMB.Set(0)
	}

	alloc.SetOnBlock(func(blocksDone int, unitsAllocated int64) {
		s.mu.Lock()
		s.snapshot.AllocatedMB = blocksDone * allocator.BlockMB
		s.snapshot.RetainedMB = blocksDone * allocator.BlockMB
		s.snapshot.Units = unitsAllocated
		s.snapshot.Samples = s.hist.TotalCount()
		s.snapshot.P50 = s.hist.ValueAtQuantile(50)
		s.snapshot.P90 = s.hist.ValueAtQuantile(90)
		s.snapshot.P99 = s.hist.ValueAtQuantile(99)
		s.snapshot.P999 = s.hist.ValueAtQuantile(99.9)
		s.snapshot.Max = s.hist.Max()
		s.snapshot.BytesPerUnit = alloc.BytesPerUnit()
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.AllocatedMB.Set(float64(blocksDone * allocator.BlockMB))
			s.metrics.RetainedMB.Set(float64(blocksDone * allocator.BlockMB))
			s.metrics.BlocksTotal.Inc()
			s.metrics.BytesPerUnit.Set(float64(alloc.BytesPerUnit()))
		}
	})
	if s.metrics != nil {
		alloc.SetOnLatency(func(d time.Duration) {
			s.metrics.UnitsTotal.Inc()
			s.metrics.AllocLatency.Observe(d.Seconds())
		})
	}

	set, err := alloc.Run(ctx, targetMB, s.hist, cfg.Verbose, s.out)
	s.mu.Lock()
	s.retained = set
	s.mu.Unlock()
	return err
}

// report renders the percentile distribution of the pass just finished.
// Values are scaled by 1000.0, converting nanosecond samples to microseconds.
func (s *Session) report(passName string) {
	if !s.config.Verbose {
		return
	}
	fmt.Fprintf(s.out, "Percentile distribution for %s allocation pass:\n", passName)
	if _, err := s.hist.PercentilesPrint(s.out, s.config.HistPercentileTicks, 1000.0); err != nil {
		fmt.Fprintf(s.out, "\t[failed to render percentile distribution: %v]\n", err)
	}
}

// dropRetained releases ownership of the current pass's retention set so the
// runtime may reclaim it before the next pass begins.
func (s *Session) dropRetained() {
	s.mu.Lock()
	s.retained = nil
	s.snapshot.RetainedMB = 0
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RetainedMB.Set(0)
	}
}

// RetainedUnits returns the number of units currently held live.
func (s *Session) RetainedUnits() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retained.UnitCount()
}

func (s *Session) setRunning(v bool) {
	s.mu.Lock()
	s.snapshot.Running = v
	if !v {
		s.snapshot.Pass = 0
	}
	s.mu.Unlock()
	if s.metrics != nil {
		if v {
			s.metrics.PrimerRunning.Set(1)
		} else {
			s.metrics.PrimerRunning.Set(0)
			s.metrics.CurrentPass.Set(0)
		}
	}
}

// sleepCtx blocks for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
