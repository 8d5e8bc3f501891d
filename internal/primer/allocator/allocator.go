// Package allocator provides the rate-throttled allocation engine for heap-primer.
package allocator

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"

	"github.com/runtime-priming/heap-primer/internal/primer/calibrate"
)

const (
	mb = 1024 * 1024

	// BlockMB is the fixed stride of the allocation loop. The loop always
	// advances by whole blocks, so the total allocated size rounds up to a
	// multiple of BlockMB even when the target is not one. Downstream
	// percentile comparisons assume this rounding.
	BlockMB = 10

	// expectedIntervalNanos is the expected-interval correction passed to
	// the histogram on every sample, matching the recording policy the
	// percentile reports are calibrated against.
	expectedIntervalNanos = 2 * 1000 * 1000 * 1000

	// throttleTick is the sleep increment used while waiting out the rate
	// cap, kept short so cancellation is honored promptly.
	throttleTick = time.Millisecond
)

// Unit is one allocated block of a fixed element count.
type Unit []int64

// Slab holds the retained units of one allocation block.
type Slab []Unit

// RetentionSet owns the units kept live for the duration of a pass, so the
// runtime cannot reclaim them before measurement completes.
type RetentionSet struct {
	slabs []Slab
}

// UnitCount returns the total number of retained units.
func (s *RetentionSet) UnitCount() int64 {
	if s == nil {
		return 0
	}
	var n int64
	for _, slab := range s.slabs {
		n += int64(len(slab))
	}
	return n
}

// Blocks returns the number of allocation blocks the set holds.
func (s *RetentionSet) Blocks() int {
	if s == nil {
		return 0
	}
	return len(s.slabs)
}

// Config holds the configuration for the allocation engine.
type Config struct {
	UnitArrayLen    int   // Element count per allocation unit
	RateMBPerSec    int   // Throughput cap; 0 = unthrottled
	ReferenceVolume int64 // Calibration batch volume in bytes; 0 = default
}

// Allocator performs batched, rate-throttled allocation while recording the
// latency of each individual allocation call.
type Allocator struct {
	config Config

	unitsPerMB   int64
	bytesPerUnit int64

	onBlock   func(blocksDone int, unitsAllocated int64)
	onLatency func(d time.Duration)
}

// New creates a new Allocator with the given configuration.
func New(cfg Config) *Allocator {
	return &Allocator{config: cfg}
}

// SetOnBlock sets a callback invoked after each completed allocation block.
func (a *Allocator) SetOnBlock(fn func(blocksDone int, unitsAllocated int64)) {
	a.onBlock = fn
}

// SetOnLatency sets a callback invoked with each allocation latency sample.
// The callback runs outside the timed window, so it does not distort the
// recorded values.
func (a *Allocator) SetOnLatency(fn func(d time.Duration)) {
	a.onLatency = fn
}

// UnitsPerMB returns the calibrated unit count per megabyte from the most
// recent Run, or 0 before any run.
func (a *Allocator) UnitsPerMB() int64 {
	return a.unitsPerMB
}

// BytesPerUnit returns the calibrated per-unit footprint from the most
// recent Run, or 0 before any run.
func (a *Allocator) BytesPerUnit() int64 {
	return a.bytesPerUnit
}

// Run allocates until targetMB is covered, in BlockMB strides, recording each
// allocation latency in nanoseconds into hist. Each block retains one slab of
// units and additionally churns through an equal-sized scratch slab that is
// dropped at block end, doubling allocation volume without doubling retained
// occupancy. Returns the retained set; on cancellation the partial set is
// returned together with the context error, with the histogram intact.
func (a *Allocator) Run(ctx context.Context, targetMB int, hist *hdrhistogram.Histogram, verbose bool, out io.Writer) (*RetentionSet, error) {
	cal := calibrate.New(a.config.UnitArrayLen)
	if a.config.ReferenceVolume > 0 {
		cal.ReferenceVolume = a.config.ReferenceVolume
	}
	a.unitsPerMB = cal.UnitsPerMB()
	a.bytesPerUnit = mb / a.unitsPerMB

	if verbose {
		fmt.Fprintf(out, "\t[allocator: calibrated per-unit footprint is %d bytes]\n", a.bytesPerUnit)
		fmt.Fprintf(out, "\t[allocator: so we'll allocate a total of %d units]\n", int64(targetMB)*a.unitsPerMB)
	}

	set := &RetentionSet{}
	unitsPerBlock := a.unitsPerMB * BlockMB
	var unitsAllocated int64

	lastSleepTime := time.Now()
	var nanosPerMB int64
	if a.config.RateMBPerSec != 0 {
		// The factor 2 accounts for the scratch slab doubling the work
		// per nominal MB: the cap applies to combined retained+scratch
		// volume.
		nanosPerMB = 2 * 1000 * 1000 * 1000 / int64(a.config.RateMBPerSec)
	}

	for i := 0; i < targetMB; i += BlockMB {
		// Fill one block's worth of retained units.
		slab := make(Slab, 0, unitsPerBlock)
		for j := int64(0); j < unitsPerBlock; j++ {
			start := time.Now()
			slab = append(slab, make(Unit, a.config.UnitArrayLen))
			a.record(hist, time.Since(start))
		}
		set.slabs = append(set.slabs, slab)
		unitsAllocated += unitsPerBlock

		// Same volume again into a scratch slab, dropped at block end.
		scratch := make(Slab, 0, unitsPerBlock)
		for j := int64(0); j < unitsPerBlock; j++ {
			start := time.Now()
			scratch = append(scratch, make(Unit, a.config.UnitArrayLen))
			a.record(hist, time.Since(start))
		}

		if a.onBlock != nil {
			a.onBlock(set.Blocks(), unitsAllocated)
		}

		// Throttle to roughly RateMBPerSec.
		for nanosPerMB > 0 && time.Since(lastSleepTime) < time.Duration(nanosPerMB*BlockMB) {
			select {
			case <-ctx.Done():
				return set, ctx.Err()
			case <-time.After(throttleTick):
			}
		}
		lastSleepTime = time.Now()

		if verbose {
			fmt.Fprint(out, ".")
		}

		select {
		case <-ctx.Done():
			return set, ctx.Err()
		default:
		}
	}
	if verbose {
		fmt.Fprint(out, "\n")
	}
	runtime.GC()

	return set, nil
}

// record adds one latency sample to the histogram, clamping values beyond the
// highest trackable value into the top bucket.
func (a *Allocator) record(hist *hdrhistogram.Histogram, d time.Duration) {
	v := d.Nanoseconds()
	if v > hist.HighestTrackableValue() {
		v = hist.HighestTrackableValue()
	}
	if v < 0 {
		v = 0
	}
	_ = hist.RecordCorrectedValue(v, expectedIntervalNanos)
	if a.onLatency != nil {
		a.onLatency(d)
	}
}
