// Package calibrate measures the real memory footprint of an allocation unit.
package calibrate

import (
	"log"
	"runtime"
)

const (
	mb = 1024 * 1024

	// DefaultReferenceVolume is the rough amount of memory a calibration
	// batch fills before the footprint is measured.
	DefaultReferenceVolume = 256 * mb

	// Rough per-unit cost guess used only to size the calibration batch:
	// element storage plus header and allocator overhead.
	estimatedOverheadBytes = 40
	elementSizeBytes       = 8
)

// Calibrator measures the per-unit byte cost of the configured unit shape by
// allocating a batch and observing the heap occupancy delta around it.
type Calibrator struct {
	UnitArrayLen    int
	ReferenceVolume int64
}

// New creates a Calibrator for units of the given element count.
func New(unitArrayLen int) *Calibrator {
	return &Calibrator{
		UnitArrayLen:    unitArrayLen,
		ReferenceVolume: DefaultReferenceVolume,
	}
}

// BytesPerUnit allocates a calibration batch and returns the measured byte
// cost of one unit. The batch is discarded after measurement. If the runtime
// reclaims calibration objects mid-measurement the result is unreliable and
// may even be non-positive; callers must treat that as measurement noise.
func (c *Calibrator) BytesPerUnit() float64 {
	batchCount := c.ReferenceVolume / int64(estimatedOverheadBytes+c.UnitArrayLen*elementSizeBytes)
	if batchCount < 1 {
		batchCount = 1
	}

	runtime.GC()
	before := heapUsed()

	batch := make([][]int64, 0, batchCount)
	for i := int64(0); i < batchCount; i++ {
		batch = append(batch, make([]int64, c.UnitArrayLen))
	}

	used := heapUsed() - before
	runtime.KeepAlive(batch)
	batch = nil
	runtime.GC()

	return float64(used) / float64(batchCount)
}

// UnitsPerMB returns how many units consume one megabyte, guarding against a
// degenerate footprint measurement. A non-positive measurement falls back to
// the rough size estimate with a diagnostic rather than dividing by zero.
func (c *Calibrator) UnitsPerMB() int64 {
	return c.unitsFor(c.BytesPerUnit())
}

// unitsFor converts a measured per-unit byte cost into units per megabyte.
func (c *Calibrator) unitsFor(bytesPerUnit float64) int64 {
	if bytesPerUnit <= 0 {
		fallback := float64(estimatedOverheadBytes + c.UnitArrayLen*elementSizeBytes)
		log.Printf("[heap-primer] calibration measured %.1f bytes/unit, falling back to estimate of %.0f",
			bytesPerUnit, fallback)
		bytesPerUnit = fallback
	}
	units := int64(mb / bytesPerUnit)
	if units < 1 {
		units = 1
	}
	return units
}

// heapUsed returns the current live heap occupancy in bytes.
func heapUsed() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc)
}
