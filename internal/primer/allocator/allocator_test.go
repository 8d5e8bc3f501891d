package allocator

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

const (
	testUnitLen        = 64
	testCalibrationVol = 2 * mb
)

func testConfig(rate int) Config {
	return Config{
		UnitArrayLen:    testUnitLen,
		RateMBPerSec:    rate,
		ReferenceVolume: testCalibrationVol,
	}
}

func newHist() *hdrhistogram.Histogram {
	return hdrhistogram.New(1, 100*1000*1000*1000, 2)
}

func TestRunBlockCount(t *testing.T) {
	tests := []struct {
		name       string
		targetMB   int
		wantBlocks int
	}{
		{name: "exact single block", targetMB: 10, wantBlocks: 1},
		{name: "rounds up past target", targetMB: 15, wantBlocks: 2},
		{name: "exact two blocks", targetMB: 20, wantBlocks: 2},
		{name: "one over a boundary", targetMB: 21, wantBlocks: 3},
		{name: "below one block", targetMB: 1, wantBlocks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(testConfig(0))
			hist := newHist()

			set, err := a.Run(context.Background(), tt.targetMB, hist, false, nil)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if set.Blocks() != tt.wantBlocks {
				t.Errorf("Blocks() = %d, want %d", set.Blocks(), tt.wantBlocks)
			}

			wantUnits := int64(tt.wantBlocks) * BlockMB * a.UnitsPerMB()
			if set.UnitCount() != wantUnits {
				t.Errorf("UnitCount() = %d, want %d", set.UnitCount(), wantUnits)
			}
			// Retained plus scratch: every unit is recorded exactly once.
			if hist.TotalCount() != 2*wantUnits {
				t.Errorf("TotalCount() = %d, want %d", hist.TotalCount(), 2*wantUnits)
			}
		})
	}
}

func TestRunThrottleFloor(t *testing.T) {
	const (
		targetMB = 20
		rate     = 2000 // MB/sec; floor = 20 * 2e9/2000 ns = 20ms
	)
	a := New(testConfig(rate))
	hist := newHist()

	start := time.Now()
	if _, err := a.Run(context.Background(), targetMB, hist, false, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	elapsed := time.Since(start)

	floor := time.Duration(targetMB) * 2 * time.Second / rate
	if elapsed < floor {
		t.Errorf("elapsed = %v, want >= throttle floor %v", elapsed, floor)
	}
}

func TestRunUnthrottled(t *testing.T) {
	a := New(testConfig(0))
	hist := newHist()

	set, err := a.Run(context.Background(), 10, hist, false, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if set.UnitCount() == 0 {
		t.Fatal("UnitCount() = 0, want allocations")
	}
	if hist.TotalCount() == 0 {
		t.Fatal("TotalCount() = 0, want latency samples")
	}
	if hist.Max() <= 0 {
		t.Errorf("Max() = %d, want positive latency", hist.Max())
	}
}

func TestRunCancellation(t *testing.T) {
	// A low rate makes the first block's throttle wait long enough to
	// cancel into.
	const rate = 10 // floor per block = 2s
	a := New(testConfig(rate))
	hist := newHist()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	set, err := a.Run(ctx, 100, hist, false, nil)
	elapsed := time.Since(start)

	if err != context.Canceled {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if elapsed > 5*time.Second {
		t.Errorf("cancellation took %v, want prompt stop", elapsed)
	}
	// The completed portion must remain reportable.
	if set.UnitCount() == 0 {
		t.Error("UnitCount() = 0, want partial retention set")
	}
	if hist.TotalCount() != 2*set.UnitCount() {
		t.Errorf("TotalCount() = %d, want %d", hist.TotalCount(), 2*set.UnitCount())
	}
}

func TestRunVerboseOutput(t *testing.T) {
	a := New(testConfig(0))
	hist := newHist()
	var buf bytes.Buffer

	set, err := a.Run(context.Background(), 25, hist, true, &buf)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "calibrated per-unit footprint") {
		t.Errorf("verbose output missing calibration line: %q", out)
	}
	if got := strings.Count(out, "."); got < set.Blocks() {
		t.Errorf("verbose output has %d progress markers, want >= %d", got, set.Blocks())
	}
}

func TestRunBlockCallback(t *testing.T) {
	a := New(testConfig(0))
	hist := newHist()

	var blocks []int
	var lastUnits int64
	a.SetOnBlock(func(blocksDone int, unitsAllocated int64) {
		blocks = append(blocks, blocksDone)
		lastUnits = unitsAllocated
	})

	set, err := a.Run(context.Background(), 30, hist, false, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(blocks) != set.Blocks() {
		t.Fatalf("callback fired %d times, want %d", len(blocks), set.Blocks())
	}
	for i, b := range blocks {
		if b != i+1 {
			t.Errorf("callback %d reported blocksDone = %d, want %d", i, b, i+1)
		}
	}
	if lastUnits != set.UnitCount() {
		t.Errorf("final unitsAllocated = %d, want %d", lastUnits, set.UnitCount())
	}
}

func TestRetentionSetEmpty(t *testing.T) {
	var set *RetentionSet
	if set.UnitCount() != 0 {
		t.Errorf("nil set UnitCount() = %d, want 0", set.UnitCount())
	}
	if set.Blocks() != 0 {
		t.Errorf("nil set Blocks() = %d, want 0", set.Blocks())
	}
}
