// ABOUTME: Tests for the stats accumulator and heap info formatting
// ABOUTME: Min/max/average tracking and size rendering

package heap

import "testing"

func TestStatsAccumulator(t *testing.T) {
	var a StatsAccumulator[uint64]
	if a.Count() != 0 || a.Sum() != 0 {
		t.Error("zero accumulator not empty")
	}
	if a.Average() != 0 {
		t.Errorf("empty Average = %v, want 0", a.Average())
	}

	for _, v := range []uint64{6, 2, 9, 9, 4} {
		a.Record(v)
	}
	if a.Count() != 5 {
		t.Errorf("Count = %d, want 5", a.Count())
	}
	if a.Sum() != 30 {
		t.Errorf("Sum = %d, want 30", a.Sum())
	}
	if a.Min() != 2 {
		t.Errorf("Min = %d, want 2", a.Min())
	}
	if a.Max() != 9 {
		t.Errorf("Max = %d, want 9", a.Max())
	}
	if a.Average() != 6 {
		t.Errorf("Average = %v, want 6", a.Average())
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0.00B"},
		{1024, "1.00KB"},
		{3 << 20, "3.00MB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.in); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDebugHeapInfoInvariants(t *testing.T) {
	expectPanic(t, "finalized above collected", func() {
		info := DebugHeapInfo{NumCollectedObjects: 1, NumFinalizedObjects: 2}
		info.assertInvariants()
	})
}
