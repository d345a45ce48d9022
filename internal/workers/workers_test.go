package workers

import (
	"sync/atomic"
	"testing"
)

// TestRowsCoversEveryRowOnce checks that bands partition the row range
func TestRowsCoversEveryRowOnce(t *testing.T) {
	for _, tc := range []struct {
		height, workers int
	}{
		{1, 1},
		{7, 3},
		{10, 4},
		{5, 16},
		{64, 0},
	} {
		hits := make([]int32, tc.height)
		Rows(tc.height, tc.workers, func(start, end int) {
			for y := start; y < end; y++ {
				atomic.AddInt32(&hits[y], 1)
			}
		})

		for y, h := range hits {
			if h != 1 {
				t.Errorf("height=%d workers=%d: row %d visited %d times", tc.height, tc.workers, y, h)
			}
		}
	}
}

func TestRowsEmpty(t *testing.T) {
	called := false
	Rows(0, 4, func(start, end int) { called = true })
	if called {
		t.Errorf("Expected no call for zero height")
	}
}

func TestCount(t *testing.T) {
	if Count(3) != 3 {
		t.Errorf("Expected 3 workers, got %d", Count(3))
	}
	if Count(0) < 1 {
		t.Errorf("Expected at least one worker, got %d", Count(0))
	}
}
