// Package workers splits row-major grid work into horizontal bands that are
// processed by separate goroutines.
package workers

import (
	"runtime"
	"sync"
)

// Count resolves a requested worker count. Values below 1 mean "use every
// available CPU".
func Count(requested int) int {
	if requested < 1 {
		return runtime.NumCPU()
	}
	return requested
}

// Rows calls fn once per band of rows [start, end) and returns after every
// band has finished. Bands are contiguous and never overlap, so fn may write
// to any cell of its own rows without locking.
func Rows(height, n int, fn func(start, end int)) {
	if height <= 0 {
		return
	}

	n = Count(n)
	if n > height {
		n = height
	}
	if n == 1 {
		fn(0, height)
		return
	}

	rowsPerWorker := (height + n - 1) / n

	var wg sync.WaitGroup
	for start := 0; start < height; start += rowsPerWorker {
		end := start + rowsPerWorker
		if end > height {
			end = height
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}
