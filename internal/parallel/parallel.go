// Package parallel splits index ranges across goroutines. The tensor
// package uses it to permute large kernel tensors during weight import and
// export.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution.
type Config struct {
	Enabled      bool // Whether to use more than one goroutine
	NumWorkers   int  // Upper bound on goroutines
	MinChunkSize int  // Minimum items per goroutine
}

// DefaultConfig uses one worker per CPU and chunks of at least 4096 items.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 4096,
	}
}

// Range calls f on consecutive, disjoint [start, end) chunks covering
// [0, n) and returns once every call has finished. With parallelism
// disabled, or n below MinChunkSize, f runs once on [0, n).
func Range(n int, f func(start, end int), cfg Config) {
	if n <= 0 {
		return
	}
	if !cfg.Enabled || cfg.NumWorkers < 2 || n < cfg.MinChunkSize {
		f(0, n)
		return
	}

	chunk := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize, 1)
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			f(s, e)
		}(start, end)
	}
	wg.Wait()
}

// For executes f(i) for every i in [0, n).
func For(n int, f func(i int), cfg Config) {
	Range(n, func(start, end int) {
		for i := start; i < end; i++ {
			f(i)
		}
	}, cfg)
}
