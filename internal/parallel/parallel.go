// Package parallel provides the goroutine fan-out used by engine layers
// for intra-operator parallelism. The worker count is fixed at layer
// build time from the execution options and never grows per call.
package parallel

import "sync"

// Config controls the fan-out behavior of a single layer.
type Config struct {
	Enabled      bool // Whether fan-out is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// WithWorkers builds a config for a fixed worker count, as chosen by
// the engine execution options. n <= 1 disables fan-out entirely.
func WithWorkers(n int) Config {
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 1, // Layer rows/channels are few; fan out even small counts.
	}
}

// For executes f(i) for i in [0, n) with optional fan-out.
// Falls back to sequential execution if fan-out is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || n < 2 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}
