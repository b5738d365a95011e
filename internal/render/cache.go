// Package render delivers sanitized template output to rendering surfaces.
//
// A Cache remembers the last raw source it saw and the output computed for
// it, so a surface that is asked to render the same source again gets the
// previous output without running the template engine or the sanitizer. A
// Surface runs the whole pipeline for one template instance: template
// compilation, custom element expansion, style scoping and sanitization.
package render

import (
	"context"
	"sync"
)

// ComputeFunc produces the output for a raw source.
type ComputeFunc func(ctx context.Context) (string, error)

// Result is the outcome of a GetOrCompute call.
type Result struct {
	Output string
	// Changed is false when the output equals the previously stored output,
	// letting the surface skip a repaint.
	Changed bool
	// Computed reports whether the compute function ran.
	Computed bool
}

// Cache memoizes the last output computed for a raw source. The zero value
// is ready to use and it is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	seen     bool
	stale    bool
	source   string
	output   string
	computes int64
}

// GetOrCompute returns the stored output when raw equals the last source
// seen. Otherwise compute runs and its output is stored together with raw.
// A failed compute leaves the stored entry untouched.
func (c *Cache) GetOrCompute(ctx context.Context, raw string, compute ComputeFunc) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seen && !c.stale && raw == c.source {
		return Result{Output: c.output}, nil
	}

	c.computes++
	out, err := compute(ctx)
	if err != nil {
		return Result{}, err
	}

	changed := !c.seen || out != c.output
	c.seen = true
	c.stale = false
	c.source = raw
	c.output = out
	return Result{Output: out, Changed: changed, Computed: true}, nil
}

// Last returns the last stored output.
func (c *Cache) Last() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output, c.seen
}

// Forget drops the remembered source so the next call recomputes. The
// stored output is kept for change detection.
func (c *Cache) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
}

// Computes returns how many times a compute function was invoked.
func (c *Cache) Computes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.computes
}
