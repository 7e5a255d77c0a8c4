package cycle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"nku/internal/logging"
	"nku/internal/runtime"
)

// LoadModel loads path with bounded retries and makes it the resident model.
// The backoff for attempt i is slept after that attempt fails, including the
// last one. Unload is safe to call afterwards whatever the outcome.
func (c *Cycle) LoadModel(ctx context.Context, runID, path string) (runtime.Model, error) {
	c.Unload()

	stop := c.startProgress(runID)
	defer stop()

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxLoadAttempts; attempt++ {
		m, err := c.deps.Runtime.Load(ctx, path)
		if err == nil {
			c.mu.Lock()
			c.model = m
			c.mu.Unlock()
			stop()
			c.progress(runID, 1)
			logging.Cycle("model loaded on attempt %d [run_id=%s]", attempt, runID)
			return m, nil
		}
		if m != nil {
			_ = m.Close()
		}
		lastErr = err
		delay := c.backoff(attempt)
		logging.CycleWarn("load attempt %d/%d failed, backing off %v [run_id=%s]: %v",
			attempt, c.opts.MaxLoadAttempts, delay, runID, err)
		c.sleep(delay)
	}
	return nil, fmt.Errorf("model load failed after %d attempts: %w", c.opts.MaxLoadAttempts, lastErr)
}

func (c *Cycle) backoff(attempt int) time.Duration {
	if attempt-1 < len(c.opts.Backoff) {
		return c.opts.Backoff[attempt-1]
	}
	return c.opts.Backoff[len(c.opts.Backoff)-1]
}

// Unload closes the resident model, if any. It is idempotent.
func (c *Cycle) Unload() {
	c.mu.Lock()
	m := c.model
	c.model = nil
	c.mu.Unlock()
	if m == nil {
		return
	}
	if err := m.Close(); err != nil {
		logging.CycleWarn("model close: %v", err)
	}
	logging.CycleDebug("model unloaded")
}

// estimateProgress approaches 0.95 as elapsed grows and never reaches it.
func estimateProgress(elapsed, tau time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return 0.95 * (1 - math.Exp(-float64(elapsed)/float64(tau)))
}

// startProgress emits estimated load progress until the returned stop is
// called. stop waits for the ticker goroutine and may be called twice.
func (c *Cycle) startProgress(runID string) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	start := c.now()
	go func() {
		defer wg.Done()
		tick := time.NewTicker(c.opts.ProgressInterval)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				c.progress(runID, estimateProgress(c.now().Sub(start), c.opts.ProgressTau))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
