package fusion

import (
	"context"
	"time"

	"nku/internal/types"
)

// StaticDetector reports a fixed reading. It backs snapshot files and tests.
type StaticDetector struct {
	M       types.Modality
	Reading *types.SensorReading
}

func (d StaticDetector) Modality() types.Modality { return d.M }

func (d StaticDetector) Latest(context.Context) (types.SensorReading, error) {
	if d.Reading == nil {
		return types.SensorReading{}, ErrNoReading
	}
	return *d.Reading, nil
}

// CaptureWindow calls sample every interval for duration and returns the
// collected samples. If ctx is cancelled first the partial samples are
// discarded and ctx.Err() is returned, so callers never analyse a truncated
// buffer.
func CaptureWindow[T any](ctx context.Context, duration, interval time.Duration, sample func(context.Context) (T, error)) ([]T, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.NewTimer(duration)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	var out []T
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return out, nil
		case <-tick.C:
			v, err := sample(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, err
			}
			out = append(out, v)
		}
	}
}
