package docsync

import (
	"context"
	"math/rand"
	"time"
)

// loop runs fn immediately and then every interval (with jitter) until ctx is
// done. A send on kick runs fn early and restarts the interval.
func loop(ctx context.Context, interval time.Duration, jitter float64, kick <-chan struct{}, fn func(context.Context)) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	fn(ctx)
	timer := time.NewTimer(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			fn(ctx)
		case <-kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			fn(ctx)
		}
		timer.Reset(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
	}
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return time.Millisecond
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
