// Package audio implements the per-session processing graph: a captured PCM
// source streamed through a smoothed gain stage into an output sink.
package audio

import (
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
)

// GainRamp is a beep.Streamer that scales its source by a gain level which
// approaches a settable target exponentially, one sample at a time. The ramp
// avoids the audible click a hard gain step would produce, and rapid
// successive retargets compose smoothly instead of stepping.
type GainRamp struct {
	mu      sync.Mutex
	src     beep.Streamer
	coef    float64
	current float64
	target  float64
}

// NewGainRamp wraps src with a gain stage at unity. tau is the smoothing time
// constant; after one tau the gain has covered ~63% of the distance to the
// target.
func NewGainRamp(src beep.Streamer, sr beep.SampleRate, tau time.Duration) *GainRamp {
	secs := tau.Seconds()
	if secs <= 0 {
		secs = 0.01
	}
	return &GainRamp{
		src:     src,
		coef:    1 - math.Exp(-1/(secs*float64(sr))),
		current: 1.0,
		target:  1.0,
	}
}

// SetTarget retargets the ramp. The change takes effect from the next sample.
func (g *GainRamp) SetTarget(target float64) {
	g.mu.Lock()
	g.target = target
	g.mu.Unlock()
}

// Target returns the steady-state gain the ramp is approaching.
func (g *GainRamp) Target() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target
}

// Current returns the instantaneous gain level.
func (g *GainRamp) Current() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

func (g *GainRamp) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = g.src.Stream(samples)

	g.mu.Lock()
	cur, tgt, coef := g.current, g.target, g.coef
	g.mu.Unlock()

	for i := range samples[:n] {
		cur += coef * (tgt - cur)
		samples[i][0] *= cur
		samples[i][1] *= cur
	}

	g.mu.Lock()
	// Only fold the advanced level back in if nobody retargeted mid-stream.
	if g.target == tgt {
		g.current = cur
	}
	g.mu.Unlock()
	return n, ok
}

func (g *GainRamp) Err() error {
	return g.src.Err()
}
