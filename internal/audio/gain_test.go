package audio

import (
	"math"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
)

// unitSource streams a constant full-scale sample on both channels.
type unitSource struct{}

func (unitSource) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i][0] = 1.0
		samples[i][1] = 1.0
	}
	return len(samples), true
}

func (unitSource) Err() error { return nil }

func TestGainRampSteadyStateTarget(t *testing.T) {
	ramp := NewGainRamp(unitSource{}, beep.SampleRate(44100), 10*time.Millisecond)

	for _, tc := range []struct {
		volume int
		want   float64
	}{
		{250, 2.5},
		{0, 0.0},
		{100, 1.0},
		{900, 9.0},
	} {
		ramp.SetTarget(float64(tc.volume) / 100.0)
		if got := ramp.Target(); got != tc.want {
			t.Fatalf("Target() after volume %d = %v, want %v", tc.volume, got, tc.want)
		}
	}
}

func TestGainRampConverges(t *testing.T) {
	sr := beep.SampleRate(44100)
	ramp := NewGainRamp(unitSource{}, sr, 10*time.Millisecond)
	ramp.SetTarget(1.5)

	// Stream half a second of audio; far beyond several time constants.
	buf := make([][2]float64, 512)
	for streamed := 0; streamed < int(sr)/2; streamed += len(buf) {
		if _, ok := ramp.Stream(buf); !ok {
			t.Fatalf("Stream() = not ok")
		}
	}

	if got := ramp.Current(); math.Abs(got-1.5) > 1e-6 {
		t.Fatalf("Current() after convergence = %v, want ~1.5", got)
	}
	// The source is unit amplitude, so converged output equals the gain.
	out := make([][2]float64, 16)
	_, _ = ramp.Stream(out)
	if math.Abs(out[15][0]-1.5) > 1e-6 || math.Abs(out[15][1]-1.5) > 1e-6 {
		t.Fatalf("converged sample = %v, want ~1.5 on both channels", out[15])
	}
}

func TestGainRampStartsAtUnity(t *testing.T) {
	ramp := NewGainRamp(unitSource{}, beep.SampleRate(44100), 10*time.Millisecond)
	if got := ramp.Current(); got != 1.0 {
		t.Fatalf("initial Current() = %v, want 1.0", got)
	}
}

func TestGainRampApproachIsMonotonic(t *testing.T) {
	ramp := NewGainRamp(unitSource{}, beep.SampleRate(44100), 50*time.Millisecond)
	ramp.SetTarget(3.0)

	buf := make([][2]float64, 256)
	prev := 1.0
	for i := 0; i < 8; i++ {
		if _, ok := ramp.Stream(buf); !ok {
			t.Fatalf("Stream() = not ok")
		}
		cur := ramp.Current()
		if cur < prev {
			t.Fatalf("gain moved away from target: %v -> %v", prev, cur)
		}
		if cur > 3.0 {
			t.Fatalf("gain overshot target: %v", cur)
		}
		prev = cur
	}
	if prev <= 1.0 {
		t.Fatalf("gain never moved toward target, still %v", prev)
	}
}
