package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/tabgain/internal/audio"
	"github.com/dgnsrekt/tabgain/internal/bus"
	"github.com/gopxl/beep/v2"
)

type silentSource struct {
	mu     sync.Mutex
	closed bool
}

func (s *silentSource) Stream(samples [][2]float64) (int, bool) { return len(samples), true }
func (s *silentSource) Err() error                              { return nil }

func (s *silentSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *silentSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeProvider struct {
	mu       sync.Mutex
	acquired int
	failWith error
	last     *silentSource
}

func (f *fakeProvider) Acquire(ctx context.Context, handle string) (beep.StreamCloser, beep.Format, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, beep.Format{}, f.failWith
	}
	f.acquired++
	f.last = &silentSource{}
	return f.last, beep.Format{SampleRate: 44100, NumChannels: 2, Precision: 2}, nil
}

func (f *fakeProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired
}

func (f *fakeProvider) lastSource() *silentSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// gatedProvider blocks acquisition for one handle until released; every other
// handle acquires immediately.
type gatedProvider struct {
	fakeProvider
	slowHandle string
	release    chan struct{}
}

func (g *gatedProvider) Acquire(ctx context.Context, handle string) (beep.StreamCloser, beep.Format, error) {
	if handle == g.slowHandle {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, beep.Format{}, ctx.Err()
		}
	}
	return g.fakeProvider.Acquire(ctx, handle)
}

type fakeSink struct {
	mu      sync.Mutex
	stopped bool
}

func (f *fakeSink) Start(beep.Streamer) {}

func (f *fakeSink) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func newTestProcessor(provider audio.StreamProvider) (*Processor, *[]*fakeSink) {
	sinks := &[]*fakeSink{}
	factory := func() audio.Sink {
		s := &fakeSink{}
		*sinks = append(*sinks, s)
		return s
	}
	p := New(bus.NewInbox("processor", 16), provider, factory, 10*time.Millisecond)
	return p, sinks
}

// pump completes one in-flight acquisition on the caller's goroutine, the way
// Run's select would.
func pump(t *testing.T, p *Processor) {
	t.Helper()
	select {
	case a := <-p.acquired:
		p.finishStart(a)
	case <-time.After(2 * time.Second):
		t.Fatalf("no acquisition completed")
	}
}

func TestStartCaptureIdempotent(t *testing.T) {
	provider := &fakeProvider{}
	p, _ := newTestProcessor(provider)

	p.handle(bus.StartCapture{Target: 7, Handle: "h-1", Volume: 150, Gen: 1})
	p.handle(bus.StartCapture{Target: 7, Handle: "h-1", Volume: 150, Gen: 1})

	if len(p.pending) != 1 {
		t.Fatalf("pending acquisitions = %d, want 1", len(p.pending))
	}
	pump(t, p)

	if got := provider.count(); got != 1 {
		t.Fatalf("streams acquired = %d, want 1", got)
	}
	if len(p.sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(p.sessions))
	}
	if got := p.sessions[7].ramp.Target(); got != 1.5 {
		t.Fatalf("gain target = %v, want 1.5", got)
	}

	// A start after the session exists acquires nothing.
	p.handle(bus.StartCapture{Target: 7, Handle: "h-1", Volume: 150, Gen: 1})
	if got := provider.count(); got != 1 {
		t.Fatalf("streams acquired after repeat start = %d, want 1", got)
	}
}

func TestStopWithoutSessionIsNoop(t *testing.T) {
	p, _ := newTestProcessor(&fakeProvider{})

	p.handle(bus.StopCapture{Target: 9, Gen: 1})

	if len(p.sessions) != 0 {
		t.Fatalf("sessions = %d, want 0", len(p.sessions))
	}
}

func TestUpdateWithoutSessionDropsQuietly(t *testing.T) {
	provider := &fakeProvider{}
	p, _ := newTestProcessor(provider)

	p.handle(bus.UpdateVolume{Target: 4, Volume: 300})

	if len(p.sessions) != 0 {
		t.Fatalf("update created a session")
	}
	if got := provider.count(); got != 0 {
		t.Fatalf("update acquired a stream")
	}
}

func TestUpdateRetargetsExistingSession(t *testing.T) {
	p, _ := newTestProcessor(&fakeProvider{})

	p.handle(bus.StartCapture{Target: 7, Handle: "h-1", Volume: 150, Gen: 1})
	pump(t, p)
	p.handle(bus.UpdateVolume{Target: 7, Volume: 50})

	if len(p.sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(p.sessions))
	}
	if got := p.sessions[7].ramp.Target(); got != 0.5 {
		t.Fatalf("gain target = %v, want 0.5", got)
	}
}

func TestUpdateWhilePendingAppliesOnStart(t *testing.T) {
	p, _ := newTestProcessor(&fakeProvider{})

	p.handle(bus.StartCapture{Target: 7, Handle: "h-1", Volume: 150, Gen: 1})
	p.handle(bus.UpdateVolume{Target: 7, Volume: 50})
	pump(t, p)

	if got := p.sessions[7].ramp.Target(); got != 0.5 {
		t.Fatalf("gain target = %v, want 0.5 from the mid-flight update", got)
	}
}

func TestStopTearsDownSession(t *testing.T) {
	provider := &fakeProvider{}
	p, sinks := newTestProcessor(provider)

	p.handle(bus.StartCapture{Target: 7, Handle: "h-1", Volume: 150, Gen: 1})
	pump(t, p)
	src := provider.lastSource()
	p.handle(bus.StopCapture{Target: 7, Gen: 2})

	if len(p.sessions) != 0 {
		t.Fatalf("sessions = %d, want 0", len(p.sessions))
	}
	if !src.isClosed() {
		t.Fatalf("stream not closed on stop")
	}
	if len(*sinks) != 1 || !(*sinks)[0].stopped {
		t.Fatalf("sink not stopped on stop")
	}
}

func TestAcquisitionFailureLeavesNoSession(t *testing.T) {
	provider := &fakeProvider{failWith: errors.New("device busy")}
	p, _ := newTestProcessor(provider)

	p.handle(bus.StartCapture{Target: 3, Handle: "h-3", Volume: 100, Gen: 1})
	pump(t, p)

	if len(p.sessions) != 0 {
		t.Fatalf("sessions = %d, want 0", len(p.sessions))
	}
	if len(p.pending) != 0 {
		t.Fatalf("pending = %d, want 0", len(p.pending))
	}
}

func TestStaleStartCannotResurrectClosedTab(t *testing.T) {
	provider := &fakeProvider{}
	p, _ := newTestProcessor(provider)

	// Close observed first (gen 2), then a delayed start from before the
	// close (gen 1) arrives.
	p.handle(bus.StopCapture{Target: 7, Gen: 2})
	p.handle(bus.StartCapture{Target: 7, Handle: "h-old", Volume: 150, Gen: 1})

	if len(p.pending) != 0 {
		t.Fatalf("stale start began an acquisition")
	}
	if len(p.sessions) != 0 {
		t.Fatalf("stale start resurrected a session")
	}
	if got := provider.count(); got != 0 {
		t.Fatalf("stale start acquired a stream")
	}
}

func TestCloseDuringAcquisitionDiscardsStream(t *testing.T) {
	provider := &fakeProvider{}
	p, _ := newTestProcessor(provider)

	p.handle(bus.StartCapture{Target: 7, Handle: "h-1", Volume: 150, Gen: 1})
	// The tab closes while the acquisition is still in flight.
	p.handle(bus.StopCapture{Target: 7, Gen: 2})
	pump(t, p)

	if len(p.sessions) != 0 {
		t.Fatalf("late acquisition resurrected a closed tab's session")
	}
	if src := provider.lastSource(); src != nil && !src.isClosed() {
		t.Fatalf("late-acquired stream left open")
	}
}

func TestStaleStopDoesNotKillNewerSession(t *testing.T) {
	p, _ := newTestProcessor(&fakeProvider{})

	p.handle(bus.StartCapture{Target: 7, Handle: "h-2", Volume: 150, Gen: 3})
	pump(t, p)
	p.handle(bus.StopCapture{Target: 7, Gen: 2})

	if len(p.sessions) != 1 {
		t.Fatalf("stale stop tore down a newer session")
	}
}

func TestRunDrainsAndTearsDown(t *testing.T) {
	provider := &fakeProvider{}
	inbox := bus.NewInbox("processor", 16)
	p := New(inbox, provider, func() audio.Sink { return &fakeSink{} }, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Run()
		close(done)
	}()

	inbox.Send(bus.StartCapture{Target: 1, Handle: "h", Volume: 200, Gen: 1})
	inbox.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit after inbox close")
	}
	if len(p.sessions) != 0 {
		t.Fatalf("sessions remain after shutdown: %d", len(p.sessions))
	}
	if len(p.pending) != 0 {
		t.Fatalf("pending remain after shutdown: %d", len(p.pending))
	}
}

func TestSlowAcquisitionDoesNotStallOtherTabs(t *testing.T) {
	provider := &gatedProvider{slowHandle: "h-slow", release: make(chan struct{})}
	inbox := bus.NewInbox("processor", 16)
	started := make(chan struct{}, 4)
	p := New(inbox, provider, func() audio.Sink {
		started <- struct{}{}
		return &fakeSink{}
	}, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Run()
		close(done)
	}()

	inbox.Send(bus.StartCapture{Target: 1, Handle: "h-slow", Volume: 150, Gen: 1})
	inbox.Send(bus.StartCapture{Target: 2, Handle: "h-fast", Volume: 200, Gen: 1})

	// The fast tab's session starts while the slow handle is still wedged.
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("second tab's session blocked behind a stuck acquisition")
	}

	close(provider.release)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("released acquisition never produced a session")
	}

	inbox.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit after inbox close")
	}
	if len(p.sessions) != 0 {
		t.Fatalf("sessions remain after shutdown: %d", len(p.sessions))
	}
}
