// Package processor owns the audio-processing sessions. It consumes session
// commands from its inbox on a single goroutine, acquires captured streams,
// and wires each one through a smoothed gain stage into an output sink.
// Exactly one session exists per tab at any time.
package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/dgnsrekt/tabgain/internal/audio"
	"github.com/dgnsrekt/tabgain/internal/bus"
	"github.com/dgnsrekt/tabgain/internal/types"
)

const defaultAcquireTimeout = 10 * time.Second

type session struct {
	handle string
	src    interface{ Close() error }
	ramp   *audio.GainRamp
	sink   audio.Sink
	gen    uint64
}

// pendingStart tracks a start whose stream acquisition is still in flight.
// Volume updates that land meanwhile retarget the pending value so the
// session starts at the newest volume.
type pendingStart struct {
	gen    uint64
	volume int
}

// acquisition is the completed result of an off-loop Acquire call.
type acquisition struct {
	target types.TabID
	gen    uint64
	handle string
	volume int
	src    beep.StreamCloser
	format beep.Format
	err    error
}

// Processor applies session commands. All state is confined to the Run
// goroutine; nothing here is safe for direct concurrent use.
type Processor struct {
	inbox    *bus.Inbox
	provider audio.StreamProvider
	sinks    audio.SinkFactory
	tau      time.Duration

	sessions map[types.TabID]*session
	lastGen  map[types.TabID]uint64

	// Stream acquisition runs on its own goroutine per start so one stuck
	// stream never stalls other tabs' commands. Results come back through
	// acquired and finish on the Run goroutine.
	acquired       chan acquisition
	pending        map[types.TabID]*pendingStart
	acquireTimeout time.Duration
}

// New builds a processor reading from inbox. tau is the gain ramp time
// constant shared by all sessions.
func New(inbox *bus.Inbox, provider audio.StreamProvider, sinks audio.SinkFactory, tau time.Duration) *Processor {
	return &Processor{
		inbox:          inbox,
		provider:       provider,
		sinks:          sinks,
		tau:            tau,
		sessions:       make(map[types.TabID]*session),
		lastGen:        make(map[types.TabID]uint64),
		acquired:       make(chan acquisition, 16),
		pending:        make(map[types.TabID]*pendingStart),
		acquireTimeout: defaultAcquireTimeout,
	}
}

// Run consumes the inbox until it is closed, then tears down any remaining
// sessions. Session state does not survive a restart of the processor; a
// coordinator that still believes a tab is captured will see its updates
// land on the no-session warning path.
func (p *Processor) Run() {
	for {
		select {
		case msg, ok := <-p.inbox.C():
			if !ok {
				p.shutdown()
				return
			}
			p.handle(msg)
		case a := <-p.acquired:
			p.finishStart(a)
		}
	}
}

// shutdown waits out in-flight acquisitions (bounded by acquireTimeout) and
// tears down every live session.
func (p *Processor) shutdown() {
	for len(p.pending) > 0 {
		a := <-p.acquired
		delete(p.pending, a.target)
		if a.src != nil {
			_ = a.src.Close()
		}
	}
	for id := range p.sessions {
		p.teardown(id)
	}
}

func (p *Processor) handle(msg bus.Message) {
	switch m := msg.(type) {
	case bus.StartCapture:
		p.startCapture(m)
	case bus.UpdateVolume:
		p.updateVolume(m)
	case bus.StopCapture:
		p.stopCapture(m)
	default:
		slog.Warn("processor ignoring unexpected message", "kind", msg)
	}
}

// staleGen reports and records generation ordering for a target. Commands
// stamped with a generation older than the newest one seen are stale copies
// from before a close and must not touch session state.
func (p *Processor) staleGen(id types.TabID, gen uint64) bool {
	if gen < p.lastGen[id] {
		return true
	}
	p.lastGen[id] = gen
	return false
}

func (p *Processor) startCapture(m bus.StartCapture) {
	if p.staleGen(m.Target, m.Gen) {
		slog.Warn("stale start capture rejected", "tab", m.Target, "gen", m.Gen, "latest", p.lastGen[m.Target])
		return
	}
	if _, ok := p.sessions[m.Target]; ok {
		slog.Debug("session already exists, start ignored", "tab", m.Target)
		return
	}
	if _, ok := p.pending[m.Target]; ok {
		slog.Debug("acquisition already in flight, start ignored", "tab", m.Target)
		return
	}

	p.pending[m.Target] = &pendingStart{gen: m.Gen, volume: m.Volume}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.acquireTimeout)
		defer cancel()
		src, format, err := p.provider.Acquire(ctx, m.Handle)
		p.acquired <- acquisition{
			target: m.Target,
			gen:    m.Gen,
			handle: m.Handle,
			volume: m.Volume,
			src:    src,
			format: format,
			err:    err,
		}
	}()
}

// finishStart lands a completed acquisition back on the Run goroutine. The
// tab may have closed while the acquisition was in flight; the generation
// guard discards streams that outlived their capture.
func (p *Processor) finishStart(a acquisition) {
	pd := p.pending[a.target]
	delete(p.pending, a.target)

	if a.err != nil {
		slog.Error("stream acquisition failed", "tab", a.target, "handle", a.handle, "error", a.err)
		return
	}
	if a.gen < p.lastGen[a.target] {
		slog.Warn("acquisition outlived its capture, stream discarded", "tab", a.target, "gen", a.gen)
		_ = a.src.Close()
		return
	}
	if _, ok := p.sessions[a.target]; ok {
		_ = a.src.Close()
		return
	}

	volume := a.volume
	if pd != nil {
		volume = pd.volume
	}
	ramp := audio.NewGainRamp(a.src, a.format.SampleRate, p.tau)
	ramp.SetTarget(float64(volume) / 100.0)

	sink := p.sinks()
	sink.Start(ramp)

	p.sessions[a.target] = &session{handle: a.handle, src: a.src, ramp: ramp, sink: sink, gen: a.gen}
	slog.Info("capture session started", "tab", a.target, "volume", volume)
}

func (p *Processor) updateVolume(m bus.UpdateVolume) {
	if s, ok := p.sessions[m.Target]; ok {
		s.ramp.SetTarget(float64(m.Volume) / 100.0)
		slog.Debug("session volume updated", "tab", m.Target, "volume", m.Volume)
		return
	}
	if pd, ok := p.pending[m.Target]; ok {
		pd.volume = m.Volume
		slog.Debug("pending session volume updated", "tab", m.Target, "volume", m.Volume)
		return
	}
	slog.Warn("no session for tab, volume update dropped", "tab", m.Target, "volume", m.Volume)
}

func (p *Processor) stopCapture(m bus.StopCapture) {
	if p.staleGen(m.Target, m.Gen) {
		slog.Warn("stale stop capture rejected", "tab", m.Target, "gen", m.Gen)
		return
	}
	if _, ok := p.sessions[m.Target]; !ok {
		return
	}
	p.teardown(m.Target)
	slog.Info("capture session stopped", "tab", m.Target)
}

func (p *Processor) teardown(id types.TabID) {
	s := p.sessions[id]
	s.sink.Stop()
	if err := s.src.Close(); err != nil {
		slog.Debug("session stream close failed", "tab", id, "error", err)
	}
	delete(p.sessions, id)
}
