// Package coordinator owns the authoritative per-tab volume and capture
// state. It arbitrates capture creation against the platform capture
// facility, keeps the processor's sessions converging toward its own view,
// and answers the control surface's request/reply commands. All state is
// confined to the Run goroutine.
package coordinator

import (
	"context"
	"log/slog"

	"github.com/dgnsrekt/tabgain/internal/bus"
	"github.com/dgnsrekt/tabgain/internal/processor"
	"github.com/dgnsrekt/tabgain/internal/types"
)

// DefaultVolume is the unity-gain percentage reported for tabs that were
// never requested.
const DefaultVolume = 100

// HandleGranter is the platform capture facility. Grant returns an opaque
// handle authorizing stream acquisition for the tab, or an error when the
// platform denies capture (tab gone, already captured elsewhere).
type HandleGranter interface {
	Grant(ctx context.Context, tab types.TabID) (string, error)
}

// Recorder receives audit events for volume commands and capture
// transitions. Implementations must not block.
type Recorder interface {
	Record(event string, tab types.TabID, volume int, detail string)
}

type phase int

const (
	// phaseTracked: a volume is recorded but no capture session exists.
	phaseTracked phase = iota
	// phaseCapturing: a capture session is believed active. The only exit
	// is tab close; there is no capturing -> tracked transition.
	phaseCapturing
)

type tabState struct {
	phase  phase
	volume int
}

func (s *tabState) beginCapture() {
	s.phase = phaseCapturing
}

// Options carries optional collaborator hooks.
type Options struct {
	// OnCaptureDenied is invoked after a denied capture grant, in addition
	// to the diagnostic log. May be nil.
	OnCaptureDenied func(tab types.TabID, err error)
	// Recorder receives audit events. May be nil.
	Recorder Recorder
}

// Coordinator is the process-wide singleton described above. Construct with
// New and run exactly one Run goroutine.
type Coordinator struct {
	inbox  *bus.Inbox
	host   *processor.Host
	grants HandleGranter
	opts   Options

	states map[types.TabID]*tabState
	order  []types.TabID // insertion order of first capture
	gens   map[types.TabID]uint64
}

func New(inbox *bus.Inbox, host *processor.Host, grants HandleGranter, opts Options) *Coordinator {
	return &Coordinator{
		inbox:  inbox,
		host:   host,
		grants: grants,
		opts:   opts,
		states: make(map[types.TabID]*tabState),
		gens:   make(map[types.TabID]uint64),
	}
}

// Run consumes the inbox until it is closed.
func (c *Coordinator) Run() {
	for msg := range c.inbox.C() {
		c.handle(msg)
	}
}

func (c *Coordinator) handle(msg bus.Message) {
	switch m := msg.(type) {
	case bus.SetVolume:
		c.setVolume(m)
	case bus.GetVolume:
		c.getVolume(m)
	case bus.GetCaptured:
		c.getCaptured(m)
	case bus.TabClosed:
		c.tabClosed(m)
	default:
		slog.Warn("coordinator ignoring unexpected message", "kind", msg)
	}
}

func (c *Coordinator) record(event string, tab types.TabID, volume int, detail string) {
	if c.opts.Recorder != nil {
		c.opts.Recorder.Record(event, tab, volume, detail)
	}
}

// setVolume implements the optimistic fire-and-forget volume command: the
// reply reports success as soon as the downstream command is dispatched (or
// dropped), never waiting for the processor to confirm.
func (c *Coordinator) setVolume(m bus.SetVolume) {
	defer replySet(m.Reply)

	st, known := c.states[m.Target]
	if !known {
		st = &tabState{phase: phaseTracked}
		c.states[m.Target] = st
	}
	st.volume = m.Volume
	c.record("set_volume", m.Target, m.Volume, "")

	procInbox, err := c.host.Ensure(context.Background())
	if err != nil {
		slog.Error("processor start failed, volume command dropped", "tab", m.Target, "error", err)
		return
	}

	if st.phase == phaseCapturing {
		procInbox.Send(bus.UpdateVolume{Target: m.Target, Volume: m.Volume})
		return
	}

	handle, err := c.grants.Grant(context.Background(), m.Target)
	if err != nil {
		slog.Info("tab capture denied", "tab", m.Target, "error", err)
		c.record("capture_denied", m.Target, m.Volume, err.Error())
		if c.opts.OnCaptureDenied != nil {
			c.opts.OnCaptureDenied(m.Target, err)
		}
		return
	}

	st.beginCapture()
	c.order = append(c.order, m.Target)
	c.gens[m.Target]++
	procInbox.Send(bus.StartCapture{Target: m.Target, Handle: handle, Volume: m.Volume, Gen: c.gens[m.Target]})
	c.record("capture_started", m.Target, m.Volume, handle)
}

func (c *Coordinator) getVolume(m bus.GetVolume) {
	volume := DefaultVolume
	if st, ok := c.states[m.Target]; ok {
		volume = st.volume
	}
	select {
	case m.Reply <- bus.VolumeReply{Volume: volume}:
	default:
	}
}

func (c *Coordinator) getCaptured(m bus.GetCaptured) {
	targets := make([]types.TabID, len(c.order))
	copy(targets, c.order)
	select {
	case m.Reply <- bus.CapturedReply{Targets: targets}:
	default:
	}
}

// tabClosed is the authoritative cleanup path. The stop command is sent
// unconditionally; the processor tolerates stops for unknown tabs.
func (c *Coordinator) tabClosed(m bus.TabClosed) {
	delete(c.states, m.Target)
	for i, id := range c.order {
		if id == m.Target {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.gens[m.Target]++

	if procInbox, started := c.host.Started(); started {
		procInbox.Send(bus.StopCapture{Target: m.Target, Gen: c.gens[m.Target]})
	}
	c.record("tab_closed", m.Target, 0, "")
	slog.Debug("tab closed, state dropped", "tab", m.Target)
}

func replySet(ch chan<- bus.SetVolumeReply) {
	if ch == nil {
		return
	}
	select {
	case ch <- bus.SetVolumeReply{Success: true}:
	default:
	}
}
