package bus

import "github.com/dgnsrekt/tabgain/internal/types"

// Message is the closed set of commands and events carried by the bus.
// Handlers dispatch with a type switch over the concrete kinds below.
type Message interface {
	isMessage()
}

// SetVolume asks the coordinator to apply a volume to a tab. The reply is
// sent as soon as the downstream session command has been dispatched; it does
// not confirm that capture actually started.
type SetVolume struct {
	Target types.TabID
	Volume int
	Reply  chan<- SetVolumeReply
}

type SetVolumeReply struct {
	Success bool `json:"success"`
}

// GetVolume reads the recorded volume for a tab. Tabs never requested report
// the unity default of 100.
type GetVolume struct {
	Target types.TabID
	Reply  chan<- VolumeReply
}

type VolumeReply struct {
	Volume int `json:"volume"`
}

// GetCaptured reads the set of tabs with an active capture, in insertion
// order of first capture.
type GetCaptured struct {
	Reply chan<- CapturedReply
}

type CapturedReply struct {
	Targets []types.TabID `json:"tab_ids"`
}

// TabClosed is the platform's tab-closed notification routed to the
// coordinator.
type TabClosed struct {
	Target types.TabID
}

// StartCapture tells the processor to acquire the stream behind Handle and
// build a session for Target. Gen is the coordinator's per-target generation
// at dispatch time; the processor rejects commands older than the latest
// generation it has seen for the target.
type StartCapture struct {
	Target types.TabID
	Handle string
	Volume int
	Gen    uint64
}

// UpdateVolume re-ramps an existing session's gain. No session is created if
// none exists.
type UpdateVolume struct {
	Target types.TabID
	Volume int
}

// StopCapture tears down the session for Target, if any.
type StopCapture struct {
	Target types.TabID
	Gen    uint64
}

func (SetVolume) isMessage()    {}
func (GetVolume) isMessage()    {}
func (GetCaptured) isMessage()  {}
func (TabClosed) isMessage()    {}
func (StartCapture) isMessage() {}
func (UpdateVolume) isMessage() {}
func (StopCapture) isMessage()  {}
