package bus

import (
	"testing"

	"github.com/dgnsrekt/tabgain/internal/types"
)

func TestInboxSendReceive(t *testing.T) {
	in := NewInbox("test", 4)
	defer in.Close()

	if ok := in.Send(UpdateVolume{Target: 7, Volume: 150}); !ok {
		t.Fatalf("Send() = false, want true")
	}

	msg := <-in.C()
	upd, ok := msg.(UpdateVolume)
	if !ok {
		t.Fatalf("received %T, want UpdateVolume", msg)
	}
	if upd.Target != 7 || upd.Volume != 150 {
		t.Fatalf("received %+v, want target=7 volume=150", upd)
	}
}

func TestInboxDropsWhenFull(t *testing.T) {
	in := NewInbox("test", 1)
	defer in.Close()

	if ok := in.Send(TabClosed{Target: 1}); !ok {
		t.Fatalf("first Send() = false, want true")
	}
	if ok := in.Send(TabClosed{Target: 2}); ok {
		t.Fatalf("second Send() = true, want dropped")
	}

	msg := <-in.C()
	if tc := msg.(TabClosed); tc.Target != types.TabID(1) {
		t.Fatalf("surviving message target = %d, want 1", tc.Target)
	}
}

func TestInboxSendAfterClose(t *testing.T) {
	in := NewInbox("test", 1)
	in.Close()

	if ok := in.Send(StopCapture{Target: 3}); ok {
		t.Fatalf("Send() after Close = true, want dropped")
	}

	if _, open := <-in.C(); open {
		t.Fatalf("channel still open after Close")
	}
}

func TestInboxDoubleClose(t *testing.T) {
	in := NewInbox("test", 1)
	in.Close()
	in.Close() // must not panic
}
