package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// StreamProvider acquires the live audio stream authorized by a capture
// handle. Acquisition is asynchronous, fallible, and has no built-in retry.
type StreamProvider interface {
	Acquire(ctx context.Context, handle string) (beep.StreamCloser, beep.Format, error)
}

// Sink consumes one session's processed stream until stopped.
type Sink interface {
	Start(s beep.Streamer)
	Stop()
}

// SinkFactory builds a fresh sink per session.
type SinkFactory func() Sink

// SpeakerOutput plays session streams on the default output device through
// the shared speaker mixer. Init must be called once before building sinks.
type SpeakerOutput struct {
	sr beep.SampleRate
}

// NewSpeakerOutput initializes the speaker for the given sample rate with the
// given mixer buffer length.
func NewSpeakerOutput(sr beep.SampleRate, buffer time.Duration) (*SpeakerOutput, error) {
	if buffer <= 0 {
		buffer = 100 * time.Millisecond
	}
	if err := speaker.Init(sr, sr.N(buffer)); err != nil {
		return nil, fmt.Errorf("speaker init: %w", err)
	}
	return &SpeakerOutput{sr: sr}, nil
}

// NewSink returns a per-session sink on the shared mixer.
func (o *SpeakerOutput) NewSink() Sink {
	return &speakerSink{}
}

// Close tears down the speaker device.
func (o *SpeakerOutput) Close() {
	speaker.Close()
}

type speakerSink struct {
	ctrl *beep.Ctrl
}

func (s *speakerSink) Start(str beep.Streamer) {
	s.ctrl = &beep.Ctrl{Streamer: str}
	speaker.Play(s.ctrl)
}

func (s *speakerSink) Stop() {
	if s.ctrl == nil {
		return
	}
	speaker.Lock()
	s.ctrl.Streamer = nil
	speaker.Unlock()
	s.ctrl = nil
}

// PipeProvider acquires streams from per-handle PCM pipes under Dir, the
// layout produced by routing the browser's audio through a loopback module
// that writes s16le frames to <dir>/<handle>.pcm.
type PipeProvider struct {
	Dir    string
	Format beep.Format
}

// Acquire opens the pipe for the handle. Opening a FIFO for reading blocks
// until a writer appears, so the open runs on its own goroutine and ctx
// bounds the wait.
func (p *PipeProvider) Acquire(ctx context.Context, handle string) (beep.StreamCloser, beep.Format, error) {
	path := filepath.Join(p.Dir, handle+".pcm")

	type opened struct {
		f   *os.File
		err error
	}
	ch := make(chan opened, 1)
	go func() {
		f, err := os.Open(path)
		ch <- opened{f: f, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, beep.Format{}, fmt.Errorf("open capture pipe %s: %w", path, o.err)
		}
		return NewPCMStream(o.f, p.Format), p.Format, nil
	case <-ctx.Done():
		// Poke the write side to unblock the pending reader open, then reap
		// the handle it produced.
		if fd, err := syscall.Open(path, syscall.O_WRONLY|syscall.O_NONBLOCK, 0); err == nil {
			_ = syscall.Close(fd)
		}
		go func() {
			if o := <-ch; o.f != nil {
				_ = o.f.Close()
			}
		}()
		return nil, beep.Format{}, ctx.Err()
	}
}
