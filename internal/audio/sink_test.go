package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
)

func testFormat() beep.Format {
	return beep.Format{SampleRate: 44100, NumChannels: 2, Precision: 2}
}

func TestPipeAcquireHonorsContext(t *testing.T) {
	dir := t.TempDir()
	if err := syscall.Mkfifo(filepath.Join(dir, "cap-1-1.pcm"), 0o600); err != nil {
		t.Fatalf("mkfifo: %v", err)
	}
	p := &PipeProvider{Dir: dir, Format: testFormat()}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, _, err := p.Acquire(ctx, "cap-1-1")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Acquire() on writer-less pipe error = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Acquire() still blocked on writer-less pipe after deadline")
	}
}

func TestPipeAcquireMissingPipe(t *testing.T) {
	p := &PipeProvider{Dir: t.TempDir(), Format: testFormat()}

	if _, _, err := p.Acquire(context.Background(), "nope"); err == nil {
		t.Fatalf("Acquire() on missing pipe succeeded")
	}
}

func TestPipeAcquireReadsStream(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cap-2-1.pcm"), []byte{0, 0, 0, 0}, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := &PipeProvider{Dir: dir, Format: testFormat()}

	src, format, err := p.Acquire(context.Background(), "cap-2-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer src.Close()
	if format.NumChannels != 2 {
		t.Fatalf("format = %+v, want 2 channels", format)
	}
	buf := make([][2]float64, 1)
	if n, ok := src.Stream(buf); !ok || n != 1 {
		t.Fatalf("Stream() = (%d, %v), want (1, true)", n, ok)
	}
}
