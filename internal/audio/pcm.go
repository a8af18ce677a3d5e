package audio

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/gopxl/beep/v2"
)

// pcmStream adapts a reader of interleaved signed 16-bit little-endian PCM
// into a beep streamer. Stereo and mono layouts are supported; mono input is
// duplicated to both channels.
type pcmStream struct {
	r        *bufio.Reader
	closer   io.Closer
	channels int
	err      error
}

// NewPCMStream wraps rc, which must produce s16le frames matching format.
func NewPCMStream(rc io.ReadCloser, format beep.Format) beep.StreamCloser {
	ch := format.NumChannels
	if ch < 1 {
		ch = 2
	}
	return &pcmStream{
		r:        bufio.NewReaderSize(rc, 1<<15),
		closer:   rc,
		channels: ch,
	}
}

func (p *pcmStream) Stream(samples [][2]float64) (n int, ok bool) {
	if p.err != nil {
		return 0, false
	}

	frame := make([]byte, 2*p.channels)
	for n < len(samples) {
		if _, err := io.ReadFull(p.r, frame); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				p.err = err
			} else {
				p.err = io.EOF
			}
			break
		}

		left := float64(int16(binary.LittleEndian.Uint16(frame[0:2]))) / (1 << 15)
		right := left
		if p.channels >= 2 {
			right = float64(int16(binary.LittleEndian.Uint16(frame[2:4]))) / (1 << 15)
		}
		samples[n][0] = left
		samples[n][1] = right
		n++
	}
	return n, n > 0
}

func (p *pcmStream) Err() error {
	if p.err == io.EOF {
		return nil
	}
	return p.err
}

func (p *pcmStream) Close() error {
	return p.closer.Close()
}
