package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Device renders one buffer at a time. Play blocks until the buffer has been
// rendered or ctx is cancelled.
type Device interface {
	Play(ctx context.Context, buf Buffer) error
	Close() error
}

// NullDevice discards audio but takes as long as real playback would.
type NullDevice struct{}

func (NullDevice) Play(ctx context.Context, buf Buffer) error {
	timer := time.NewTimer(buf.Duration())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (NullDevice) Close() error { return nil }

// PortAudioDevice writes to the default output device. The stream is opened
// lazily and reopened when the sample rate changes.
type PortAudioDevice struct {
	framesPerBuffer int

	mu     sync.Mutex
	stream *portaudio.Stream
	out    []float32
	rate   int
}

func NewPortAudioDevice(framesPerBuffer int) (*PortAudioDevice, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &PortAudioDevice{
		framesPerBuffer: framesPerBuffer,
		out:             make([]float32, framesPerBuffer),
	}, nil
}

func (d *PortAudioDevice) Play(ctx context.Context, buf Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.open(buf.SampleRate); err != nil {
		return err
	}
	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}

	samples := buf.Samples
	for off := 0; off < len(samples); {
		if err := ctx.Err(); err != nil {
			_ = d.stream.Abort()
			return err
		}
		n := copy(d.out, samples[off:])
		clear(d.out[n:])
		if err := d.stream.Write(); err != nil {
			_ = d.stream.Abort()
			return fmt.Errorf("write output stream: %w", err)
		}
		off += n
	}
	if err := d.stream.Stop(); err != nil {
		return fmt.Errorf("stop output stream: %w", err)
	}
	return nil
}

func (d *PortAudioDevice) open(rate int) error {
	if d.stream != nil && d.rate == rate {
		return nil
	}
	if d.stream != nil {
		_ = d.stream.Close()
		d.stream = nil
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), d.framesPerBuffer, d.out)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	d.stream = stream
	d.rate = rate
	return nil
}

func (d *PortAudioDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		_ = d.stream.Close()
		d.stream = nil
	}
	return portaudio.Terminate()
}
