package tts

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

// mockEngine produces a short tone per request, one segment per call.
type mockEngine struct {
	sampleRate int
	tone       time.Duration
}

func NewMockEngine(sampleRate int) Engine {
	return &mockEngine{sampleRate: sampleRate, tone: 200 * time.Millisecond}
}

func (m *mockEngine) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(20 * time.Millisecond):
		}
		chunks <- SynthChunk{
			SampleRate: m.sampleRate,
			PCM:        sineTone(m.sampleRate, m.tone, 440),
			Final:      true,
		}
	}()
	return chunks, errs
}

func sineTone(sampleRate int, d time.Duration, freq float64) []byte {
	n := int(d.Seconds() * float64(sampleRate))
	pcm := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := 0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(v*math.MaxInt16)))
	}
	return pcm
}
