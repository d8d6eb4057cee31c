package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/loqalabs/loqa-vtuber/internal/audio"
	"github.com/loqalabs/loqa-vtuber/internal/config"
	"github.com/loqalabs/loqa-vtuber/internal/tracking"
)

const phaseTTS = "TTS"

var errNoAudio = errors.New("engine produced no audio")

// Synthesizer produces the audio for one reply. Only the first segment of the
// engine output is kept; the rest of the stream is cancelled.
type Synthesizer struct {
	engine     Engine
	voice      string
	speed      float64
	language   string
	sampleRate int
	timeout    time.Duration
	notifier   tracking.Notifier
}

func NewSynthesizer(engine Engine, cfg config.TTSConfig, notifier tracking.Notifier) *Synthesizer {
	if notifier == nil {
		notifier = tracking.Discard{}
	}
	return &Synthesizer{
		engine:     engine,
		voice:      cfg.Voice,
		speed:      cfg.Speed,
		language:   cfg.Language,
		sampleRate: cfg.SampleRate,
		timeout:    cfg.Timeout(),
		notifier:   notifier,
	}
}

// Synthesize returns the first audio segment for text. Failures are reported
// through the notifier and yield false.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (audio.Buffer, bool) {
	s.notifier.Workflow(phaseTTS, "Converting text to speech: "+preview(text, 50)+"...")

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	// Cancelling stops the engine once the first segment is in hand.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	buf, err := s.firstSegment(ctx, SynthRequest{
		Text:     text,
		Voice:    s.voice,
		Speed:    s.speed,
		Language: s.language,
	})
	if err != nil {
		s.notifier.Error(fmt.Sprintf("TTS error: %v", err))
		return audio.Buffer{}, false
	}
	return buf, true
}

func (s *Synthesizer) firstSegment(ctx context.Context, req SynthRequest) (audio.Buffer, error) {
	chunks, errs := s.engine.Synthesize(ctx, req)

	var pcm []byte
	rate := s.sampleRate
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if chunk.SampleRate > 0 {
				rate = chunk.SampleRate
			}
			pcm = append(pcm, chunk.PCM...)
			if chunk.Final {
				return decodePCM(pcm, rate)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return audio.Buffer{}, err
			}
		case <-ctx.Done():
			return audio.Buffer{}, ctx.Err()
		}
	}
	return decodePCM(pcm, rate)
}

// decodePCM converts little-endian int16 samples to float32 in [-1, 1).
func decodePCM(pcm []byte, rate int) (audio.Buffer, error) {
	n := len(pcm) / 2
	if n == 0 {
		return audio.Buffer{}, errNoAudio
	}
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		samples[i] = float32(v) / (math.MaxInt16 + 1)
	}
	return audio.Buffer{Samples: samples, SampleRate: rate}, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
