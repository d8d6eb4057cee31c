// Package tts turns reply text into playable audio.
package tts

import "context"

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	Text     string
	Voice    string
	Speed    float64
	Language string
}

// SynthChunk contains little-endian int16 mono PCM. A chunk with Final set
// closes the current segment; engines may emit several segments per request.
type SynthChunk struct {
	Sequence   int
	SampleRate int
	PCM        []byte
	Final      bool
}

// Engine is the contract for producing audio. Both channels are closed when
// synthesis ends; cancelling ctx stops the engine.
type Engine interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}
