// Package audio plays synthesized speech through a single-consumer queue.
package audio

import "time"

// Buffer is mono float32 PCM. It is not modified after synthesis; once
// enqueued the sink owns it.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration is the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

func (b Buffer) Empty() bool { return len(b.Samples) == 0 }
