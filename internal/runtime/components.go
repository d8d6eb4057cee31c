package runtime

import (
	"fmt"
	"net/http"

	"github.com/loqalabs/loqa-vtuber/internal/audio"
	"github.com/loqalabs/loqa-vtuber/internal/config"
	"github.com/loqalabs/loqa-vtuber/internal/llm"
	"github.com/loqalabs/loqa-vtuber/internal/tts"
)

func newCompleter(cfg config.LLMConfig) (llm.Completer, error) {
	switch cfg.Mode {
	case "", "mock":
		return llm.NewMockCompleter(), nil
	case "openai":
		return llm.NewOpenAICompleter(cfg.Endpoint, cfg.APIKey, http.DefaultClient), nil
	case "exec":
		completer, err := llm.NewExecCompleter(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("init exec llm: %w", err)
		}
		return completer, nil
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}

func newEngine(cfg config.TTSConfig) (tts.Engine, error) {
	switch cfg.Mode {
	case "", "mock":
		return tts.NewMockEngine(cfg.SampleRate), nil
	case "exec":
		engine, err := tts.NewExecEngine(cfg.Command, cfg.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("init exec tts: %w", err)
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

func newDevice(cfg config.AudioConfig) (audio.Device, error) {
	switch cfg.Device {
	case "", "null":
		return audio.NullDevice{}, nil
	case "portaudio":
		device, err := audio.NewPortAudioDevice(cfg.FramesPerBuffer)
		if err != nil {
			return nil, fmt.Errorf("init audio device: %w", err)
		}
		return device, nil
	default:
		return nil, fmt.Errorf("unknown audio device %q", cfg.Device)
	}
}
