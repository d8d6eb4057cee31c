package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Cache.Size != 100 || cfg.Cache.SimilarityThreshold != 0.8 {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Pipeline.RateLimitDelay() != time.Second {
		t.Fatalf("expected 1s rate limit delay, got %s", cfg.Pipeline.RateLimitDelay())
	}
	if cfg.LLM.AttemptTimeout() != 15*time.Second || cfg.LLM.Backoff() != time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.LLM)
	}
	if cfg.Audio.QueueSize != 10 {
		t.Fatalf("expected audio queue size 10, got %d", cfg.Audio.QueueSize)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vtuber.yaml")
	data := []byte(`
llm:
  mode: openai
  api_key: sk-test
  model: deepseek-chat
  max_response_length: 40
character:
  system_prompt: "You are Nova."
  traits:
    - name: sarcastic
      description: dry humor
  guidelines:
    - situation: questions
      description: answer briefly
      example: "Sure thing."
cache:
  size: 5
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Mode != "openai" || cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("expected llm overrides from file, got %+v", cfg.LLM)
	}
	if cfg.LLM.MaxResponseLength != 40 {
		t.Fatalf("expected max_response_length 40, got %d", cfg.LLM.MaxResponseLength)
	}
	if len(cfg.Character.Traits) != 1 || cfg.Character.Traits[0].Name != "sarcastic" {
		t.Fatalf("expected traits replaced from file, got %+v", cfg.Character.Traits)
	}
	if len(cfg.Character.Guidelines) != 1 || cfg.Character.Guidelines[0].Example != "Sure thing." {
		t.Fatalf("expected guidelines from file, got %+v", cfg.Character.Guidelines)
	}
	if cfg.Cache.Size != 5 {
		t.Fatalf("expected cache size 5, got %d", cfg.Cache.Size)
	}
	if cfg.TTS.SampleRate != 24000 {
		t.Fatalf("expected default sample rate to survive partial file, got %d", cfg.TTS.SampleRate)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VTUBER_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VTUBER_BUS_USERNAME", "alice")
	t.Setenv("VTUBER_BUS_PASSWORD", "secret")
	t.Setenv("VTUBER_BUS_TLS_INSECURE", "true")
	t.Setenv("VTUBER_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("VTUBER_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("VTUBER_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("VTUBER_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("VTUBER_LLM_TEMPERATURE", "0.3")
	t.Setenv("VTUBER_TTS_SPEED", "1.25")
	t.Setenv("VTUBER_PIPELINE_RATE_LIMIT_DELAY_MS", "250")
	t.Setenv("VTUBER_CACHE_SIMILARITY_THRESHOLD", "0.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.LLM.Temperature != 0.3 {
		t.Fatalf("expected temperature override, got %v", cfg.LLM.Temperature)
	}
	if cfg.TTS.Speed != 1.25 {
		t.Fatalf("expected speed override, got %v", cfg.TTS.Speed)
	}
	if cfg.Pipeline.RateLimitDelay() != 250*time.Millisecond {
		t.Fatalf("expected rate limit override, got %s", cfg.Pipeline.RateLimitDelay())
	}
	if cfg.Cache.SimilarityThreshold != 0.5 {
		t.Fatalf("expected threshold override, got %v", cfg.Cache.SimilarityThreshold)
	}
}

func TestValidateRejectsOpenAIWithoutKey(t *testing.T) {
	t.Setenv("VTUBER_LLM_MODE", "openai")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when api key missing")
	}
}

func TestValidateRejectsUnknownDevice(t *testing.T) {
	t.Setenv("VTUBER_AUDIO_DEVICE", "alsa")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown audio device")
	}
}
