package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Chat        ChatConfig       `yaml:"chat"`
	LLM         LLMConfig        `yaml:"llm"`
	Character   CharacterConfig  `yaml:"character"`
	TTS         TTSConfig        `yaml:"tts"`
	Audio       AudioConfig      `yaml:"audio"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Cache       CacheConfig      `yaml:"cache"`
	Subtitle    SubtitleConfig   `yaml:"subtitle"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ChatConfig struct {
	Subject     string `yaml:"subject"`
	QueueSize   int    `yaml:"queue_size"`
	PushTimeout int    `yaml:"push_timeout_ms"`
}

func (c ChatConfig) PushTimeoutDuration() time.Duration {
	return time.Duration(c.PushTimeout) * time.Millisecond
}

type LLMConfig struct {
	Mode              string  `yaml:"mode"` // mock, openai, exec
	Endpoint          string  `yaml:"endpoint"`
	APIKey            string  `yaml:"api_key"`
	Command           string  `yaml:"command"`
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	MaxResponseLength int     `yaml:"max_response_length"`
	MaxAttempts       int     `yaml:"max_attempts"`
	AttemptTimeoutMS  int     `yaml:"attempt_timeout_ms"`
	BackoffMS         int     `yaml:"backoff_ms"`
}

// AttemptTimeout is the timeout step; attempt i runs with i times this value.
func (c LLMConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutMS) * time.Millisecond
}

// Backoff is the sleep step applied after a timed-out attempt.
func (c LLMConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMS) * time.Millisecond
}

type Trait struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type Guideline struct {
	Situation   string `yaml:"situation"`
	Description string `yaml:"description"`
	Example     string `yaml:"example"`
}

type CharacterConfig struct {
	Name         string      `yaml:"name"`
	SystemPrompt string      `yaml:"system_prompt"`
	Traits       []Trait     `yaml:"traits"`
	Guidelines   []Guideline `yaml:"guidelines"`
}

type TTSConfig struct {
	Mode       string  `yaml:"mode"` // mock, exec
	Command    string  `yaml:"command"`
	Voice      string  `yaml:"voice"`
	Speed      float64 `yaml:"speed"`
	Language   string  `yaml:"language"`
	SampleRate int     `yaml:"sample_rate"`
	TimeoutMS  int     `yaml:"timeout_ms"`
}

// Timeout bounds one synthesis call.
func (c TTSConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type AudioConfig struct {
	Device          string `yaml:"device"` // portaudio, null
	QueueSize       int    `yaml:"queue_size"`
	JoinTimeoutMS   int    `yaml:"join_timeout_ms"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
}

func (c AudioConfig) JoinTimeout() time.Duration {
	return time.Duration(c.JoinTimeoutMS) * time.Millisecond
}

type PipelineConfig struct {
	RateLimitDelayMS int `yaml:"rate_limit_delay_ms"`
	IdlePollMS       int `yaml:"idle_poll_ms"`
	DrainTimeoutMS   int `yaml:"drain_timeout_ms"`
}

func (c PipelineConfig) RateLimitDelay() time.Duration {
	return time.Duration(c.RateLimitDelayMS) * time.Millisecond
}

func (c PipelineConfig) IdlePoll() time.Duration {
	return time.Duration(c.IdlePollMS) * time.Millisecond
}

func (c PipelineConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMS) * time.Millisecond
}

type CacheConfig struct {
	Size                int     `yaml:"size"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

type SubtitleConfig struct {
	Path    string `yaml:"path"`
	Subject string `yaml:"subject"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-vtuber",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/vtuber-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Chat: ChatConfig{
			Subject:     "vtuber.chat.message",
			QueueSize:   256,
			PushTimeout: 5000,
		},
		LLM: LLMConfig{
			Mode:              "mock",
			Endpoint:          "https://api.deepseek.com/v1",
			Model:             "deepseek-chat",
			Temperature:       0.7,
			MaxTokens:         100,
			MaxResponseLength: 200,
			MaxAttempts:       3,
			AttemptTimeoutMS:  15000,
			BackoffMS:         1000,
		},
		Character: CharacterConfig{
			Name:         "Corelia",
			SystemPrompt: "You are Corelia, a witty virtual streamer chatting with your live audience.",
			Traits: []Trait{
				{Name: "playful", Description: "teases viewers gently and keeps the mood light"},
				{Name: "curious", Description: "asks short follow-up questions about what viewers share"},
			},
			Guidelines: []Guideline{
				{
					Situation:   "greetings",
					Description: "welcome the viewer by name and keep it brief",
					Example:     "Hey there, welcome in! Grab a seat.",
				},
				{
					Situation:   "off-topic requests",
					Description: "deflect with humor and steer back to the stream",
					Example:     "Ooh, tempting, but let's keep the chaos on stream tonight.",
				},
			},
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Voice:      "af_heart",
			Speed:      1.0,
			Language:   "a",
			SampleRate: 24000,
			TimeoutMS:  30000,
		},
		Audio: AudioConfig{
			Device:          "null",
			QueueSize:       10,
			JoinTimeoutMS:   1000,
			FramesPerBuffer: 1024,
		},
		Pipeline: PipelineConfig{
			RateLimitDelayMS: 1000,
			IdlePollMS:       100,
			DrainTimeoutMS:   5000,
		},
		Cache: CacheConfig{
			Size:                100,
			SimilarityThreshold: 0.8,
		},
		Subtitle: SubtitleConfig{
			Path:    "./output.txt",
			Subject: "vtuber.subtitle",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VTUBER_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VTUBER_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VTUBER_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VTUBER_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VTUBER_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VTUBER_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VTUBER_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "VTUBER_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VTUBER_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VTUBER_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VTUBER_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VTUBER_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VTUBER_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VTUBER_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VTUBER_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VTUBER_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "VTUBER_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VTUBER_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VTUBER_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "VTUBER_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VTUBER_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Chat.Subject, "VTUBER_CHAT_SUBJECT")
	overrideInt(&cfg.Chat.QueueSize, "VTUBER_CHAT_QUEUE_SIZE")
	overrideInt(&cfg.Chat.PushTimeout, "VTUBER_CHAT_PUSH_TIMEOUT_MS")
	overrideString(&cfg.LLM.Mode, "VTUBER_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "VTUBER_LLM_ENDPOINT")
	overrideString(&cfg.LLM.APIKey, "VTUBER_LLM_API_KEY")
	overrideString(&cfg.LLM.Command, "VTUBER_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "VTUBER_LLM_MODEL")
	overrideFloat(&cfg.LLM.Temperature, "VTUBER_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.MaxTokens, "VTUBER_LLM_MAX_TOKENS")
	overrideInt(&cfg.LLM.MaxResponseLength, "VTUBER_LLM_MAX_RESPONSE_LENGTH")
	overrideInt(&cfg.LLM.MaxAttempts, "VTUBER_LLM_MAX_ATTEMPTS")
	overrideInt(&cfg.LLM.AttemptTimeoutMS, "VTUBER_LLM_ATTEMPT_TIMEOUT_MS")
	overrideInt(&cfg.LLM.BackoffMS, "VTUBER_LLM_BACKOFF_MS")
	overrideString(&cfg.TTS.Mode, "VTUBER_TTS_MODE")
	overrideString(&cfg.TTS.Command, "VTUBER_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "VTUBER_TTS_VOICE")
	overrideFloat(&cfg.TTS.Speed, "VTUBER_TTS_SPEED")
	overrideString(&cfg.TTS.Language, "VTUBER_TTS_LANGUAGE")
	overrideInt(&cfg.TTS.SampleRate, "VTUBER_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.TimeoutMS, "VTUBER_TTS_TIMEOUT_MS")
	overrideString(&cfg.Audio.Device, "VTUBER_AUDIO_DEVICE")
	overrideInt(&cfg.Audio.QueueSize, "VTUBER_AUDIO_QUEUE_SIZE")
	overrideInt(&cfg.Audio.JoinTimeoutMS, "VTUBER_AUDIO_JOIN_TIMEOUT_MS")
	overrideInt(&cfg.Audio.FramesPerBuffer, "VTUBER_AUDIO_FRAMES_PER_BUFFER")
	overrideInt(&cfg.Pipeline.RateLimitDelayMS, "VTUBER_PIPELINE_RATE_LIMIT_DELAY_MS")
	overrideInt(&cfg.Pipeline.IdlePollMS, "VTUBER_PIPELINE_IDLE_POLL_MS")
	overrideInt(&cfg.Pipeline.DrainTimeoutMS, "VTUBER_PIPELINE_DRAIN_TIMEOUT_MS")
	overrideInt(&cfg.Cache.Size, "VTUBER_CACHE_SIZE")
	overrideFloat(&cfg.Cache.SimilarityThreshold, "VTUBER_CACHE_SIMILARITY_THRESHOLD")
	overrideString(&cfg.Subtitle.Path, "VTUBER_SUBTITLE_PATH")
	overrideString(&cfg.Subtitle.Subject, "VTUBER_SUBTITLE_SUBJECT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Chat.Subject == "" {
			return errors.New("chat.subject must not be empty when the bus is enabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Chat.QueueSize <= 0 {
		return errors.New("chat.queue_size must be >= 1")
	}
	switch cfg.LLM.Mode {
	case "mock", "openai", "exec":
	default:
		return errors.New("llm.mode must be one of mock|openai|exec")
	}
	if cfg.LLM.Mode == "openai" {
		if cfg.LLM.APIKey == "" {
			return errors.New("llm.api_key must be set when mode=openai")
		}
		if cfg.LLM.Model == "" {
			return errors.New("llm.model must be set when mode=openai")
		}
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.LLM.MaxResponseLength <= 0 {
		return errors.New("llm.max_response_length must be positive")
	}
	if cfg.LLM.MaxAttempts <= 0 {
		return errors.New("llm.max_attempts must be >= 1")
	}
	if cfg.LLM.AttemptTimeoutMS <= 0 {
		return errors.New("llm.attempt_timeout_ms must be positive")
	}
	if cfg.LLM.BackoffMS < 0 {
		return errors.New("llm.backoff_ms must be >= 0")
	}
	if strings.TrimSpace(cfg.Character.SystemPrompt) == "" {
		return errors.New("character.system_prompt must not be empty")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Speed <= 0 {
		return errors.New("tts.speed must be positive")
	}
	switch cfg.Audio.Device {
	case "portaudio", "null":
	default:
		return errors.New("audio.device must be one of portaudio|null")
	}
	if cfg.Audio.QueueSize <= 0 {
		return errors.New("audio.queue_size must be >= 1")
	}
	if cfg.Audio.JoinTimeoutMS <= 0 {
		return errors.New("audio.join_timeout_ms must be positive")
	}
	if cfg.Pipeline.RateLimitDelayMS < 0 {
		return errors.New("pipeline.rate_limit_delay_ms must be >= 0")
	}
	if cfg.Pipeline.IdlePollMS <= 0 {
		return errors.New("pipeline.idle_poll_ms must be positive")
	}
	if cfg.Cache.Size <= 0 {
		return errors.New("cache.size must be >= 1")
	}
	if cfg.Cache.SimilarityThreshold < 0 || cfg.Cache.SimilarityThreshold > 1 {
		return errors.New("cache.similarity_threshold must be between 0 and 1")
	}
	if cfg.Subtitle.Path == "" {
		return errors.New("subtitle.path must not be empty")
	}
	return nil
}
