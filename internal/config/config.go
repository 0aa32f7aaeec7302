// Package config loads service configuration from an optional YAML file and
// environment variables. Environment variables always win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	STT           STTConfig           `yaml:"stt"`
	Scoring       ScoringConfig       `yaml:"scoring"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	SessionLimits SessionLimitsConfig `yaml:"sessionLimits"`
	Control       ControlConfig       `yaml:"control"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
	Companion     CompanionConfig     `yaml:"companion"`
}

// ServiceConfig holds listener settings.
type ServiceConfig struct {
	Principal   string `yaml:"principal"`
	HTTPPort    string `yaml:"httpPort"`
	GRPCPort    string `yaml:"grpcPort"`
	MetricsPort string `yaml:"metricsPort"`
	// PublicHost overrides the request Host when building the media stream URL.
	PublicHost string `yaml:"publicHost"`
}

// STTConfig configures the streaming transcription engine.
type STTConfig struct {
	Provider        string `yaml:"provider"` // mock, google
	LanguageCode    string `yaml:"languageCode"`
	SampleRateHz    int    `yaml:"sampleRateHz"`
	InterimResults  bool   `yaml:"interimResults"`
	CredentialsFile string `yaml:"credentialsFile"`
}

// ScoringConfig configures the external fraud scoring service.
type ScoringConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// CallThreshold applies to live-call transcripts only.
	CallThreshold      float64 `yaml:"callThreshold"`
	MinTranscriptChars int     `yaml:"minTranscriptChars"`
	MaxInFlight        int64   `yaml:"maxInFlight"`
}

// WebhookConfig configures the call-flow document returned to the provider.
type WebhookConfig struct {
	Notice      string `yaml:"notice"`
	HoldSeconds int    `yaml:"holdSeconds"`
}

// SessionLimitsConfig bounds a single media session.
type SessionLimitsConfig struct {
	MaxAudioBytes int64         `yaml:"maxAudioBytes"`
	MaxDuration   time.Duration `yaml:"maxDuration"`
}

// ControlConfig tunes the media/control websocket.
type ControlConfig struct {
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	ReadLimit    int64         `yaml:"readLimit"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig configures the audit event publisher.
type KafkaConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Brokers    []string `yaml:"brokers"`
	TopicScore string   `yaml:"topicScore"`
	TopicAlert string   `yaml:"topicAlert"`
	Principal  string   `yaml:"principal"`
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// CompanionConfig configures the companion app runtime.
type CompanionConfig struct {
	RelayURL        string `yaml:"relayUrl"`
	AssistantNumber string `yaml:"assistantNumber"`
	// MessageThreshold applies to on-screen message text only.
	MessageThreshold float64       `yaml:"messageThreshold"`
	PromptInterval   time.Duration `yaml:"promptInterval"`
	AlertInterval    time.Duration `yaml:"alertInterval"`
}

// Defaults returns the built-in configuration.
func Defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal:   "svc-fraud-guard",
			HTTPPort:    "3000",
			GRPCPort:    "50051",
			MetricsPort: "9090",
		},
		STT: STTConfig{
			Provider:       "mock",
			LanguageCode:   "en-US",
			SampleRateHz:   8000,
			InterimResults: true,
		},
		Scoring: ScoringConfig{
			URL:                "http://python-server:5001/predict",
			Timeout:            5 * time.Second,
			CallThreshold:      0.8,
			MinTranscriptChars: 10,
			MaxInFlight:        64,
		},
		Webhook: WebhookConfig{
			Notice:      "Your call is now being protected.",
			HoldSeconds: 600,
		},
		SessionLimits: SessionLimitsConfig{
			MaxAudioBytes: 12 * 1024 * 1024, // ~13 minutes at 8kHz 16-bit mono
			MaxDuration:   11 * time.Minute,
		},
		Control: ControlConfig{
			WriteTimeout: 5 * time.Second,
			ReadLimit:    64 * 1024,
			IdleTimeout:  2 * time.Minute,
		},
		Kafka: KafkaConfig{
			TopicScore: "fraud.call.scored",
			TopicAlert: "fraud.call.alert",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Companion: CompanionConfig{
			RelayURL:         "ws://localhost:3000/",
			AssistantNumber:  "+12136934461",
			MessageThreshold: 0.40,
			PromptInterval:   3500 * time.Millisecond,
			AlertInterval:    4 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if any) and environment variables. An unreadable or invalid
// file is reported on stderr and ignored.
func Load() *Configuration {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "config: ignoring %s: %v\n", path, err)
		}
	}
	cfg.applyEnv()
	return cfg
}

// LoadFile builds the configuration from defaults and the given YAML file,
// then applies environment overrides.
func LoadFile(path string) (*Configuration, error) {
	cfg := Defaults()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Configuration) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Configuration) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)
	c.Service.MetricsPort = envOrDefault("METRICS_PORT", c.Service.MetricsPort)
	c.Service.PublicHost = envOrDefault("PUBLIC_HOST", c.Service.PublicHost)

	c.STT.Provider = envOrDefault("STT_PROVIDER", c.STT.Provider)
	c.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", c.STT.LanguageCode)
	c.STT.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", c.STT.SampleRateHz)
	c.STT.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", c.STT.InterimResults)
	c.STT.CredentialsFile = envOrDefault("GOOGLE_APPLICATION_CREDENTIALS", c.STT.CredentialsFile)

	c.Scoring.URL = envOrDefault("SCORING_URL", c.Scoring.URL)
	c.Scoring.Timeout = envOrDefaultDuration("SCORING_TIMEOUT", c.Scoring.Timeout)
	c.Scoring.CallThreshold = envOrDefaultScore("FRAUD_CALL_THRESHOLD", c.Scoring.CallThreshold)
	c.Scoring.MinTranscriptChars = envOrDefaultInt("SCORING_MIN_TRANSCRIPT_CHARS", c.Scoring.MinTranscriptChars)
	c.Scoring.MaxInFlight = envOrDefaultInt64("SCORING_MAX_IN_FLIGHT", c.Scoring.MaxInFlight)

	c.Webhook.Notice = envOrDefault("WEBHOOK_NOTICE", c.Webhook.Notice)
	c.Webhook.HoldSeconds = envOrDefaultInt("WEBHOOK_HOLD_SECONDS", c.Webhook.HoldSeconds)

	c.SessionLimits.MaxAudioBytes = envOrDefaultInt64("SESSION_MAX_AUDIO_BYTES", c.SessionLimits.MaxAudioBytes)
	c.SessionLimits.MaxDuration = envOrDefaultDuration("SESSION_MAX_DURATION", c.SessionLimits.MaxDuration)

	c.Control.WriteTimeout = envOrDefaultDuration("CONTROL_WRITE_TIMEOUT", c.Control.WriteTimeout)
	c.Control.ReadLimit = envOrDefaultInt64("CONTROL_READ_LIMIT", c.Control.ReadLimit)
	c.Control.IdleTimeout = envOrDefaultDuration("CONTROL_IDLE_TIMEOUT", c.Control.IdleTimeout)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}
	c.Kafka.TopicScore = envOrDefault("KAFKA_TOPIC_SCORE", c.Kafka.TopicScore)
	c.Kafka.TopicAlert = envOrDefault("KAFKA_TOPIC_ALERT", c.Kafka.TopicAlert)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)

	c.Companion.RelayURL = envOrDefault("COMPANION_RELAY_URL", c.Companion.RelayURL)
	c.Companion.AssistantNumber = envOrDefault("COMPANION_ASSISTANT_NUMBER", c.Companion.AssistantNumber)
	c.Companion.MessageThreshold = envOrDefaultScore("FRAUD_MESSAGE_THRESHOLD", c.Companion.MessageThreshold)
	c.Companion.PromptInterval = envOrDefaultDuration("COMPANION_PROMPT_INTERVAL", c.Companion.PromptInterval)
	c.Companion.AlertInterval = envOrDefaultDuration("COMPANION_ALERT_INTERVAL", c.Companion.AlertInterval)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// envOrDefaultScore accepts only thresholds in [0, 1]; 0 alerts on any
// positive score.
func envOrDefaultScore(key string, def float64) float64 {
	if f := envOrDefaultFloat(key, def); f >= 0 && f <= 1 {
		return f
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
