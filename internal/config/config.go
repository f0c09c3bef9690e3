// Package config loads service configuration from an optional YAML file
// and environment variables. Environment variables always win; values that
// fail to parse fall back to the file value or the built-in default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration is the complete service configuration.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	Segment       SegmentConfig       `yaml:"segment"`
	Stream        StreamConfig        `yaml:"stream"`
	Inference     InferenceConfig     `yaml:"inference"`
	Whisper       WhisperConfig       `yaml:"whisper"`
	Google        GoogleConfig        `yaml:"google"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Principal string `yaml:"principal"`
	HTTPPort  string `yaml:"http_port"`
	GRPCPort  string `yaml:"grpc_port"`
}

// SegmentConfig controls how fragments are grouped into segments.
type SegmentConfig struct {
	Window         time.Duration `yaml:"window"`
	BytesPerSecond int64         `yaml:"bytes_per_second"`
	MinDuration    time.Duration `yaml:"min_duration"`
	FragmentQueue  int           `yaml:"fragment_queue"`
	ContainerExt   string        `yaml:"container_ext"`
}

// StreamConfig bounds what a single client connection may send.
// Zero disables a limit.
type StreamConfig struct {
	MaxFragmentBytes int           `yaml:"max_fragment_bytes"`
	MaxSessionBytes  int64         `yaml:"max_session_bytes"`
	MaxDuration      time.Duration `yaml:"max_duration"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"` // no frame or pong for this long drops the client
}

// InferenceConfig controls the speech-to-text engine and its admission gate.
type InferenceConfig struct {
	Provider     string        `yaml:"provider"` // mock, whisper, google
	Permits      int64         `yaml:"permits"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// WhisperConfig configures the local whisper.cpp CLI engine.
type WhisperConfig struct {
	CLIPath   string `yaml:"cli_path"`
	ModelPath string `yaml:"model_path"`
	Threads   int    `yaml:"threads"`
	Language  string `yaml:"language"`
}

// GoogleConfig configures the Google Cloud Speech-to-Text engine.
type GoogleConfig struct {
	LanguageCode string `yaml:"language_code"`
	SampleRateHz int32  `yaml:"sample_rate_hz"`
}

// ExtractionConfig configures ffmpeg/ffprobe based extraction.
type ExtractionConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	SampleRate  int    `yaml:"sample_rate"`
	WorkDir     string `yaml:"work_dir"`
}

// KafkaConfig configures the downstream event publisher.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	TopicPartial string   `yaml:"topic_partial"`
	TopicFinal   string   `yaml:"topic_final"`
	TopicError   string   `yaml:"topic_error"`
	Principal    string   `yaml:"principal"`
}

// AuthConfig holds the optional static access token for the WebSocket.
type AuthConfig struct {
	AccessToken string `yaml:"access_token"`
}

// ObservabilityConfig configures logging and the metrics listener.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns the built-in configuration.
func Defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal: "svc-live-transcription",
			HTTPPort:  "8000",
			GRPCPort:  "50051",
		},
		Segment: SegmentConfig{
			Window:         60 * time.Second,
			BytesPerSecond: 16000, // ~128 kbit/s browser opus
			MinDuration:    100 * time.Millisecond,
			FragmentQueue:  64,
			ContainerExt:   ".webm",
		},
		Stream: StreamConfig{
			MaxFragmentBytes: 4 << 20,
			MaxSessionBytes:  2 << 30,
			MaxDuration:      6 * time.Hour,
			IdleTimeout:      time.Minute,
		},
		Inference: InferenceConfig{
			Provider:     "mock",
			Permits:      1,
			CallTimeout:  10 * time.Minute,
			DrainTimeout: 15 * time.Minute,
		},
		Whisper: WhisperConfig{
			CLIPath:   "whisper-cli",
			ModelPath: "models/ggml-large-v3-q5_0.bin",
			Threads:   6,
			Language:  "auto",
		},
		Google: GoogleConfig{
			LanguageCode: "en-US",
			SampleRateHz: 16000,
		},
		Extraction: ExtractionConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			SampleRate:  16000,
			WorkDir:     os.TempDir(),
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			TopicPartial: "transcript.partial",
			TopicFinal:   "transcript.final",
			TopicError:   "session.error",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsAddr: ":9090",
		},
	}
}

// Load builds the configuration. If CONFIG_FILE names a readable YAML file
// it is applied over the defaults first; a broken file is reported on
// stderr and ignored so the service still starts from the environment.
func Load() *Configuration {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "config: ignoring %s: %v\n", path, err)
		}
	}
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file over the defaults without consulting the environment.
func LoadFile(path string) (*Configuration, error) {
	cfg := Defaults()
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Configuration) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Configuration) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)

	c.Segment.Window = envOrDefaultDuration("SEGMENT_WINDOW", c.Segment.Window)
	c.Segment.BytesPerSecond = envOrDefaultInt64("SEGMENT_BYTES_PER_SECOND", c.Segment.BytesPerSecond)
	c.Segment.MinDuration = envOrDefaultDuration("SEGMENT_MIN_DURATION", c.Segment.MinDuration)
	c.Segment.FragmentQueue = envOrDefaultInt("SEGMENT_FRAGMENT_QUEUE", c.Segment.FragmentQueue)
	c.Segment.ContainerExt = envOrDefault("SEGMENT_CONTAINER_EXT", c.Segment.ContainerExt)

	c.Stream.MaxFragmentBytes = envOrDefaultInt("STREAM_MAX_FRAGMENT_BYTES", c.Stream.MaxFragmentBytes)
	c.Stream.MaxSessionBytes = envOrDefaultInt64("STREAM_MAX_SESSION_BYTES", c.Stream.MaxSessionBytes)
	c.Stream.MaxDuration = envOrDefaultDuration("STREAM_MAX_DURATION", c.Stream.MaxDuration)
	c.Stream.IdleTimeout = envOrDefaultDuration("STREAM_IDLE_TIMEOUT", c.Stream.IdleTimeout)

	c.Inference.Provider = envOrDefault("STT_PROVIDER", c.Inference.Provider)
	c.Inference.Permits = envOrDefaultInt64("INFERENCE_PERMITS", c.Inference.Permits)
	c.Inference.CallTimeout = envOrDefaultDuration("INFERENCE_CALL_TIMEOUT", c.Inference.CallTimeout)
	c.Inference.DrainTimeout = envOrDefaultDuration("FINALIZE_DRAIN_TIMEOUT", c.Inference.DrainTimeout)

	c.Whisper.CLIPath = envOrDefault("WHISPER_CLI", c.Whisper.CLIPath)
	c.Whisper.ModelPath = envOrDefault("WHISPER_MODEL", c.Whisper.ModelPath)
	c.Whisper.Threads = envOrDefaultInt("WHISPER_THREADS", c.Whisper.Threads)
	c.Whisper.Language = envOrDefault("WHISPER_LANGUAGE", c.Whisper.Language)

	c.Google.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", c.Google.LanguageCode)
	c.Google.SampleRateHz = int32(envOrDefaultInt("STT_SAMPLE_RATE_HZ", int(c.Google.SampleRateHz)))

	c.Extraction.FFmpegPath = envOrDefault("FFMPEG_PATH", c.Extraction.FFmpegPath)
	c.Extraction.FFprobePath = envOrDefault("FFPROBE_PATH", c.Extraction.FFprobePath)
	c.Extraction.SampleRate = envOrDefaultInt("EXTRACT_SAMPLE_RATE", c.Extraction.SampleRate)
	c.Extraction.WorkDir = envOrDefault("EXTRACT_WORK_DIR", c.Extraction.WorkDir)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.TopicPartial = envOrDefault("KAFKA_TOPIC_PARTIAL", c.Kafka.TopicPartial)
	c.Kafka.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", c.Kafka.TopicFinal)
	c.Kafka.TopicError = envOrDefault("KAFKA_TOPIC_ERROR", c.Kafka.TopicError)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Auth.AccessToken = envOrDefault("ACCESS_TOKEN", c.Auth.AccessToken)

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsAddr = envOrDefault("METRICS_ADDR", c.Observability.MetricsAddr)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
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

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
