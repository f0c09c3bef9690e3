package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allEnvVars = []string{
	"CONFIG_FILE", "SERVICE_PRINCIPAL", "HTTP_PORT", "GRPC_PORT",
	"SEGMENT_WINDOW", "SEGMENT_BYTES_PER_SECOND", "SEGMENT_MIN_DURATION",
	"SEGMENT_FRAGMENT_QUEUE", "SEGMENT_CONTAINER_EXT",
	"STREAM_MAX_FRAGMENT_BYTES", "STREAM_MAX_SESSION_BYTES", "STREAM_MAX_DURATION", "STREAM_IDLE_TIMEOUT",
	"STT_PROVIDER", "INFERENCE_PERMITS", "INFERENCE_CALL_TIMEOUT", "FINALIZE_DRAIN_TIMEOUT",
	"WHISPER_CLI", "WHISPER_MODEL", "WHISPER_THREADS", "WHISPER_LANGUAGE",
	"STT_LANGUAGE_CODE", "STT_SAMPLE_RATE_HZ",
	"FFMPEG_PATH", "FFPROBE_PATH", "EXTRACT_SAMPLE_RATE", "EXTRACT_WORK_DIR",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC_PARTIAL", "KAFKA_TOPIC_FINAL",
	"KAFKA_TOPIC_ERROR", "KAFKA_PRINCIPAL",
	"ACCESS_TOKEN", "LOG_LEVEL", "LOG_FORMAT", "METRICS_ADDR",
}

func clearEnv() {
	for _, v := range allEnvVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg := Load()

	if cfg.Service.Principal != "svc-live-transcription" {
		t.Errorf("expected default principal 'svc-live-transcription', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8000" {
		t.Errorf("expected default http port '8000', got %s", cfg.Service.HTTPPort)
	}
	if cfg.Segment.Window != 60*time.Second {
		t.Errorf("expected default window 60s, got %v", cfg.Segment.Window)
	}
	if cfg.Segment.MinDuration != 100*time.Millisecond {
		t.Errorf("expected default min duration 100ms, got %v", cfg.Segment.MinDuration)
	}
	if cfg.Inference.Permits != 1 {
		t.Errorf("expected default permits 1, got %d", cfg.Inference.Permits)
	}
	if cfg.Inference.Provider != "mock" {
		t.Errorf("expected default provider 'mock', got %s", cfg.Inference.Provider)
	}
	if cfg.Whisper.Threads != 6 {
		t.Errorf("expected default whisper threads 6, got %d", cfg.Whisper.Threads)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected kafka disabled by default")
	}
	if cfg.Kafka.Principal != cfg.Service.Principal {
		t.Errorf("expected kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	t.Setenv("SEGMENT_WINDOW", "30s")
	t.Setenv("SEGMENT_BYTES_PER_SECOND", "32000")
	t.Setenv("INFERENCE_PERMITS", "2")
	t.Setenv("FINALIZE_DRAIN_TIMEOUT", "90s")
	t.Setenv("STT_PROVIDER", "whisper")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("ACCESS_TOKEN", "s3cret")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STREAM_MAX_DURATION", "2h")
	t.Setenv("STREAM_IDLE_TIMEOUT", "45s")

	cfg := Load()

	if cfg.Stream.MaxDuration != 2*time.Hour {
		t.Errorf("expected max stream duration 2h, got %v", cfg.Stream.MaxDuration)
	}
	if cfg.Stream.IdleTimeout != 45*time.Second {
		t.Errorf("expected idle timeout 45s, got %v", cfg.Stream.IdleTimeout)
	}

	if cfg.Segment.Window != 30*time.Second {
		t.Errorf("expected window 30s, got %v", cfg.Segment.Window)
	}
	if cfg.Segment.BytesPerSecond != 32000 {
		t.Errorf("expected 32000 bytes/s, got %d", cfg.Segment.BytesPerSecond)
	}
	if cfg.Inference.Permits != 2 {
		t.Errorf("expected permits 2, got %d", cfg.Inference.Permits)
	}
	if cfg.Inference.DrainTimeout != 90*time.Second {
		t.Errorf("expected drain timeout 90s, got %v", cfg.Inference.DrainTimeout)
	}
	if cfg.Inference.Provider != "whisper" {
		t.Errorf("expected provider 'whisper', got %s", cfg.Inference.Provider)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected kafka enabled")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Auth.AccessToken != "s3cret" {
		t.Errorf("expected access token to be set, got %q", cfg.Auth.AccessToken)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv()
	t.Setenv("SEGMENT_WINDOW", "sixty")
	t.Setenv("INFERENCE_PERMITS", "one")
	t.Setenv("KAFKA_ENABLED", "maybe")
	t.Setenv("WHISPER_THREADS", "many")

	cfg := Load()

	if cfg.Segment.Window != 60*time.Second {
		t.Errorf("expected default window on invalid input, got %v", cfg.Segment.Window)
	}
	if cfg.Inference.Permits != 1 {
		t.Errorf("expected default permits on invalid input, got %d", cfg.Inference.Permits)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected default kafka enabled=false on invalid input")
	}
	if cfg.Whisper.Threads != 6 {
		t.Errorf("expected default threads on invalid input, got %d", cfg.Whisper.Threads)
	}
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	clearEnv()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
segment:
  window: 45s
  bytes_per_second: 8000
inference:
  provider: google
  permits: 3
kafka:
  brokers: ["file-broker:9092"]
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("INFERENCE_PERMITS", "1")

	cfg := Load()

	if cfg.Segment.Window != 45*time.Second {
		t.Errorf("expected window from file 45s, got %v", cfg.Segment.Window)
	}
	if cfg.Segment.BytesPerSecond != 8000 {
		t.Errorf("expected bytes/s from file 8000, got %d", cfg.Segment.BytesPerSecond)
	}
	if cfg.Inference.Provider != "google" {
		t.Errorf("expected provider from file 'google', got %s", cfg.Inference.Provider)
	}
	if cfg.Inference.Permits != 1 {
		t.Errorf("expected env to override file permits, got %d", cfg.Inference.Permits)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "file-broker:9092" {
		t.Errorf("unexpected brokers from file: %v", cfg.Kafka.Brokers)
	}
	// Untouched sections keep their defaults.
	if cfg.Whisper.Language != "auto" {
		t.Errorf("expected default whisper language, got %s", cfg.Whisper.Language)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func TestEnvOrDefaultList(t *testing.T) {
	def := []string{"default:9092"}
	tests := []struct {
		name     string
		envValue string
		expected []string
	}{
		{"unset", "", def},
		{"single", "a:1", []string{"a:1"}},
		{"spaces and blanks", " a:1 , ,b:2 ", []string{"a:1", "b:2"}},
		{"only commas", ",,", def},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_LIST_VAR", tt.envValue)
			got := envOrDefaultList("TEST_LIST_VAR", def)
			if len(got) != len(tt.expected) {
				t.Fatalf("got %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("got %v, want %v", got, tt.expected)
				}
			}
		})
	}
}
