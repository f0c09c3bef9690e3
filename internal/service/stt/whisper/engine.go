// Package whisper runs the whisper.cpp command line tool as a speech-to-text
// engine. One invocation transcribes one segment.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/service/extract"
)

// Config configures the whisper.cpp CLI engine.
type Config struct {
	CLIPath   string
	ModelPath string
	Threads   int
	Language  string
	WorkDir   string
}

// DefaultConfig returns the settings used by the reference deployment.
func DefaultConfig() Config {
	return Config{
		CLIPath:   "whisper-cli",
		ModelPath: "models/ggml-large-v3-q5_0.bin",
		Threads:   6,
		Language:  "auto",
	}
}

// Engine implements stt.Engine by shelling out to whisper-cli.
type Engine struct {
	cfg    Config
	runner extract.Runner
	logger zerolog.Logger
}

// New creates a whisper engine. The model file must exist. A nil runner
// uses extract.ExecRunner.
func New(cfg Config, runner extract.Runner) (*Engine, error) {
	def := DefaultConfig()
	if cfg.CLIPath == "" {
		cfg.CLIPath = def.CLIPath
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = def.ModelPath
	}
	if cfg.Threads <= 0 {
		cfg.Threads = def.Threads
	}
	cfg.Language = normaliseLanguage(cfg.Language)
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("whisper model %s: %w", cfg.ModelPath, err)
	}
	if runner == nil {
		runner = extract.ExecRunner{}
	}
	return &Engine{
		cfg:    cfg,
		runner: runner,
		logger: logging.WithComponent("whisper"),
	}, nil
}

// Name implements stt.Engine.
func (e *Engine) Name() string { return "whisper" }

// Transcribe writes the waveform to a temporary file, runs whisper-cli with
// text output and returns the contents of the produced transcript file.
func (e *Engine) Transcribe(ctx context.Context, wf extract.Waveform) (string, error) {
	if len(wf.Data) == 0 {
		return "", errors.New("whisper: empty waveform")
	}

	dir, err := os.MkdirTemp(e.cfg.WorkDir, "whisper-*")
	if err != nil {
		return "", fmt.Errorf("whisper: create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	wavPath := filepath.Join(dir, "segment.wav")
	if err := os.WriteFile(wavPath, wf.Data, 0o600); err != nil {
		return "", fmt.Errorf("whisper: write waveform: %w", err)
	}
	prefix := filepath.Join(dir, "transcript")

	_, stderr, err := e.runner.Run(ctx, e.cfg.CLIPath, e.args(wavPath, prefix)...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("whisper-cli: %w: %s", err, strings.TrimSpace(string(stderr)))
	}

	text, err := readTranscript(prefix)
	if err != nil {
		return "", err
	}
	e.logger.Debug().
		Dur("audio", wf.Duration).
		Int("chars", len(text)).
		Msg("Whisper transcription complete")
	return text, nil
}

func (e *Engine) args(wavPath, prefix string) []string {
	return []string{
		"-m", e.cfg.ModelPath,
		"-f", wavPath,
		"-otxt",
		"-of", prefix,
		"-t", strconv.Itoa(e.cfg.Threads),
		"-l", e.cfg.Language,
	}
}

// readTranscript reads prefix.txt. Some builds write to the prefix itself.
func readTranscript(prefix string) (string, error) {
	for _, p := range []string{prefix + ".txt", prefix} {
		b, err := os.ReadFile(p)
		if err == nil {
			return strings.TrimSpace(string(b)), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("whisper: read transcript: %w", err)
		}
	}
	return "", errors.New("whisper: transcript file not produced")
}

func normaliseLanguage(lang string) string {
	if trimmed := strings.TrimSpace(lang); trimmed != "" {
		return trimmed
	}
	return "auto"
}
