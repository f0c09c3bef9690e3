package whisper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"live-transcription-service/internal/service/extract"
	"live-transcription-service/internal/service/stt"
)

var _ stt.Engine = (*Engine)(nil)

// fakeCLI writes output to the -of prefix the way whisper-cli does.
type fakeCLI struct {
	text    string
	bare    bool // write to the prefix without .txt
	err     error
	gotArgs []string
	sawWAV  bool
}

func (f *fakeCLI) Run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	f.gotArgs = args
	if f.err != nil {
		return nil, []byte("failed to load model"), f.err
	}
	if _, err := os.Stat(argAfter(args, "-f")); err == nil {
		f.sawWAV = true
	}
	out := argAfter(args, "-of")
	if !f.bare {
		out += ".txt"
	}
	return nil, nil, os.WriteFile(out, []byte(f.text), 0o600)
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func newTestEngine(t *testing.T, r extract.Runner) *Engine {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "model.bin")
	if err := os.WriteFile(model, []byte("ggml"), 0o600); err != nil {
		t.Fatal(err)
	}
	e, err := New(Config{ModelPath: model, WorkDir: dir}, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func testWaveform() extract.Waveform {
	return extract.Waveform{Data: extract.Silence(time.Second, 16000), SampleRate: 16000, Duration: time.Second}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Threads != 6 {
		t.Errorf("expected 6 threads, got %d", cfg.Threads)
	}
	if cfg.Language != "auto" {
		t.Errorf("expected language auto, got %s", cfg.Language)
	}
	if cfg.CLIPath != "whisper-cli" {
		t.Errorf("expected whisper-cli, got %s", cfg.CLIPath)
	}
}

func TestNew_MissingModel(t *testing.T) {
	_, err := New(Config{ModelPath: filepath.Join(t.TempDir(), "missing.bin")}, nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestEngine_Transcribe(t *testing.T) {
	cli := &fakeCLI{text: "  hello from whisper \n"}
	e := newTestEngine(t, cli)

	got, err := e.Transcribe(context.Background(), testWaveform())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello from whisper" {
		t.Errorf("unexpected text %q", got)
	}
	if !cli.sawWAV {
		t.Error("waveform was not written before running the CLI")
	}

	tests := []struct{ flag, want string }{
		{"-t", "6"},
		{"-l", "auto"},
		{"-m", e.cfg.ModelPath},
	}
	for _, tt := range tests {
		if got := argAfter(cli.gotArgs, tt.flag); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.flag, tt.want, got)
		}
	}

	entries, _ := filepath.Glob(filepath.Join(e.cfg.WorkDir, "whisper-*"))
	if len(entries) != 0 {
		t.Errorf("work dir not cleaned up: %v", entries)
	}
}

func TestEngine_TranscriptWithoutExtension(t *testing.T) {
	e := newTestEngine(t, &fakeCLI{text: "bare output", bare: true})
	got, err := e.Transcribe(context.Background(), testWaveform())
	if err != nil || got != "bare output" {
		t.Errorf("expected fallback read, got %q, %v", got, err)
	}
}

func TestEngine_Errors(t *testing.T) {
	tests := []struct {
		name string
		cli  *fakeCLI
		wf   extract.Waveform
	}{
		{"cli failure", &fakeCLI{err: errors.New("exit status 3")}, testWaveform()},
		{"empty waveform", &fakeCLI{}, extract.Waveform{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, tt.cli)
			if _, err := e.Transcribe(context.Background(), tt.wf); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNormaliseLanguage(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "auto"},
		{"  ", "auto"},
		{"en", "en"},
		{" de ", "de"},
	}
	for _, tt := range tests {
		if got := normaliseLanguage(tt.in); got != tt.want {
			t.Errorf("normaliseLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
