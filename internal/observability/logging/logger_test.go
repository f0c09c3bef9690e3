package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("line is not JSON: %q", line)
		}
		out = append(out, m)
	}
	return out
}

func TestInit_LevelAndService(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	Init(Config{Level: "WARN", Service: "svc-test", Output: &buf})

	component := WithComponent("test")
	component.Info().Msg("hidden")
	segment := WithSegment("sess-1", 2)
	segment.Warn().Msg("shown")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line at warn level, got %d", len(lines))
	}
	got := lines[0]
	if got["service"] != "svc-test" || got["sessionId"] != "sess-1" || got["segmentIndex"] != float64(2) {
		t.Errorf("unexpected fields %v", got)
	}
}

func TestInit_InvalidLevelFallsBackToInfo(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	Init(Config{Level: "chatty", Output: &buf})

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("expected info level, got %s", zerolog.GlobalLevel())
	}
	engine := WithEngine("sess-1", 0, "mock")
	engine.Info().Msg("ok")
	if lines := decodeLines(t, &buf); len(lines) != 1 || lines[0]["sttEngine"] != "mock" {
		t.Errorf("unexpected output %v", lines)
	}
}
