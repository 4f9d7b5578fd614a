package logs

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		if err != nil {
			t.Errorf("ParseLevel(%q) failed: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("unknown level should fail")
	}
}

func TestNewFansOutToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	var buf bytes.Buffer

	logger, closeLog, err := New(&buf, "info", path)
	if err != nil {
		t.Fatalf("new logger failed: %v", err)
	}

	logger.Info("gradient computed", "model", "decay")
	logger.Debug("step accepted")
	if err := closeLog(); err != nil {
		t.Fatalf("closing log file: %v", err)
	}

	if !strings.Contains(buf.String(), "gradient computed") {
		t.Error("stderr handler missed the info record")
	}
	if strings.Contains(buf.String(), "step accepted") {
		t.Error("stderr handler should filter debug records at info level")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"step accepted"`) {
		t.Error("file handler should record debug level")
	}
}
