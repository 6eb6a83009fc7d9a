package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/kidoz/vmsmoke/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"info", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseLevel(tt.in); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_VerboseEnablesDebug(t *testing.T) {
	log, err := New(config.LogConfig{Level: "error"}, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("verbose logger should enable debug level")
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vmsmoke.log")
	log, err := New(config.LogConfig{Level: "info", Path: path, MaxSize: 1}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Info("Smoke test completed")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "Smoke test completed") {
		t.Errorf("log file = %q, want message", string(data))
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("info logger should not enable debug level")
	}
}

func TestNew_ConsoleWritesToStderr(t *testing.T) {
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout, stderr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = outW, errW
	defer func() { os.Stdout, os.Stderr = stdout, stderr }()

	log, err := New(config.LogConfig{Level: "info"}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Warn("No instance ID given")
	_ = log.Sync()
	_ = outW.Close()
	_ = errW.Close()

	gotOut, _ := io.ReadAll(outR)
	gotErr, _ := io.ReadAll(errR)
	if len(gotOut) != 0 {
		t.Errorf("stdout = %q, want nothing", string(gotOut))
	}
	if !strings.Contains(string(gotErr), "No instance ID given") {
		t.Errorf("stderr = %q, want the log line", string(gotErr))
	}
}
