package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdirTemp moves into an empty directory so no stray .env file is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.ProgramDir != defaultProgramDir {
		t.Errorf("ProgramDir = %q, want %q", cfg.ProgramDir, defaultProgramDir)
	}
	if cfg.TeardownTimeout != defaultTeardownTimeout {
		t.Errorf("TeardownTimeout = %v, want %v", cfg.TeardownTimeout, defaultTeardownTimeout)
	}
	if cfg.ProgVideoRec() {
		t.Error("ProgVideoRec should default to false")
	}
	if !cfg.Camera.Enabled {
		t.Error("Camera.Enabled should default to true")
	}
	if cfg.Sim.TimeScale != 1 {
		t.Errorf("Sim.TimeScale = %v, want 1", cfg.Sim.TimeScale)
	}
	if cfg.MotorTrim != 1 {
		t.Errorf("MotorTrim = %v, want 1", cfg.MotorTrim)
	}
	if cfg.Log.LogLevel() != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.Log.LogLevel(), slog.LevelInfo)
	}
}

func TestLoadFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CODERBOT_LISTEN_ADDR", ":9090")
	t.Setenv("CODERBOT_DB_PATH", "/tmp/test.db")
	t.Setenv("CODERBOT_LOG_LEVEL", "debug")
	t.Setenv("CODERBOT_PROG_VIDEO_REC", "true")
	t.Setenv("CODERBOT_TEARDOWN_TIMEOUT", "2s")
	t.Setenv("CODERBOT_CAMERA_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.Log.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.Log.LogLevel(), slog.LevelDebug)
	}
	if !cfg.ProgVideoRec() {
		t.Error("ProgVideoRec = false, want true")
	}
	if cfg.TeardownTimeout != 2*time.Second {
		t.Errorf("TeardownTimeout = %v, want 2s", cfg.TeardownTimeout)
	}
	if cfg.Camera.Enabled {
		t.Error("Camera.Enabled = true, want false")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "coderbot.yaml")
	content := "program_dir: /srv/programs\nprog_video_rec: true\nmotor_trim_factor: 1.2\nsim:\n  time_scale: 0.5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CODERBOT_PROGRAM_DIR", "/env/programs")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ProgramDir != "/env/programs" {
		t.Errorf("ProgramDir = %q, want the environment to win", cfg.ProgramDir)
	}
	if !cfg.ProgVideoRec() {
		t.Error("ProgVideoRec = false, want true from file")
	}
	if cfg.Sim.TimeScale != 0.5 {
		t.Errorf("Sim.TimeScale = %v, want 0.5", cfg.Sim.TimeScale)
	}
	if cfg.MotorTrim != 1.2 {
		t.Errorf("MotorTrim = %v, want 1.2", cfg.MotorTrim)
	}
}

func TestLoadMissingFile(t *testing.T) {
	chdirTemp(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load should fail for a missing config file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CODERBOT_PROGRAM_DIR=/from/dotenv\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// Registered so t restores the variable godotenv sets.
	t.Setenv("CODERBOT_PROGRAM_DIR", "")
	os.Unsetenv("CODERBOT_PROGRAM_DIR")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProgramDir != "/from/dotenv" {
		t.Errorf("ProgramDir = %q, want %q", cfg.ProgramDir, "/from/dotenv")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("program started", "program", "square")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["program"] != "square" {
		t.Errorf("program = %v, want %q", entry["program"], "square")
	}
}

func TestNewServiceLoggerWritesFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "coderbot.log")

	logger, closer := NewServiceLogger(&buf, LogConfig{Level: "debug", File: path})
	logger.Debug("teardown step failed", "step", "motion_stop")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"step":"motion_stop"`)) {
		t.Errorf("log file = %s, want the step attribute", data)
	}
	if !bytes.Contains(buf.Bytes(), []byte("teardown step failed")) {
		t.Errorf("stdout = %s, want the message", buf.String())
	}
}

func TestToJournalKey(t *testing.T) {
	if got := toJournalKey("run_id"); got != "RUN_ID" {
		t.Errorf("toJournalKey(run_id) = %q, want RUN_ID", got)
	}
	if got := toJournalKey("http.status"); got != "HTTP_STATUS" {
		t.Errorf("toJournalKey(http.status) = %q, want HTTP_STATUS", got)
	}
}
