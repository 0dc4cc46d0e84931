package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/buckleypaul/serialmon/internal/config"
)

func parse(t *testing.T, args ...string) (*pflag.FlagSet, options) {
	t.Helper()
	var opts options
	fs := newFlagSet(&opts)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return fs, opts
}

func TestApplyFlagsOnlyOverridesChanged(t *testing.T) {
	cfg := config.Defaults()
	cfg.Device = "/dev/ttyACM0"
	cfg.BaudRate = 9600

	fs, opts := parse(t, "--no-reconnect", "--raw-repl")
	applyFlags(&cfg, fs, opts)

	if cfg.Device != "/dev/ttyACM0" {
		t.Errorf("device = %q, want /dev/ttyACM0", cfg.Device)
	}
	if cfg.BaudRate != 9600 {
		t.Errorf("baud = %d, want 9600", cfg.BaudRate)
	}
	if cfg.AutoReconnect {
		t.Error("auto reconnect should be off")
	}
	if !cfg.RawREPL {
		t.Error("raw REPL should be on")
	}
	if !cfg.ShowTimestamps {
		t.Error("timestamps should keep their default")
	}
}

func TestApplyFlagsDeviceAndBaud(t *testing.T) {
	cfg := config.Defaults()
	fs, opts := parse(t, "-d", "/dev/ttyUSB1", "-b", "57600", "--no-timestamps", "--frames", "--frame-mode", "rescan")
	applyFlags(&cfg, fs, opts)

	if cfg.Device != "/dev/ttyUSB1" || cfg.BaudRate != 57600 {
		t.Errorf("got %s @ %d", cfg.Device, cfg.BaudRate)
	}
	if cfg.ShowTimestamps {
		t.Error("timestamps should be off")
	}
	if !cfg.DecodeFrames || cfg.FrameMode != "rescan" {
		t.Errorf("frames = %v mode = %q", cfg.DecodeFrames, cfg.FrameMode)
	}
}

func TestRunRejectsPositionalArgs(t *testing.T) {
	err := run([]string{"extra"})
	if err == nil || !strings.Contains(err.Error(), "unexpected argument") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunHelpIsNotAnError(t *testing.T) {
	if err := run([]string{"--help"}); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerUsesJSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "info").Info("hello", "port", "/dev/ttyUSB0")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
	buf.Reset()
	newLogger(&buf, "warn").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
}

func TestRunSaveConfigWritesEffectiveSettings(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{"DEVICE", "BAUD", "SERIALMON_DEVICE", "SERIALMON_BAUD_RATE"} {
		t.Setenv(k, "")
	}
	ws := t.TempDir()
	t.Chdir(ws)

	if err := run([]string{"--save-config", "-d", "/dev/ttyUSB2", "-b", "9600", "--no-reconnect"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	loaded, err := config.Load(ws)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Device != "/dev/ttyUSB2" || loaded.BaudRate != 9600 || loaded.AutoReconnect {
		t.Fatalf("unexpected saved config: %+v", loaded)
	}
}
