package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/buckleypaul/serialmon/internal/frame"
)

const (
	DefaultBaudRate       = 115200
	DefaultReadyTimeout   = 2 * time.Second
	DefaultReconnectDelay = 2 * time.Second
	DefaultFrameMode      = "streaming"

	// Dir is the per-workspace directory holding config, history and logs.
	Dir = ".serialmon"

	envPrefix = "SERIALMON"
)

// Config holds all serialmon configuration.
type Config struct {
	Device         string        `json:"device,omitempty" mapstructure:"device"`
	BaudRate       int           `json:"baud_rate,omitempty" mapstructure:"baud_rate"`
	ShowTimestamps bool          `json:"timestamps" mapstructure:"timestamps"`
	AutoReconnect  bool          `json:"auto_reconnect" mapstructure:"auto_reconnect"`
	RawREPL        bool          `json:"raw_repl" mapstructure:"raw_repl"`
	DecodeFrames   bool          `json:"frames" mapstructure:"frames"`
	FrameMode      string        `json:"frame_mode,omitempty" mapstructure:"frame_mode"`
	ReadyTimeout   time.Duration `json:"ready_timeout,omitempty" mapstructure:"ready_timeout"`
	ReconnectDelay time.Duration `json:"reconnect_delay,omitempty" mapstructure:"reconnect_delay"`
	History        bool          `json:"history" mapstructure:"history"`
	Capture        bool          `json:"capture" mapstructure:"capture"`
	LogLevel       string        `json:"log_level,omitempty" mapstructure:"log_level"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		BaudRate:       DefaultBaudRate,
		ShowTimestamps: true,
		AutoReconnect:  true,
		FrameMode:      DefaultFrameMode,
		ReadyTimeout:   DefaultReadyTimeout,
		ReconnectDelay: DefaultReconnectDelay,
		History:        true,
		LogLevel:       "info",
	}
}

// Load reads and merges every configuration layer.
// Order: defaults → global (~/.config/serialmon/config.json) → workspace
// (.serialmon/config.json) → workspace .env → process environment.
// Command-line flags are applied by the caller on top of the result.
func Load(workspaceRoot string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if home, err := os.UserHomeDir(); err == nil {
		if err := mergeFile(v, filepath.Join(home, ".config", "serialmon", "config.json")); err != nil {
			return Config{}, err
		}
	}

	if workspaceRoot != "" {
		if err := mergeFile(v, filepath.Join(workspaceRoot, Dir, "config.json")); err != nil {
			return Config{}, err
		}
		if err := mergeDotenv(v, filepath.Join(workspaceRoot, ".env")); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// DEVICE and BAUD are the short names the board scripts use.
	if err := v.BindEnv("device", envPrefix+"_DEVICE", "DEVICE"); err != nil {
		return Config{}, err
	}
	if err := v.BindEnv("baud_rate", envPrefix+"_BAUD_RATE", "BAUD"); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	if c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.BaudRate)
	}
	if _, err := ParseFrameMode(c.FrameMode); err != nil {
		return err
	}
	return nil
}

// DecoderMode returns the frame decoder mode, falling back to streaming.
func (c Config) DecoderMode() frame.Mode {
	m, err := ParseFrameMode(c.FrameMode)
	if err != nil {
		return frame.Streaming
	}
	return m
}

// ParseFrameMode maps "streaming" or "rescan" to a decoder mode.
func ParseFrameMode(s string) (frame.Mode, error) {
	switch strings.ToLower(s) {
	case "", "streaming":
		return frame.Streaming, nil
	case "rescan":
		return frame.Rescan, nil
	default:
		return frame.Streaming, fmt.Errorf("unknown frame mode %q (want streaming or rescan)", s)
	}
}

// WorkspaceDir returns the .serialmon directory under root.
func WorkspaceDir(root string) string {
	return filepath.Join(root, Dir)
}

// Save writes the config to the workspace .serialmon/config.json by default,
// or to the global config if global is true.
func Save(cfg Config, workspaceRoot string, global bool) error {
	var dir string
	if global {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		dir = filepath.Join(home, ".config", "serialmon")
	} else {
		dir = WorkspaceDir(workspaceRoot)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644)
}

// SaveWorkspace sets values, keyed by their JSON names, in the workspace
// .serialmon/config.json and leaves every other key in the file as it was.
// Unlike Save it never writes settings that came from another layer, such as
// command-line flags or the environment.
func SaveWorkspace(workspaceRoot string, values map[string]any) error {
	dir := WorkspaceDir(workspaceRoot)
	path := filepath.Join(dir, "config.json")

	current := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	maps.Copy(current, values)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err = json.MarshalIndent(current, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("device", d.Device)
	v.SetDefault("baud_rate", d.BaudRate)
	v.SetDefault("timestamps", d.ShowTimestamps)
	v.SetDefault("auto_reconnect", d.AutoReconnect)
	v.SetDefault("raw_repl", d.RawREPL)
	v.SetDefault("frames", d.DecodeFrames)
	v.SetDefault("frame_mode", d.FrameMode)
	v.SetDefault("ready_timeout", d.ReadyTimeout)
	v.SetDefault("reconnect_delay", d.ReconnectDelay)
	v.SetDefault("history", d.History)
	v.SetDefault("capture", d.Capture)
	v.SetDefault("log_level", d.LogLevel)
}

func mergeFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// mergeDotenv folds a .env file into the config layer, below the process
// environment. DEVICE and BAUD map to their config keys; SERIALMON_* keys
// map to the matching setting.
func mergeDotenv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	values := map[string]any{}
	for _, key := range env.AllKeys() {
		switch name := strings.ToLower(key); {
		case name == "device":
			values["device"] = env.Get(key)
		case name == "baud":
			values["baud_rate"] = env.Get(key)
		case strings.HasPrefix(name, "serialmon_"):
			values[strings.TrimPrefix(name, "serialmon_")] = env.Get(key)
		}
	}
	if len(values) == 0 {
		return nil
	}
	return v.MergeConfigMap(values)
}
