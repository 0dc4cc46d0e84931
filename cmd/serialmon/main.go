// serialmon is an interactive monitor for MicroPython boards on a serial
// link. It relays device output, forwards operator commands, reconnects
// after the board drops off the bus, and can drive the raw REPL.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/buckleypaul/serialmon/internal/config"
	"github.com/buckleypaul/serialmon/internal/device"
	"github.com/buckleypaul/serialmon/internal/monitor"
	"github.com/buckleypaul/serialmon/internal/serial"
	"github.com/buckleypaul/serialmon/internal/store"
)

var version = "dev"

type options struct {
	noTimestamps bool
	noReconnect  bool
	rawREPL      bool
	device       string
	baud         int
	frames       bool
	frameMode    string
	tui          bool
	listPorts    bool
	logLevel     string
	noHistory    bool
	capture      bool
	saveConfig   bool
	showVersion  bool
}

// exitError carries a process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func newFlagSet(opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("serialmon", pflag.ContinueOnError)
	flagSet.BoolVar(&opts.noTimestamps, "no-timestamps", false, "disable timestamps on output lines")
	flagSet.BoolVar(&opts.noReconnect, "no-reconnect", false, "disable automatic reconnection")
	flagSet.BoolVar(&opts.rawREPL, "raw-repl", false, "start in raw REPL mode")
	flagSet.StringVarP(&opts.device, "device", "d", "", "serial device path (default from DEVICE)")
	flagSet.IntVarP(&opts.baud, "baud", "b", config.DefaultBaudRate, "baud rate (default from BAUD)")
	flagSet.BoolVar(&opts.frames, "frames", false, "decode <..> {..} #..! $..! frames in device output")
	flagSet.StringVar(&opts.frameMode, "frame-mode", config.DefaultFrameMode, "frame decoder mode: streaming or rescan")
	flagSet.BoolVar(&opts.tui, "tui", false, "run the full-screen terminal UI")
	flagSet.BoolVar(&opts.listPorts, "list-ports", false, "list serial ports and exit")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.BoolVar(&opts.noHistory, "no-history", false, "do not record the session in history")
	flagSet.BoolVar(&opts.capture, "capture", false, "append device output to a capture log")
	flagSet.BoolVar(&opts.saveConfig, "save-config", false, "write the effective settings, flags included, to the workspace config and exit")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print the version and exit")
	return flagSet
}

func run(args []string) error {
	var opts options
	flagSet := newFlagSet(&opts)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	if opts.showVersion {
		fmt.Println("serialmon", version)
		return nil
	}
	if opts.listPorts {
		return printPorts()
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	wsRoot := config.DetectWorkspace(cwd)

	cfg, err := config.Load(wsRoot)
	if err != nil {
		return err
	}
	applyFlags(&cfg, flagSet, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if opts.saveConfig {
		if err := config.Save(cfg, wsRoot, false); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("Saved", filepath.Join(config.WorkspaceDir(wsRoot), "config.json"))
		return nil
	}

	if opts.tui {
		return runTUI(cfg, wsRoot)
	}
	return runConsole(cfg, wsRoot)
}

// applyFlags layers explicitly set flags over the loaded configuration.
func applyFlags(cfg *config.Config, fs *pflag.FlagSet, opts options) {
	if fs.Changed("no-timestamps") {
		cfg.ShowTimestamps = !opts.noTimestamps
	}
	if fs.Changed("no-reconnect") {
		cfg.AutoReconnect = !opts.noReconnect
	}
	if fs.Changed("raw-repl") {
		cfg.RawREPL = opts.rawREPL
	}
	if fs.Changed("device") {
		cfg.Device = opts.device
	}
	if fs.Changed("baud") {
		cfg.BaudRate = opts.baud
	}
	if fs.Changed("frames") {
		cfg.DecodeFrames = opts.frames
	}
	if fs.Changed("frame-mode") {
		cfg.FrameMode = opts.frameMode
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if fs.Changed("no-history") {
		cfg.History = !opts.noHistory
	}
	if fs.Changed("capture") {
		cfg.Capture = opts.capture
	}
}

func printPorts() error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p.Describe())
	}
	return nil
}

// sessionDeps builds the pieces one monitor session needs.
type sessionDeps struct {
	cfg     config.Config
	history *store.Store
	logger  *slog.Logger
}

func newSessionDeps(cfg config.Config, wsRoot string, logger *slog.Logger) sessionDeps {
	d := sessionDeps{cfg: cfg, logger: logger}
	if cfg.History {
		d.history = store.New(config.WorkspaceDir(wsRoot))
	}
	return d
}

// build wires a manager and session for device/baud. input may be nil when
// the caller drives the session with Execute. The returned cleanup closes the
// capture log, if any.
func (d sessionDeps) build(dev string, baud int, disp monitor.Display, input monitor.LineReader) (*monitor.Session, func(), error) {
	id := uuid.NewString()
	cleanup := func() {}
	var captureLog string

	if d.cfg.Capture {
		if d.history == nil {
			return nil, nil, errors.New("capture needs history enabled")
		}
		f, err := d.history.CreateCaptureLog(id, time.Now())
		if err != nil {
			return nil, nil, fmt.Errorf("create capture log: %w", err)
		}
		disp = monitor.NewCapture(disp, f)
		captureLog = f.Name()
		cleanup = func() { f.Close() }
	}

	mgr := device.NewManager(device.Config{
		Address:  dev,
		BaudRate: baud,
		RawREPL:  d.cfg.RawREPL,
		Opener: &serial.Opener{
			ReadyTimeout: d.cfg.ReadyTimeout,
			Logger:       d.logger,
		},
		Reporter: disp,
		Logger:   d.logger,
	})
	session := monitor.New(mgr, disp, input, monitor.Options{
		ID:             id,
		AutoReconnect:  d.cfg.AutoReconnect,
		DecodeFrames:   d.cfg.DecodeFrames,
		FrameMode:      d.cfg.DecoderMode(),
		ReconnectDelay: d.cfg.ReconnectDelay,
		History:        d.history,
		CaptureLog:     captureLog,
		Logger:         d.logger,
	})
	return session, cleanup, nil
}

func runConsole(cfg config.Config, wsRoot string) error {
	logger := newLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var historyFile string
	if cfg.History {
		historyFile = filepath.Join(config.WorkspaceDir(wsRoot), "input_history")
		if err := os.MkdirAll(filepath.Dir(historyFile), 0o755); err != nil {
			logger.Warn("create history dir failed", "error", err)
			historyFile = ""
		}
	}
	input := monitor.NewLineEditor("", historyFile)
	defer input.Close()

	deps := newSessionDeps(cfg, wsRoot, logger)
	console := monitor.NewConsole(os.Stdout, cfg.ShowTimestamps)
	session, cleanup, err := deps.build(cfg.Device, cfg.BaudRate, console, input)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := session.Run(ctx); err != nil {
		return &exitError{code: 1, err: err}
	}
	return nil
}
