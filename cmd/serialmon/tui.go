package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/serialmon/internal/app"
	"github.com/buckleypaul/serialmon/internal/config"
	"github.com/buckleypaul/serialmon/internal/monitor"
	"github.com/buckleypaul/serialmon/internal/pages"
	"github.com/buckleypaul/serialmon/internal/store"
)

// runTUI runs the full-screen interface. Logs go to a file under the
// workspace directory since the terminal belongs to the UI.
func runTUI(cfg config.Config, wsRoot string) error {
	wsDir := config.WorkspaceDir(wsRoot)
	logsDir := filepath.Join(wsDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(logsDir, "serialmon.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := newLogger(logFile, cfg.LogLevel)
	slog.SetDefault(logger)

	var st *store.Store
	if cfg.History {
		st = store.New(wsDir)
	}

	var (
		mu       sync.Mutex
		cleanups []func()
	)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range cleanups {
			c()
		}
	}()

	// The settings page edits cfg in place, so each connect reads the
	// current values.
	factory := func(dev string, baud int, disp monitor.Display) (*monitor.Session, error) {
		session, cleanup, err := newSessionDeps(cfg, wsRoot, logger).build(dev, baud, disp, nil)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		cleanups = append(cleanups, cleanup)
		mu.Unlock()
		return session, nil
	}

	monitorPage := pages.NewMonitorPage(factory, cfg.Device, cfg.BaudRate, cfg.ShowTimestamps)
	pageMap := map[app.PageID]app.Page{
		app.MonitorPage:  monitorPage,
		app.PortsPage:    pages.NewPortsPage(cfg.Device),
		app.HistoryPage:  pages.NewHistoryPage(st),
		app.SettingsPage: pages.NewSettingsPage(&cfg, wsRoot),
	}

	model := app.New(pageMap, &cfg, wsRoot)

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = p.Run()
	monitorPage.Shutdown()
	if err != nil {
		return err
	}
	return nil
}
