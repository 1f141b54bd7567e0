// Package ui provides the optional system tray presence for desktop
// installs. Headless deployments (NAS, containers) never start it.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getlantern/systray"

	"github.com/clipvault/clipvault-agent/internal/history"
)

type Tray struct {
	repo   history.Repository
	logger *slog.Logger
	busy   func() bool

	statusItem  *systray.MenuItem
	lastRunItem *systray.MenuItem

	onDownload func()
	onQuit     func()
}

type TrayConfig struct {
	Repository history.Repository
	Busy       func() bool
	Logger     *slog.Logger
	OnDownload func()
	OnQuit     func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		repo:       cfg.Repository,
		busy:       cfg.Busy,
		logger:     cfg.Logger,
		onDownload: cfg.OnDownload,
		onQuit:     cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetTitle("Clipvault")
	systray.SetTooltip("Clipvault Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.lastRunItem = systray.AddMenuItem("Last run: never", "Most recent ingestion run")
	t.lastRunItem.Disable()

	systray.AddSeparator()
	downloadItem := systray.AddMenuItem("Download recent clips", "Run the archival pipeline now")
	systray.AddSeparator()
	quitItem := systray.AddMenuItem("Quit", "Stop the agent")

	go func() {
		for {
			select {
			case <-downloadItem.ClickedCh:
				t.logger.Info("manual ingestion requested from tray")
				if t.onDownload != nil {
					go t.onDownload()
				}
			case <-quitItem.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()

	go t.refreshLoop()
}

func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		t.refresh()
	}
}

func (t *Tray) refresh() {
	if t.busy != nil && t.busy() {
		t.statusItem.SetTitle("Status: Ingesting")
	} else {
		t.statusItem.SetTitle("Status: Idle")
	}

	runs, err := t.repo.ListRuns(context.Background(), 1)
	if err != nil || len(runs) == 0 {
		return
	}
	run := runs[0]
	t.lastRunItem.SetTitle(fmt.Sprintf("Last run: %s (%d clips, %s)",
		run.StartedAt.Local().Format("Jan 2 15:04"), run.NewClips, run.Status))
}

func (t *Tray) onExit() {
	t.logger.Info("tray exiting")
	if t.onQuit != nil {
		t.onQuit()
	}
}
