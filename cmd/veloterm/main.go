package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"tinygo.org/x/bluetooth"

	"github.com/veloterm/veloterm/internal/bt"
	"github.com/veloterm/veloterm/internal/config"
	"github.com/veloterm/veloterm/internal/go_func_utils"
	"github.com/veloterm/veloterm/internal/journal"
	"github.com/veloterm/veloterm/internal/logging"
	"github.com/veloterm/veloterm/internal/trainer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "veloterm: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("veloterm", pflag.ExitOnError)
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}

	logger, logCloser := logging.NewFileLogger(cfg.LogFilePath)
	defer func() { _ = logCloser.Close() }()
	logger.Printf("veloterm starting (FTP %d W, db %s)", cfg.FTPWatts, cfg.DBPath)

	db, err := journal.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open session database: %w", err)
	}
	defer func() { _ = db.Close() }()
	store := journal.NewStore(db)

	manager := bt.NewBTManager(bluetooth.DefaultAdapter, logger)
	if err := manager.Enable(); err != nil {
		return fmt.Errorf("enable BLE stack: %w", err)
	}

	link := trainer.NewDeviceLink(manager, logger,
		trainer.WithReconnectDelay(cfg.ReconnectDelay))

	engineCfg := trainer.EngineConfig{
		CountdownSec:        cfg.CountdownSec,
		GracePeriodSec:      cfg.GracePeriodSec,
		ZeroPowerPauseTicks: cfg.ZeroPowerPauseTicks,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		DefaultFTPWatts:     cfg.FTPWatts,
	}
	engine := trainer.NewEngine(link, store, newBellCuePlayer(logger), logger, engineCfg)

	if err := engine.ResumeFromJournal(); err != nil {
		logger.Printf("main: journal resume failed: %v", err)
	}
	if engine.ViewModel().State == trainer.SessionIdle && len(trainer.BuiltinWorkouts) > 0 {
		engine.LoadWorkout(&trainer.BuiltinWorkouts[0])
	}

	watchControllerReconnects(engine, link, logger)

	// Scan for both roles' services so either device kind shows up.
	manager.StartScan([]string{
		trainer.ServiceUUIDForRole(trainer.RoleController),
		trainer.ServiceUUIDForRole(trainer.RoleHeartRate),
	})
	defer func() {
		if err := manager.StopScan(); err != nil {
			logger.Printf("main: stop scan: %v", err)
		}
	}()

	autoConnect(cfg, link, manager, logger)

	ui := newDashboard(engine, link, manager, logger)
	go waitForSignal(ui.Stop)
	uiErr := ui.Run()

	// Shutdown order: stop driving the trainer, then tear the links down,
	// then the adapter.
	engine.Shutdown()
	link.Shutdown()
	manager.Shutdown()
	logger.Printf("veloterm stopped")
	return uiErr
}

// autoConnect pairs the configured addresses as soon as scanning finds them.
func autoConnect(cfg *config.Config, link trainer.DeviceLinkInterface, manager bt.BTManagerInterface, logger *log.Logger) {
	targets := map[trainer.DeviceRole]string{}
	if cfg.ControllerAddress != "" {
		targets[trainer.RoleController] = cfg.ControllerAddress
	}
	if cfg.HeartRateAddress != "" {
		targets[trainer.RoleHeartRate] = cfg.HeartRateAddress
	}

	for role, address := range targets {
		role, address := role, address
		go_func_utils.SafeGo(logger, func() {
			for attempt := 0; attempt < 60; attempt++ {
				if manager.GetBTDeviceByAddressString(address) != nil {
					if err := link.Connect(role, address); err != nil {
						logger.Printf("main: auto-connect %s to %s: %v", role, address, err)
					}
					return
				}
				time.Sleep(1 * time.Second)
			}
			logger.Printf("main: auto-connect gave up waiting for %s (%s)", address, role)
		})
	}
}

// watchControllerReconnects forces a target resend whenever the controller
// link comes back, since a rebooted trainer forgets its target.
func watchControllerReconnects(engine *trainer.Engine, link trainer.DeviceLinkInterface, logger *log.Logger) {
	ch := make(chan []trainer.DeviceConnection, 4)
	link.ListenToConnections(ch)

	go_func_utils.SafeGo(logger, func() {
		lastStatus := trainer.StatusDisconnected
		for connections := range ch {
			for _, conn := range connections {
				if conn.Role != trainer.RoleController {
					continue
				}
				if conn.Status == trainer.StatusConnected && lastStatus != trainer.StatusConnected {
					engine.NotifyControllerReconnected()
				}
				lastStatus = conn.Status
			}
		}
	})
}

func waitForSignal(stop func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	stop()
}
