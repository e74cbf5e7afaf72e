package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/catshare/engine/internal/catconfig"
	"github.com/catshare/engine/internal/catlog"
	"github.com/catshare/engine/internal/orchestrator"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/catshare-engine/config.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	receive := flag.Bool("receive", false, "scan for a nearby sender and receive its files")
	deviceOverride := flag.String("device-name", "", "override the configured device name")
	downloadDirOverride := flag.String("download-dir", "", "override the configured download directory")
	autoAccept := flag.Bool("auto-accept", false, "accept the first offered transfer without prompting")
	flag.Parse()

	if *showVersion {
		fmt.Printf("catshare-engine %s\n", version)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}
	if *deviceOverride != "" {
		cfg.Device.Name = *deviceOverride
	}
	if *downloadDirOverride != "" {
		cfg.Transfer.DownloadDir = *downloadDirOverride
	}
	if *autoAccept {
		cfg.Transfer.AutoAccept = true
	}

	logger, err := catlog.New(catlog.Config{
		Path:       cfg.LogPath,
		Level:      cfg.LogLevel,
		MaxSizeMB:  20,
		MaxBackups: 5,
		MaxAgeDays: 14,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	printBanner(cfg, *receive)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var handle *orchestrator.Handle
	if *receive {
		handle = runReceive(logger, cfg)
	} else {
		files := flag.Args()
		if len(files) == 0 {
			fmt.Fprintln(os.Stderr, "usage: catshare-engine [flags] file [file...]   (or -receive)")
			os.Exit(1)
		}
		handle = runSend(logger, cfg, files)
	}
	if handle == nil {
		os.Exit(1)
	}

	watchEvents(handle, sigCh)
}

// runSend starts advertising files for a receiver.
func runSend(logger zerolog.Logger, cfg *catconfig.Config, files []string) *orchestrator.Handle {
	sender := orchestrator.NewSender(logger)
	handle, err := sender.Start(orchestrator.SenderOptions{
		Files:         files,
		DeviceName:    cfg.Device.Name,
		BrandID:       cfg.Device.BrandID,
		SenderID:      cfg.Device.SenderID,
		Supports5GHz:  cfg.Device.Supports5GHz,
		WifiInterface: cfg.Network.WifiInterface,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
		return nil
	}
	fmt.Printf("Advertising %d file(s) as %q. Waiting for a receiver...\n", len(files), cfg.Device.Name)
	return handle
}

// runReceive starts discovery and auto-selects the first sender found.
func runReceive(logger zerolog.Logger, cfg *catconfig.Config) *orchestrator.Handle {
	receiver := orchestrator.NewReceiver(logger)
	handle, discovery := receiver.StartDiscovery(orchestrator.ReceiverOptions{
		DeviceName:   cfg.Device.Name,
		BrandID:      cfg.Device.BrandID,
		SenderID:     cfg.Device.SenderID,
		Supports5GHz: cfg.Device.Supports5GHz,
		DownloadDir:  cfg.Transfer.DownloadDir,
		AutoAccept:   cfg.Transfer.AutoAccept,
	})

	go func() {
		for ev := range handle.Events() {
			if ev.Kind != orchestrator.EventDeviceFound {
				continue
			}
			fmt.Printf("Found %s (%s), connecting...\n", ev.DeviceFound.Name, ev.DeviceFound.MAC)
			// Use the first device seen; TODO: prompt when multiple senders are in range.
			discovery.Select(ev.DeviceFound.MAC)
			return
		}
	}()

	fmt.Println("Scanning for nearby senders...")
	return handle
}

// watchEvents prints the handle's event stream until the transfer
// reaches a terminal state or the process receives an interrupt.
func watchEvents(handle *orchestrator.Handle, sigCh chan os.Signal) {
	events := handle.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case orchestrator.EventStateChanged:
				fmt.Printf("state: %s\n", ev.StateChanged)
				switch ev.StateChanged {
				case orchestrator.StateCompleted, orchestrator.StateFailed, orchestrator.StateCancelled:
					return
				}
			case orchestrator.EventProgress:
				fmt.Printf("progress: %d/%d bytes\n", ev.Progress.Bytes, ev.Progress.Total)
			case orchestrator.EventLog:
				fmt.Printf("[%s] %s\n", ev.Log.Level, ev.Log.Text)
			case orchestrator.EventError:
				fmt.Fprintf(os.Stderr, "error: %s: %s\n", ev.Error.Kind, ev.Error.Message)
			}
		case sig := <-sigCh:
			fmt.Printf("Shutting down (%s)...\n", sig)
			handle.Cancel()
		}
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults. On first run, it
// writes a default config file.
func loadConfig(path string) (*catconfig.Config, error) {
	if path != "" {
		return catconfig.Load(path)
	}

	defaultPath := catconfig.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := catconfig.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	if created, err := catconfig.WriteDefault(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not write default config: %v\n", err)
	} else if created != "" {
		fmt.Printf("Created default config at %s\n", created)
	}

	return catconfig.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *catconfig.Config, receive bool) {
	mode := "send"
	if receive {
		mode = "receive"
	}
	fmt.Println("=== catshare-engine ===")
	fmt.Printf("  Version: %s\n", version)
	fmt.Printf("  Mode:    %s\n", mode)
	fmt.Printf("  Device:  %s\n", cfg.Device.Name)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=======================")
}
