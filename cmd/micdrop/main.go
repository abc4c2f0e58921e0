package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pozitronik/micdrop-go/internal/audio"
	"github.com/pozitronik/micdrop-go/internal/bus"
	"github.com/pozitronik/micdrop-go/internal/config"
	"github.com/pozitronik/micdrop-go/internal/logring"
	"github.com/pozitronik/micdrop-go/internal/supervisor"
	"github.com/pozitronik/micdrop-go/internal/tray"
)

var logFile *os.File

func main() {
	settingsPathFlag := flag.String("settings", defaultSettingsPath(), "Path to settings file")
	flag.Parse()

	settingsPath := *settingsPathFlag

	setupLogging()
	defer closeLogging()

	log.Println("========================================")
	log.Println("MicDrop starting...")
	log.Printf("Settings: %s", settingsPath)
	log.Println("========================================")

	store, err := config.OpenStore(settingsPath)
	if err != nil {
		log.Fatalf("failed to open settings: %v", err)
	}

	device, err := audio.New()
	if err != nil {
		log.Fatalf("failed to initialize audio device: %v", err)
	}

	logs := logring.New(logring.DefaultCapacity)
	sv := supervisor.New(store, device, logs)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- sv.Run(ctx) }()

	trayMgr := tray.NewManager(
		sv.State.Snapshot,
		logFileName(),
		func() {
			snap := sv.State.Snapshot()
			sv.State.SetMicMuted(!snap.MicMuted)
			sv.Bus.Broadcast(bus.EventToggleMic)
		},
		func() {
			log.Println("restart requested from tray")
			sv.RequestRestart()
		},
		func() {
			log.Println("exit requested from tray")
			cancel()
		},
	)

	trayMgr.OnReady(func() {
		log.Println("tray ready")
	})

	go func() {
		<-ctx.Done()
		trayMgr.Quit()
	}()

	trayMgr.Run()

	<-runDone
	log.Println("MicDrop stopped")
}

func setupLogging() {
	var err error
	logFile, err = os.OpenFile(logFileName(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: Failed to open log file: %v\n", err)
		return
	}

	multiWriter := io.MultiWriter(logFile, os.Stderr)
	log.SetOutput(multiWriter)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
}

func closeLogging() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

func logFileName() string {
	exePath, err := os.Executable()
	if err != nil {
		return "micdrop.log"
	}
	return filepath.Join(filepath.Dir(exePath), "micdrop.log")
}

// defaultSettingsPath resolves beside the executable, the same way
// logFileName does, so launching from a shortcut, scheduled task, or any
// working directory other than the install directory still finds the
// settings file that was previously saved there instead of silently
// starting over with defaults.
func defaultSettingsPath() string {
	exePath, err := os.Executable()
	if err != nil {
		return "settings.json"
	}
	return filepath.Join(filepath.Dir(exePath), "settings.json")
}
