// Command mt5bridged is the daemon that exposes internal/registry's
// session-lifecycle operations over HTTP/WebSocket. It never links the
// vendor client library directly — only cmd/mt5worker does, since
// per-session isolated child processes replace in-process global state.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flowshift/mt5bridge/internal/config"
	"github.com/flowshift/mt5bridge/internal/logging"
	"github.com/flowshift/mt5bridge/internal/registry"
	"github.com/flowshift/mt5bridge/internal/terminal"
	"github.com/flowshift/mt5bridge/internal/web"
)

// Version is the daemon's build version.
const Version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		handleServe(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("mt5bridged v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("Usage: mt5bridged <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Run the HTTP/WebSocket bridge daemon")
	fmt.Println("  version   Print the daemon version")
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a TOML configuration file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		LogDir:       cfg.LogDir,
		Level:        cfg.LogLevel,
		Debug:        cfg.LogLevel == "debug",
		PprofEnabled: cfg.PprofEnabled,
	})
	defer logging.Shutdown()

	log := logging.ForComponent(logging.CompRegistry)

	if err := os.MkdirAll(cfg.SessionsBasePath, 0o755); err != nil {
		log.Error("sessions_base_mkdir_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	tmpl := &terminal.Template{
		SourceRoot:   cfg.PortableTerminalPath,
		SessionsBase: cfg.SessionsBasePath,
		Subtrees:     cfg.Template.Subtrees,
	}
	if err := tmpl.Ensure(); err != nil {
		log.Error("template_build_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	provisioner := &terminal.Provisioner{Template: tmpl}

	reg := registry.New(registry.Config{
		WorkerBinPath:   cfg.WorkerBinPath,
		TerminalExePath: filepath.Join(cfg.PortableTerminalPath, terminal.ExecutableName),
		CommandTimeout:  time.Duration(cfg.CommandTimeoutSec) * time.Second,
		InitTimeout:     time.Duration(cfg.InitTimeoutSec) * time.Second,
		IdleTimeout:     time.Duration(cfg.SessionIdleTimeoutSec) * time.Second,
		ReaperInterval:  time.Duration(cfg.ReaperIntervalSec) * time.Second,
		CloseAllFanOut:  cfg.CloseAllFanOut,
	}, provisioner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reaper := registry.NewReaper(reg)
	go reaper.Run(ctx)

	watcher, err := registry.NewDirWatcher(reg, cfg.SessionsBasePath)
	if err != nil {
		log.Warn("dir_watcher_unavailable", slog.String("error", err.Error()))
	} else {
		watcher.Start()
		defer watcher.Close()
	}

	server := web.NewServer(web.Config{
		ListenAddr: cfg.ListenAddr,
		Token:      cfg.AuthToken,
	}, reg)

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving", slog.String("addr", server.Addr()))
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting_down")
	case err := <-errCh:
		if err != nil {
			log.Error("server_error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown_error", slog.String("error", err.Error()))
	}
}
