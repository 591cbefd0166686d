// Package main is the anejo entry point: a software update catalog mirror
// that replicates vendor catalogs and their product content into JetStream
// storage and serves curated catalog branches alongside the full mirror.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/jacobfgrant/anejo/config"
	"github.com/jacobfgrant/anejo/service"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "anejo"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	settings := config.FromEnv()

	if cliCfg.Validate {
		if err := settings.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting anejo (software update catalog mirror)",
		"version", Version,
		"nats_url", settings.NATSURL,
		"http_addr", settings.HTTPAddr,
	)

	svc, err := service.New(settings, logger)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("run service: %w", err)
	}

	slog.Info("anejo shutdown complete")
	return nil
}
