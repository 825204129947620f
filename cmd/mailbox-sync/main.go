package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/mailbox-sync/internal/auth"
	"github.com/alexjbarnes/mailbox-sync/internal/config"
	"github.com/alexjbarnes/mailbox-sync/internal/daemon"
	"github.com/alexjbarnes/mailbox-sync/internal/logging"
)

var Version = "dev"

func main() {
	// Handle hash-key subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		hashKey(os.Args[2:])
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// hashKey prints a new control API key and the CONTROL_API_KEYS entry
// that accepts it.
func hashKey(args []string) {
	name := "default"
	if len(args) > 0 && args[0] != "" {
		name = args[0]
	}

	key, hash, err := auth.GenerateAPIKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, "API key (shown once, give it to the client):")
	fmt.Println(key)
	fmt.Fprintln(os.Stderr, "CONTROL_API_KEYS entry:")
	fmt.Println(name + ":" + hash)
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("mailbox-sync starting",
		slog.String("version", Version),
		slog.String("state_dir", cfg.StateDir),
		slog.String("tor", cfg.TorSocksAddr),
		slog.Bool("spool", cfg.SpoolDir != ""),
		slog.Bool("http", cfg.HTTPListenAddr != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(cfg, logger, daemon.Options{})
	if err != nil {
		return err
	}

	return d.Run(ctx)
}
