// Command crossarb is the arbitrage engine daemon. It loads configuration,
// validates it, wires dependencies, sets up signal handling, and runs the
// trade coordinator: crash recovery, fill and resolution monitors, and the
// periodic opportunity sweep.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/crwnlabs/crossarb/internal/app"
	"github.com/crwnlabs/crossarb/internal/config"
	"github.com/crwnlabs/crossarb/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKeyOut := flag.String("encrypt-key-out", "", "encrypt the configured wallet key to this path and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Rebuild the logger at the configured level.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Key-encryption mode: seal the raw wallet key into the file that
	// encrypted_key_path points at, so the raw key only ever travels
	// through the environment, then exit.
	if *encryptKeyOut != "" {
		if err := writeEncryptedKey(cfg, *encryptKeyOut); err != nil {
			logger.Error("failed to encrypt wallet key", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted wallet key written", slog.String("path", *encryptKeyOut))
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("crossarb starting",
		slog.Bool("trading_enabled", cfg.Trading.Enabled),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("crossarb stopped")
}

func writeEncryptedKey(cfg *config.Config, path string) error {
	if cfg.Wallet.PrivateKey == "" || cfg.Wallet.KeyPassword == "" {
		return errors.New("wallet private key and key password are required " +
			"(set CROSSARB_WALLET_PRIVATE_KEY and CROSSARB_WALLET_KEY_PASSWORD)")
	}
	blob, err := crypto.EncryptKey(cfg.Wallet.PrivateKey, cfg.Wallet.KeyPassword)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
