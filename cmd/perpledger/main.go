// Command perpledger runs the perpetual-futures position ledger. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and starts the application in the configured mode.
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

	"github.com/BurntSushi/toml"

	"github.com/alanyoungcy/perpledger/internal/app"
	"github.com/alanyoungcy/perpledger/internal/config"
	"github.com/alanyoungcy/perpledger/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (serve, monitor, full)")
	printConfig := flag.Bool("print-config", false, "print the effective configuration with secrets redacted and exit")
	encryptKey := flag.String("encrypt-key", "", "encrypt custody.private_key under custody.key_password into this file and exit")
	flag.Parse()

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if *printConfig {
		if err := toml.NewEncoder(os.Stdout).Encode(config.RedactedConfig(cfg)); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if *encryptKey != "" {
		if err := writeEncryptedKey(cfg, *encryptKey); err != nil {
			logger.Error("failed to encrypt key", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted key written", slog.String("path", *encryptKey))
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("perpledger starting",
		slog.String("mode", cfg.Mode),
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
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("perpledger stopped")
}

// newLogger returns a JSON logger on stdout at the named level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func writeEncryptedKey(cfg *config.Config, path string) error {
	if cfg.Custody.PrivateKey == "" {
		return errors.New("custody.private_key (or PERPLEDGER_CUSTODY_PRIVATE_KEY) is not set")
	}
	data, err := crypto.EncryptKey(cfg.Custody.PrivateKey, cfg.Custody.KeyPassword, 0)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
