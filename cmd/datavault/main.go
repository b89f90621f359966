// Command datavault runs the data vault retrieval API.
//
// Usage:
//
//	datavault serve
//	datavault serve --listen :9000 --log-level debug
//	datavault version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/contextd/datavault/pkg/config"
	"github.com/contextd/datavault/pkg/logger"
	"github.com/contextd/datavault/pkg/server"
	"github.com/contextd/datavault/pkg/vault"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the retrieval API server."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("datavault %s\n", version)
	return nil
}

// ServeCmd starts the retrieval API server.
type ServeCmd struct {
	Listen string `help:"HTTP bind address (overrides DATA_VAULT_LISTEN_ADDR)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Listen != "" {
		cfg.ListenAddr = c.Listen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	backend, err := vault.NewRedisBackend(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer backend.Close()

	log := logger.GetLogger()
	store := vault.New(backend, vault.Options{
		TTL:             cfg.TTL,
		GracePeriod:     cfg.GracePeriod,
		MaxInlineRows:   cfg.MaxInlineRows,
		MaxInlineBytes:  cfg.MaxInlineBytes,
		MaxInlineTokens: cfg.MaxInlineTokens,
	}, log)

	srv := server.New(cfg.ListenAddr, store, backend, log)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	}
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("datavault"),
		kong.Description("Side-channel cache and query layer for LLM tool responses."),
		kong.UsageOnError(),
	)

	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), output, cli.LogFormat)

	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
