package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/photon-dev/photon/internal/config"
	"github.com/photon-dev/photon/internal/devserver"
	"github.com/photon-dev/photon/internal/logging"
	"github.com/photon-dev/photon/internal/supervisor"
	"github.com/photon-dev/photon/internal/telemetry"
)

type devFlags struct {
	port          int
	host          string
	runtime       string
	server        string
	preferRestart bool
	rpcTimeout    time.Duration
	verbose       bool
}

func devCmd() *cobra.Command {
	var flags devFlags

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the development server",
		Long: `Start the development server.

The server entry runs in a worker process. Edits to the entry or to
middleware restart the worker; other edits are invalidated in place.
Connected browsers reload once the worker is ready.

Shortcuts:
  r + enter  restart the server entry
  q + enter  quit

Examples:
  photon dev
  photon dev --port=8080
  photon dev --runtime=bun --server=chi
  photon dev --prefer-restart`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(flags)
		},
	}

	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "Port to run on (default from photon.json)")
	cmd.Flags().StringVarP(&flags.host, "host", "H", "", "Host to bind to (default from photon.json)")
	cmd.Flags().StringVar(&flags.runtime, "runtime", "", "Worker runtime: node, deno or bun")
	cmd.Flags().StringVar(&flags.server, "server", "", "HTTP stack of the dev listener: std, chi or gin")
	cmd.Flags().BoolVar(&flags.preferRestart, "prefer-restart", false, "Restart the whole CLI instead of the worker")
	cmd.Flags().DurationVar(&flags.rpcTimeout, "rpc-timeout", 0, "Timeout of each worker RPC call")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

// apply overlays the flags on cfg and validates the result.
func (f devFlags) apply(cfg *config.Config) error {
	if f.port > 0 {
		cfg.Dev.Port = f.port
	}
	if f.host != "" {
		cfg.Dev.Host = f.host
	}
	if f.runtime != "" {
		cfg.Dev.Runtime = f.runtime
	}
	if f.server != "" {
		cfg.Dev.Server = f.server
	}
	if f.preferRestart {
		cfg.Dev.PreferRestart = true
	}
	if f.rpcTimeout > 0 {
		cfg.Dev.RPCTimeout = config.Duration{Duration: f.rpcTimeout}
	}
	if f.verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg.Validate()
}

func runDev(flags devFlags) error {
	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		return err
	}
	if err := flags.apply(cfg); err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := telemetry.New()

	var restarter *supervisor.Restarter
	if cfg.Dev.PreferRestart {
		restarter = &supervisor.Restarter{Logger: logger, Metrics: metrics}
		if !supervisor.Active() {
			// Ctrl+C reaches the child through the process group; the
			// root exits with the child's code.
			signal.Ignore(syscall.SIGINT)
		}
		if restarter.Install(ctx) {
			restarter.BlockForever()
			return nil
		}
	}

	printBanner()
	info("dev · %s · %s runtime", cfg.Dev.Server, cfg.Dev.Runtime)
	fmt.Println()

	srv, err := devserver.New(devserver.Options{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Restarter:    restarter,
		Stdin:        os.Stdin,
		Out:          os.Stdout,
		WorkerStdout: os.Stdout,
		WorkerStderr: os.Stderr,
		OnReady: func(addr net.Addr) {
			success("Ready at http://%s", addr)
			info("press h + enter to show shortcuts")
			fmt.Println()
		},
	})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			fmt.Println("\n\n  Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := srv.Run(ctx); err != nil {
		logger.Error("dev server stopped", zap.Error(err))
		return err
	}
	return nil
}
