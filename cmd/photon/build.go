package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/photon-dev/photon/internal/build"
	"github.com/photon-dev/photon/internal/config"
	"github.com/photon-dev/photon/internal/logging"
)

func buildCmd() *cobra.Command {
	var (
		output  string
		publish string
		clean   bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Resolve server entries and write the manifest",
		Long: `Resolve every server entry and write the entry manifest.

This command:
  • Detects the server framework of each entry
  • Tags entries as servers or universal handlers
  • Writes <output>/photon/entries.json
  • Publishes the manifest when --publish or build.publish is set

Examples:
  photon build
  photon build --output=dist
  photon build --publish=s3://my-bucket/releases/42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(output, publish, clean)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory (default from photon.json)")
	cmd.Flags().StringVar(&publish, "publish", "", "Publish target (file:///dir or s3://bucket/prefix)")
	cmd.Flags().BoolVar(&clean, "clean", false, "Remove the previous manifest before building")

	return cmd
}

func runBuild(output, publish string, clean bool) error {
	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		return err
	}
	if output != "" {
		cfg.Build.Output = output
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	fmt.Println("  Building for production...")
	fmt.Println()

	builder := build.New(cfg, build.Options{
		Publish: publish,
		Logger:  logger,
		OnProgress: func(step string) {
			info("%s", step)
		},
	})

	if clean {
		info("Cleaning previous manifest...")
		if err := builder.Clean(); err != nil {
			warn("clean: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := builder.Build(ctx)
	if err != nil {
		return err
	}

	fmt.Println()
	success("Build complete in %s", result.Duration.Round(time.Millisecond))
	fmt.Println()
	fmt.Println("  Entries:")
	for _, e := range result.Entries {
		kind := string(e.Type)
		if e.Framework != "" {
			kind += " (" + e.Framework + ")"
		}
		fmt.Printf("    %-10s %-28s %s · %s\n", e.Name, e.ID, kind, e.Runtime)
	}
	fmt.Println()
	rel, err := filepath.Rel(cfg.Dir(), result.Manifest)
	if err != nil {
		rel = result.Manifest
	}
	fmt.Printf("  Manifest: %s (%s)\n", rel, result.Hash[:12])
	for _, loc := range result.Published {
		fmt.Printf("  Published: %s\n", loc)
	}
	fmt.Println()

	return nil
}
