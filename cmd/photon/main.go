package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	perrors "github.com/photon-dev/photon/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// jsonErrors switches error output to one JSON object per error.
var jsonErrors bool

const banner = `
  ┌─┐┬ ┬┌─┐┌┬┐┌─┐┌┐┌
  ├─┘├─┤│ │ │ │ ││││
  ┴  ┴ ┴└─┘ ┴ └─┘┘└┘
`

func main() {
	if err := rootCmd().Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "photon",
		Short: "Dev server supervisor for Vike server entries",
		Long: `photon runs your server entry (express, fastify, hono, h3, elysia,
hattip or a plain universal handler) next to the dev server.

  • Restarts the entry when it or its middleware changes
  • Invalidates everything else in place
  • Reloads connected browsers once the server is ready
  • Writes an entry manifest for deployment adapters`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVar(&jsonErrors, "json", false, "print errors as JSON")

	root.AddCommand(
		devCmd(),
		buildCmd(),
		explainCmd(),
		versionCmd(),
	)
	return root
}

// printError writes err to w, as JSON when --json is set.
func printError(w io.Writer, err error) {
	if jsonErrors {
		perrors.FprintJSON(w, err)
		return
	}
	perrors.Fprint(w, err)
}

// printBanner prints the photon banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
