package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	perrors "github.com/photon-dev/photon/internal/errors"
)

func explainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain [code]",
		Short: "Describe an error code",
		Long: `Without arguments, list every error code photon can report.
With a code such as P140, print its full explanation.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, code := range perrors.Codes() {
					t, _ := perrors.Lookup(code)
					fmt.Fprintf(out, "%s  %-7s %s\n", code, t.Category, t.Message)
				}
				return nil
			}

			code := strings.ToUpper(args[0])
			if _, ok := perrors.Lookup(code); !ok {
				return perrors.Newf(perrors.CategoryCLI, "unknown error code %q", args[0]).
					WithSuggestion("Run photon explain to list known codes")
			}
			fmt.Fprint(out, perrors.New(code).Render(perrors.StyleFor(out)))
			return nil
		},
	}
}
