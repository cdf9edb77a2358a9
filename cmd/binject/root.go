// Package main is the binject CLI entry point (spec §6's CLI surface).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/socketdev/binject/internal/collaborator"
	"github.com/socketdev/binject/internal/orchestrator"
	"github.com/socketdev/binject/internal/telemetry"
)

// version is set via -ldflags at release build time; either semver X.Y.Z or
// date-git YYYYMMDD-<hexhash>, per spec §6.
var version = "0.0.0-dev"

func newRootCmd() *cobra.Command {
	var showVersion bool

	cmd := &cobra.Command{
		Use:           "binject",
		Short:         "Inject and extract SEA/VFS resources in Mach-O, ELF, and PE executables",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), version)
				return nil
			}
			return cmd.Help()
		},
	}
	cmd.Flags().BoolVarP(&showVersion, "version", "v", false, "print version and exit")

	cmd.AddCommand(newInjectCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newVerifyCmd())
	return cmd
}

func newOrchestrator() *orchestrator.Orchestrator {
	collab := collaborator.Default{Exec: collaborator.Exec{Paths: collaborator.Paths{
		Signer:       os.Getenv("BINJECT_SIGNER"),
		Compressor:   os.Getenv("BINJECT_COMPRESSOR"),
		Decompressor: os.Getenv("BINJECT_DECOMPRESSOR"),
		Runtime:      os.Getenv("BINJECT_RUNTIME"),
	}}}
	o := orchestrator.New(collab)
	o.Log = telemetry.New()
	return o
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "binject:", err)
		os.Exit(1)
	}
}
