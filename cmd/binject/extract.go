package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/socketdev/binject/internal/resource"
)

func newExtractCmd() *cobra.Command {
	var (
		executable string
		output     string
		sea        bool
		vfs        bool
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract a SEA or VFS resource from an executable",
		RunE: func(cmd *cobra.Command, args []string) error {
			if executable == "" {
				return fmt.Errorf("missing required flag: --executable")
			}
			if output == "" {
				return fmt.Errorf("missing required flag: --output")
			}
			kind, err := resolveKindFlag(sea, vfs)
			if err != nil {
				return err
			}
			o := newOrchestrator()
			return o.Extract(executable, output, kind)
		},
	}

	cmd.Flags().StringVarP(&executable, "executable", "e", "", "input executable path")
	cmd.Flags().StringVarP(&output, "output", "o", "", "extracted payload output path")
	cmd.Flags().BoolVar(&sea, "sea", false, "extract the SEA resource")
	cmd.Flags().BoolVar(&vfs, "vfs", false, "extract the VFS resource")

	return cmd
}

// resolveKindFlag implements the exclusive --sea/--vfs selector shared by
// extract and verify.
func resolveKindFlag(sea, vfs bool) (resource.Kind, error) {
	switch {
	case sea && vfs:
		return 0, fmt.Errorf("only one of --sea or --vfs may be given")
	case sea:
		return resource.SEA, nil
	case vfs:
		return resource.VFS, nil
	default:
		return 0, fmt.Errorf("one of --sea or --vfs is required")
	}
}
