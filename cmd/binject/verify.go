package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	var (
		executable string
		sea        bool
		vfs        bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a SEA or VFS resource's integrity without extracting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if executable == "" {
				return fmt.Errorf("missing required flag: --executable")
			}
			kind, err := resolveKindFlag(sea, vfs)
			if err != nil {
				return err
			}
			o := newOrchestrator()
			return o.Verify(executable, kind)
		},
	}

	cmd.Flags().StringVarP(&executable, "executable", "e", "", "input executable path")
	cmd.Flags().BoolVar(&sea, "sea", false, "verify the SEA resource")
	cmd.Flags().BoolVar(&vfs, "vfs", false, "verify the VFS resource")

	return cmd
}
