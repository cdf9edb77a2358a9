package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/socketdev/binject/internal/orchestrator"
	"github.com/socketdev/binject/internal/seaconfig"
)

func newInjectCmd() *cobra.Command {
	var (
		executable   string
		output       string
		seaPath      string
		vfsPath      string
		vfsInMemory  bool
		vfsOnDisk    bool
		vfsCompat    bool
		skipRepack   bool
		updateConfig string
	)

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Inject a SEA and/or VFS resource into an executable",
		RunE: func(cmd *cobra.Command, args []string) error {
			if executable == "" {
				return fmt.Errorf("missing required flag: --executable")
			}
			if output == "" {
				return fmt.Errorf("missing required flag: --output")
			}

			vfsMode, err := resolveVFSMode(vfsInMemory, vfsOnDisk, vfsCompat)
			if err != nil {
				return err
			}

			if updateConfig != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "binject: --update-config is deprecated; set smol.update in the SEA config instead")
			}

			o := newOrchestrator()
			return o.Inject(cmd.Context(), orchestrator.InjectRequest{
				Input:        executable,
				Output:       output,
				SEAPath:      seaPath,
				VFSPath:      vfsPath,
				VFSMode:      vfsMode,
				SkipRepack:   skipRepack,
				UpdateConfig: updateConfig,
			})
		},
	}

	cmd.Flags().StringVarP(&executable, "executable", "e", "", "input executable path")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output executable path")
	cmd.Flags().StringVar(&seaPath, "sea", "", "path to a SEA payload or JSON config")
	cmd.Flags().StringVar(&vfsPath, "vfs", "", "path to a VFS payload (directory archive)")
	cmd.Flags().BoolVar(&vfsInMemory, "vfs-in-memory", false, "mount the VFS in memory")
	cmd.Flags().BoolVar(&vfsOnDisk, "vfs-on-disk", false, "mount the VFS from disk")
	cmd.Flags().BoolVar(&vfsCompat, "vfs-compat", false, "mount the VFS in compatibility mode")
	cmd.Flags().BoolVar(&skipRepack, "skip-repack", false, "operate directly on a compressed stub instead of bridging into it")
	cmd.Flags().StringVar(&updateConfig, "update-config", "", "deprecated: migrated into the SEA config's smol.update section")

	return cmd
}

func resolveVFSMode(inMemory, onDisk, compat bool) (string, error) {
	count := 0
	mode := ""
	if inMemory {
		count++
		mode = seaconfig.VFSInMemory
	}
	if onDisk {
		count++
		mode = seaconfig.VFSOnDisk
	}
	if compat {
		count++
		mode = seaconfig.VFSCompat
	}
	if count > 1 {
		return "", fmt.Errorf("only one of --vfs-in-memory, --vfs-on-disk, --vfs-compat may be given")
	}
	return mode, nil
}
