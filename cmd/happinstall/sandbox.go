package main

import (
	"fmt"
	"os"

	"happinstall/cmd/happinstall/ui"
	"happinstall/internal/conductor"
	"happinstall/internal/sandbox"

	"github.com/spf13/cobra"
)

func sandboxCmd() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Inspect and remove registered sandboxes",
	}
	cmd.PersistentFlags().StringVar(&root, "sandbox-root", ".", "Directory holding the .hc registry")

	cmd.AddCommand(sandboxListCmd(&root))
	cmd.AddCommand(sandboxCleanCmd(&root))
	return cmd
}

func sandboxListCmd(root *string) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered sandboxes",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := sandbox.Load(*root)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), ui.Muted("no sandboxes registered"))
				return nil
			}

			rows := make([][]string, 0, len(paths))
			for _, path := range paths {
				rows = append(rows, sandboxRow(path))
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.Table([]string{"Path", "Admin Port", "State"}, rows))
			return nil
		},
	}
}

// sandboxRow describes one registered path. Missing or unreadable sandboxes
// still get a row.
func sandboxRow(path string) []string {
	if _, err := os.Stat(path); err != nil {
		return []string{path, "-", "missing"}
	}
	cfg, err := conductor.ReadConfig(path)
	if err != nil {
		return []string{path, "-", "invalid config"}
	}
	port, err := cfg.AdminPort()
	if err != nil {
		return []string{path, "-", "no admin interface"}
	}
	return []string{path, fmt.Sprintf("%d", port), "ok"}
}

func sandboxCleanCmd(root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove every registered sandbox and the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := sandbox.Load(*root)
			if err != nil {
				return err
			}
			if err := sandbox.Clean(*root); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Removed %d sandboxes.", len(paths)))
			return nil
		},
	}
}
