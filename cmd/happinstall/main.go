package main

import (
	"errors"
	"fmt"
	"os"

	"happinstall/cmd/happinstall/ui"
	"happinstall/internal/install"
	"happinstall/internal/logging"

	"github.com/spf13/cobra"
)

func main() {
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorLine(err))
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		debug         bool
		noInteraction bool
	)

	root := &cobra.Command{
		Use:           "happinstall",
		Short:         "Install and activate hApp bundles on a local conductor",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level); err != nil {
				return err
			}
			ui.ConfigureInteraction(noInteraction)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&noInteraction, "no-interaction", false, "Disable colours and terminal detection")

	root.AddCommand(installCmd())
	root.AddCommand(sandboxCmd())
	root.AddCommand(historyCmd())
	return root
}

// errorLine formats a failure for stderr, naming the install error kind
// when there is one.
func errorLine(err error) string {
	var ie *install.Error
	if errors.As(err, &ie) {
		return fmt.Sprintf("error [%s]: %v", ie.Kind, err)
	}
	return fmt.Sprintf("error: %v", err)
}
