package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor bool
	remote  bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "libload",
	Short: "Manage per-app native library injection on a rooted Android device",
	Long: `libload edits the injection config read by the loader module, deploys
custom libraries into application data directories, and keeps a backup of
the config file.

Commands act on the device directly. With --remote they are sent to a
running "libload serve" instead.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&remote, "remote", false, "send commands to a running server")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "echo shell commands and their output")

	if os.Getenv("NO_COLOR") != "" {
		noColor = true
	}

	rootCmd.AddCommand(
		listCmd,
		addCmd,
		selectCmd,
		showCmd,
		saveCmd,
		removeCmd,
		backupCmd,
		restoreCmd,
		reloadCmd,
		logCmd,
		serveCmd,
		statusCmd,
		configCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
