package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/libload/internal/config"
	"github.com/kalambet/libload/internal/deploy"
	"github.com/kalambet/libload/internal/model"
	"github.com/kalambet/libload/internal/session"
)

// withBackend opens the backend for one command and closes it afterwards.
func withBackend(fn func(b backend) error) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}

// --- packages ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked packages; the current one is marked with *",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			out, err := b.View(cmd.Context())
			if err != nil {
				return err
			}
			printPackages(out.State.Packages, out.State.Current)
			return nil
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add <package>",
	Short: "Track a package with the default config and create its data directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			out, err := b.Dispatch(cmd.Context(), session.Action{Intent: session.IntentAdd, Package: args[0]})
			if err != nil {
				return err
			}
			printSuccess("%s", out.Message)
			return nil
		})
	},
}

var selectCmd = &cobra.Command{
	Use:   "select <package>",
	Short: "Make a tracked package current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			out, err := selectPackage(cmd, b, args[0])
			if err != nil {
				return err
			}
			printSuccess("Selected %s", out.State.Current)
			printForm(out.Form)
			return nil
		})
	},
}

func selectPackage(cmd *cobra.Command, b backend, name string) (session.Outcome, error) {
	out, err := b.Dispatch(cmd.Context(), session.Action{Intent: session.IntentSelect, Package: name})
	if err != nil {
		return out, err
	}
	if out.State.Current != name {
		return out, fmt.Errorf("unknown package %q (see `libload list`)", name)
	}
	return out, nil
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the config of the current package",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withBackend(func(b backend) error {
			out, err := b.View(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			if out.Form == nil {
				printWarning("No package selected")
				return nil
			}
			printStatus("Package", "%s", out.State.Current)
			printForm(out.Form)
			return nil
		})
	},
}

func printForm(f *model.Form) {
	if f == nil {
		return
	}
	printStatus("Use default lib", "%t", f.UseDefaultLib)
	lib := f.LibPath
	if lib == "" {
		lib = "-"
	}
	printStatus("Library path", "%s", lib)
	printStatus("Injection", "%s", enabledLabel(f.EnableInjection))
}

func enabledLabel(on bool) string {
	if on {
		return colorize(colorGreen, "enabled")
	}
	return colorize(colorDim, "disabled")
}

var saveCmd = &cobra.Command{
	Use:   "save [package]",
	Short: "Save the config of the current package and deploy its library",
	Long: `Save the config of the current package. Flags that are not given keep
their current value. When a custom library is set and the default library is
off, the library is copied to <app data>/<package>/libmain.so.

Examples:
  libload save --enable
  libload save com.example.app --default-lib=false --lib-path /sdcard/libhook.so --enable`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			var out session.Outcome
			var err error
			if len(args) == 1 {
				out, err = selectPackage(cmd, b, args[0])
			} else {
				out, err = b.View(cmd.Context())
			}
			if err != nil {
				return err
			}
			if out.Form == nil {
				return &session.NoSelectionError{Action: "save"}
			}

			form := *out.Form
			flags := cmd.Flags()
			if flags.Changed("default-lib") {
				form.UseDefaultLib, _ = flags.GetBool("default-lib")
			}
			if flags.Changed("lib-path") {
				form.LibPath, _ = flags.GetString("lib-path")
			}
			if flags.Changed("enable") {
				form.EnableInjection, _ = flags.GetBool("enable")
			}

			if rec := form.Record(); rec.WantsDeployment() {
				printStep("Deploying %s for %s", rec.LibPath, out.State.Current)
			}
			out, err = b.Dispatch(cmd.Context(), session.Action{Intent: session.IntentSave, Form: &form})
			var derr *deploy.DeployError
			if errors.As(err, &derr) || isRemoteDeployError(err) {
				printWarning("Config saved, but the library was not deployed")
				return err
			}
			if err != nil {
				return err
			}
			printSuccess("%s", out.Message)
			return nil
		})
	},
}

func isRemoteDeployError(err error) bool {
	var aerr *apiError
	return errors.As(err, &aerr) && aerr.Type == "deploy_error"
}

func init() {
	saveCmd.Flags().Bool("default-lib", true, "use the module's bundled library")
	saveCmd.Flags().String("lib-path", "", "custom library path on the device")
	saveCmd.Flags().Bool("enable", false, "enable injection")
	showCmd.Flags().Bool("json", false, "print as JSON")
}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Stop tracking the current package",
	Args:  cobra.NoArgs,
	RunE:  runIntent(session.IntentRemove),
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy the config file to the backup location",
	Args:  cobra.NoArgs,
	RunE:  runIntent(session.IntentBackup),
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Overwrite the config file with the backup and reload it",
	Args:  cobra.NoArgs,
	RunE:  runIntent(session.IntentRestore),
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Re-read the config file",
	Args:  cobra.NoArgs,
	RunE:  runIntent(session.IntentReload),
}

func runIntent(intent session.Intent) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			out, err := b.Dispatch(cmd.Context(), session.Action{Intent: intent})
			if err != nil {
				return err
			}
			printSuccess("%s", out.Message)
			return nil
		})
	}
}

// --- log ---

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the shell commands run on the device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tail, _ := cmd.Flags().GetInt("tail")
		clearLog, _ := cmd.Flags().GetBool("clear")

		return withBackend(func(b backend) error {
			if clearLog {
				if err := b.ClearCommands(cmd.Context()); err != nil {
					return err
				}
				printSuccess("Command log cleared")
				return nil
			}

			_, total, err := b.Commands(cmd.Context(), 0, 0)
			if err != nil {
				return err
			}
			entries, _, err := b.Commands(cmd.Context(), tail, max(total-tail, 0))
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(stdout, colorize(colorDim, "no commands"))
				return nil
			}
			for _, e := range entries {
				printLogEntry(e)
			}
			return nil
		})
	},
}

func init() {
	logCmd.Flags().IntP("tail", "n", 50, "number of most recent commands to show")
	logCmd.Flags().Bool("clear", false, "clear the command log")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a value from the config file, restoring its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
