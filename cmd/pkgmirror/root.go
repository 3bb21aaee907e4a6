package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pkgmirror/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	logFile       string
	quiet         bool
	notifications bool
	delayMs       int
	rateLimit     int
	searchURL     string
	registryURL   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pkgmirror",
	Short: "Resumable npm registry harvester and mirror",
	Long: `pkgmirror enumerates the npm registry through paginated searches and
mirrors the newest versions of every package it finds.

Every phase checkpoints its progress to a JSON file, so an interrupted run
picks up exactly where it stopped:

  harvest   page through search queries into per-query result files
  merge     union the result files into one package catalog
  mirror    download the newest tarballs of every catalog entry
  counts    snapshot the total reported for each query
  compare   diff the two most recent count snapshots`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetQuietMode(quiet || logLevel == "error")

		if cmd.Name() != "version" && cmd.Name() != "help" {
			ui.PrintBanner()
		}
	},
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pkgmirror %s\n", rootCmd.Version)
		fmt.Fprintf(cmd.OutOrStdout(), "Go Version: %s\nOS/Arch: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

// Execute adds all child commands to the root command and runs it. Any
// returned error exits with status 1.
func Execute() {
	if err := execute(os.Args[1:]); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

// execute runs the command line args with every flag back at its default,
// so repeated runs in one process do not inherit earlier values
func execute(args []string) error {
	resetFlags(rootCmd)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .pkgmirror.yaml or $XDG_CONFIG_HOME/pkgmirror/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notify", false, "send a desktop notification when a run ends")
	rootCmd.PersistentFlags().IntVar(&delayMs, "delay-ms", -1, "delay after every registry request in milliseconds")
	rootCmd.PersistentFlags().IntVar(&rateLimit, "rate-limit", -1, "hard ceiling in requests per minute (0 disables it)")
	rootCmd.PersistentFlags().StringVar(&searchURL, "search-url", "", "search endpoint URL")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry-url", "", "registry base URL")

	rootCmd.SetVersionTemplate(`pkgmirror {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(versionCmd)
}

// globalFlags collects the persistent flags in the form config.Load expects.
// Unset flags are left out so that file and environment values apply.
func globalFlags() map[string]interface{} {
	flags := make(map[string]interface{})
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if logFile != "" {
		flags["log-file"] = logFile
	}
	if delayMs >= 0 {
		flags["delay-ms"] = delayMs
	}
	if rateLimit >= 0 {
		flags["rate-limit"] = rateLimit
	}
	if searchURL != "" {
		flags["search-url"] = searchURL
	}
	if registryURL != "" {
		flags["registry-url"] = registryURL
	}
	return flags
}
