package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkgmirror/pkg/auth"
	"pkgmirror/pkg/config"
	"pkgmirror/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage pkgmirror configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (PKGMIRROR_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as '.pkgmirror.yaml'
unless a different path is specified with the --config flag.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration after merging every source.
The registry token is masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate the effective configuration.

This command checks:
  - YAML syntax
  - Endpoint URLs
  - Value ranges
  - Whether output directories can be created`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# pkgmirror configuration file
#
# Every option can also be set through an environment variable prefixed
# with PKGMIRROR_, for example PKGMIRROR_INTER_REQUEST_DELAY_MS or PKGMIRROR_MIRROR_DIR.

# Registry endpoints
registry:
  search_url: "https://registry.npmjs.org/-/v1/search"
  registry_url: "https://registry.npmjs.org"
  user_agent: "pkgmirror/1.0"
  # Access token for private registries. Prefer 'pkgmirror auth login'.
  token: ""
  timeout: 60s

# Request pacing
rate_limit:
  # Sleep after every registry request
  inter_request_delay_ms: 1000
  # Optional hard ceiling; 0 disables it
  requests_per_minute: 0

# Search harvesting
harvest:
  # Omit to use the built-in query vocabulary
  # queries: [react, vue, express]
  # Range: 1-250
  page_size: 250
  # Unflushed results that trigger a flush and checkpoint
  flush_threshold: 250
  results_dir: "search-results"
  progress_file: "search-progress.json"
  catalog_file: "packages-list.json"

# Artifact mirroring
mirror:
  directory: "npm-mirror"
  # Newest versions kept per package
  versions_to_keep: 20
  progress_file: "download-progress.json"
  download_timeout: 10m

# Progress persistence
checkpoint:
  # Consecutive failed saves tolerated before a run aborts
  max_save_failures: 3
  # Keep a .backup copy when --force-restart discards a checkpoint
  backup_on_reset: true

# Count snapshots
report:
  counts_dir: "package-counts"
  max_retries: 3

# Logging
logging:
  # debug, info, warn, error
  level: "info"
  # Leave empty to log to stderr
  file: ""
  # Append-only record of failed items
  error_log: "error.log"
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".pkgmirror.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	out := ui.Output()
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "1. Edit the configuration file")
	fmt.Fprintln(out, "2. Run 'pkgmirror config validate' to check it")
	fmt.Fprintln(out, "3. Start with 'pkgmirror harvest'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	display := *cfg
	if display.Registry.Token != "" {
		display.Registry.Token = auth.Sanitize(&auth.Credential{Token: display.Registry.Token}).Token
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	out := ui.Output()
	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(data))

	fmt.Fprintln(out, "\nConfiguration sources (in order of priority):")
	fmt.Fprintln(out, "1. Command line flags")
	fmt.Fprintln(out, "2. Environment variables ("+config.EnvPrefix+"*)")
	fmt.Fprintln(out, "3. .env files")
	if configFile != "" {
		fmt.Fprintf(out, "4. Configuration file: %s\n", configFile)
	} else {
		fmt.Fprintln(out, "4. Configuration file: (searched in default locations)")
	}
	fmt.Fprintln(out, "5. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	var problems []string
	for _, dir := range []string{cfg.Harvest.ResultsDir, cfg.Mirror.Directory, cfg.Report.CountsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create directory %s: %v", dir, err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors")
		for _, p := range problems {
			fmt.Fprintf(ui.Output(), "  - %s\n", p)
		}
		return fmt.Errorf("%d configuration errors", len(problems))
	}

	if cfg.RateLimit.InterRequestDelayMs == 0 && cfg.RateLimit.RequestsPerMinute == 0 {
		ui.PrintWarning("No request pacing configured; the registry may throttle you")
	}

	ui.PrintSuccess("Configuration is valid")

	out := ui.Output()
	fmt.Fprintln(out, "\nConfiguration summary:")
	fmt.Fprintf(out, "  Search URL: %s\n", cfg.Registry.SearchURL)
	fmt.Fprintf(out, "  Queries: %d\n", len(cfg.Harvest.Queries))
	fmt.Fprintf(out, "  Page size: %d\n", cfg.Harvest.PageSize)
	fmt.Fprintf(out, "  Request delay: %s\n", cfg.RateLimit.InterRequestDelay())
	fmt.Fprintf(out, "  Mirror directory: %s\n", cfg.Mirror.Directory)
	fmt.Fprintf(out, "  Versions per package: %d\n", cfg.Mirror.VersionsToKeep)
	fmt.Fprintf(out, "  Log level: %s\n", cfg.Logging.Level)
	return nil
}
