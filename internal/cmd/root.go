// Package cmd provides the CLI commands for Ktulhu.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ktulhu-ai/ktulhu/internal/appdir"
	"github.com/ktulhu-ai/ktulhu/internal/config"
	"github.com/ktulhu-ai/ktulhu/internal/logging"
)

var (
	// Global flags
	configPath    string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string
	metricsAddr   string

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ktulhu",
	Short: "Ktulhu - a terminal client for the Ktulhu assistant",
	Long: `Ktulhu is a command-line client for the Ktulhu assistant.

It keeps a realtime connection to the backend, streams replies as they
are generated and lets you browse, continue and manage stored chats.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help and completion commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create Ktulhu directory: %w", err)
		}

		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
		applyFlags(cfg)

		if err := logging.Initialize(loggingConfig(cfg.Log)); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		if cfg.UsingPlaceholderAPI() {
			logging.CLI().Warn("no backend configured, api_base_url still points at the placeholder host",
				"api_base_url", cfg.APIBaseURL)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Clean up logging resources
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (default: $KTULHU_CONFIG or config.yaml in the data directory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: from config)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to console). Use 'default' for the data directory log.")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'socket,history'). Empty means all components.")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9100)")
}

// applyFlags overrides configuration values with explicitly set flags.
// Priority: --log-level flag > --debug flag > config.
func applyFlags(c *config.Config) {
	if logLevel != "" {
		c.Log.Level = logLevel
	} else if debug {
		c.Log.Level = "debug"
	}
	if logFile != "" {
		c.Log.File = logFile
	}
	if logComponents != "" {
		c.Log.Components = logComponents
	}
	if metricsAddr != "" {
		c.MetricsAddr = metricsAddr
	}
}

// loggingConfig translates the log section of the configuration.
func loggingConfig(lc config.LogConfig) logging.Config {
	out := logging.Config{
		Level:      lc.Level,
		JSON:       lc.JSON,
		Components: splitComponents(lc.Components),
	}
	if lc.File != "" {
		fileLog := logging.DefaultFileLogConfig()
		fileLog.Path = lc.File
		if lc.File == "default" {
			if p, err := appdir.LogPath(); err == nil {
				fileLog.Path = p
			}
		}
		out.FileLog = &fileLog
	}
	return out
}

func splitComponents(s string) []string {
	var components []string
	for _, c := range strings.Split(s, ",") {
		c = strings.TrimSpace(c)
		if c != "" {
			components = append(components, c)
		}
	}
	return components
}
