// Package cmd provides the CLI commands for devlink.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parvum/devlink/internal/config"
	"github.com/parvum/devlink/internal/logging"
)

var (
	// Global flags
	configPath    string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "devlink",
	Short: "devlink - a bridge between browser AI agents and editor windows",
	Long: `devlink connects browser-based AI agents to local editor windows
over a loopback WebSocket protocol.

Each editor window runs "devlink serve"; the windows elect a Primary on a
shared port range and browser clients talk to whichever window won. The
"call" command issues one-off requests from the command line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help and completion commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		var err error
		cfg, err = config.LoadOrDefault(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Priority: --log-level flag > --debug flag > config file > info
		effectiveLogLevel := cfg.Log.Level
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}
		effectiveLogFile := cfg.Log.File
		if logFile != "" {
			effectiveLogFile = logFile
		}
		components := cfg.Log.Components
		if logComponents != "" {
			components = nil
			for _, c := range strings.Split(logComponents, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					components = append(components, c)
				}
			}
		}
		if err := logging.Initialize(logging.Config{
			Level:      effectiveLogLevel,
			File:       logging.FileConfig{Path: effectiveLogFile},
			JSON:       cfg.Log.JSON,
			Components: components,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
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
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (defaults to ~/.devlinkrc, DEVLINKRC overrides)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to console)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'server,coordinator,relay'). Empty means all components.")
}
