package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/parvum/devlink/internal/config"
	"github.com/parvum/devlink/internal/coordinator"
	"github.com/parvum/devlink/internal/dispatch"
	"github.com/parvum/devlink/internal/logging"
	"github.com/parvum/devlink/internal/server"
	"github.com/parvum/devlink/internal/workspace"
)

var (
	serveWindowID  string
	serveWorkspace string
	serveUntrusted bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a window process",
	Long: `Serve runs one editor window's side of the protocol: it joins the
leader election on the shared port range and serves browser clients as
Primary or registers with the winner as Secondary.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveWindowID, "window-id", "", "Stable window identifier (defaults to a fresh UUID)")
	serveCmd.Flags().StringVarP(&serveWorkspace, "workspace", "w", "", "Workspace root directory (overrides the config file)")
	serveCmd.Flags().BoolVar(&serveUntrusted, "untrusted", false, "Mark the workspace as untrusted")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	windowID := serveWindowID
	if windowID == "" {
		windowID = uuid.NewString()
	}

	root := cfg.Workspace.Root
	trusted := cfg.Workspace.Trusted
	if serveWorkspace != "" {
		abs, err := filepath.Abs(serveWorkspace)
		if err != nil {
			return err
		}
		root = abs
		trusted = true
	}
	if serveUntrusted {
		trusted = false
	}

	log := logging.WithWindow(logging.Coordinator(), windowID, "window")

	provider := workspace.NewFSProvider(root, trusted)
	dispatcher := dispatch.New(provider, logging.Dispatch())
	workspace.RegisterHandlers(dispatcher, provider)

	coord := coordinator.New(coordinator.Config{
		WindowID:           windowID,
		Ports:              cfg.Ports.Range(),
		ConnectAttempts:    cfg.Client.ConnectAttempts,
		RetryDelay:         cfg.Client.RetryDelay.Std(),
		DialTimeout:        cfg.Client.DialTimeout.Std(),
		RequestTimeout:     cfg.Client.RequestTimeout.Std(),
		AggregationTimeout: cfg.Coordinator.AggregationTimeout.Std(),
		MaxSecondaries:     cfg.Coordinator.MaxSecondaries,
		Server: server.Options{
			Security: server.SecurityConfig{
				MaxMessageSize:      cfg.Server.MaxMessageSize,
				MaxConnectionsPerIP: cfg.Server.MaxConnectionsPerIP,
				PongWait:            server.DefaultSecurityConfig().PongWait,
				PingPeriod:          server.DefaultSecurityConfig().PingPeriod,
				WriteWait:           server.DefaultSecurityConfig().WriteWait,
			},
			RateLimit: server.RateLimitConfig{
				ConnectionsPerSecond: cfg.Server.RateLimitPerSecond,
				BurstSize:            cfg.Server.RateLimitBurst,
				CleanupInterval:      server.DefaultRateLimitConfig().CleanupInterval,
				EntryTTL:             server.DefaultRateLimitConfig().EntryTTL,
			},
			AuthToken: cfg.Server.AuthToken,
		},
	}, dispatcher)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Reload logging settings and operational timeouts when the config file
	// changes. Ports and election state are fixed for the life of the
	// process.
	watchPath := configPath
	if watchPath == "" {
		watchPath = config.DefaultConfigPath()
	}
	if _, err := os.Stat(watchPath); err == nil {
		watcher, err := config.NewWatcher(watchPath, func(updated *config.Config) {
			if err := logging.Initialize(logging.Config{
				Level:      updated.Log.Level,
				File:       logging.FileConfig{Path: updated.Log.File},
				JSON:       updated.Log.JSON,
				Components: updated.Log.Components,
			}); err != nil {
				log.Warn("Failed to apply reloaded log settings", "error", err)
			}
			coord.ApplyTimeouts(updated.Client.RequestTimeout.Std(),
				updated.Coordinator.AggregationTimeout.Std())
		}, log)
		if err != nil {
			log.Warn("Config watcher unavailable", "error", err)
		} else {
			watcher.Start()
			defer watcher.Close()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("Shutting down", "signal", sig.String())
		cancel()
	}()

	log.Info("Window process starting",
		"workspace", root, "trusted", trusted,
		"ports_base", cfg.Ports.Base, "ports_count", cfg.Ports.Count)

	err := coord.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
