// Package app provides the command line interface of the promptsync agent.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	syncapp "github.com/stacklok/promptsync/internal/app"
	"github.com/stacklok/promptsync/internal/config"
	"github.com/stacklok/promptsync/internal/service"
	"github.com/stacklok/promptsync/pkg/versions"
)

// appFactory builds the sync application for a command. It is replaced in tests.
type appFactory func(ctx context.Context, opts ...syncapp.SyncAppOptions) (syncApp, error)

// syncApp is the part of the application the commands use
type syncApp interface {
	Service() service.SyncService
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Close() error
}

// cli carries what every command shares
type cli struct {
	v       *viper.Viper
	newApp  appFactory
	onDebug func()
}

// RootOption configures the root command
type RootOption func(*cli)

// WithDebugHook sets the function that raises the log level when --debug is given
func WithDebugHook(fn func()) RootOption {
	return func(c *cli) {
		c.onDebug = fn
	}
}

// withAppFactory replaces how the sync application is built
func withAppFactory(f appFactory) RootOption {
	return func(c *cli) {
		c.newApp = f
	}
}

func defaultAppFactory(ctx context.Context, opts ...syncapp.SyncAppOptions) (syncApp, error) {
	a, err := syncapp.NewSyncApp(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd(opts ...RootOption) *cobra.Command {
	c := &cli{v: viper.New(), newApp: defaultAppFactory}
	for _, opt := range opts {
		opt(c)
	}
	c.v.SetEnvPrefix(config.EnvPrefix)
	c.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:               "promptsync",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Synchronize prompts, snippets and folders across devices",
		Long: `promptsync keeps a local library of prompts, snippets and folders in sync
across devices through a shared remote store (WebDAV, an iCloud Drive folder or
an S3-compatible bucket).

Run "promptsync serve" to keep the library synchronized in the background, or
use the one-shot commands to sync, inspect and configure it.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if c.v.GetBool("debug") && c.onDebug != nil {
				c.onDebug()
				slog.Debug("Debug logging enabled")
			}
		},
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().String("config", defaultConfigPath(), "Path to the configuration file")
	for _, name := range []string{"debug", "config"} {
		if err := c.v.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}

	rootCmd.AddCommand(
		newServeCmd(c),
		newSyncCmd(c),
		newStatusCmd(c),
		newTestCmd(c),
		newCompareCmd(c),
		newConfigCmd(c),
		newOpenCmd(c),
		newVersionCmd(),
	)

	return rootCmd
}

// defaultConfigPath is the configuration file in the user's config directory
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "promptsync", "config.yaml")
}

func (c *cli) configPath() string {
	return c.v.GetString("config")
}

// withApp builds the application for a one-shot command and releases it afterwards
func (c *cli) withApp(cmd *cobra.Command, fn func(svc service.SyncService) error) error {
	a, err := c.newApp(cmd.Context(), syncapp.WithConfigPath(c.configPath()))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Failed to release resources", "error", err)
		}
	}()
	return fn(a.Service())
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			p := newPrinter(cmd.OutOrStdout())
			p.keyValues([][2]string{
				{"Version", info.Version},
				{"Commit", info.Commit},
				{"Built", info.BuildDate},
				{"Go", info.GoVersion},
				{"Platform", info.Platform},
			})
			return nil
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
