package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	syncapp "github.com/stacklok/promptsync/internal/app"
)

const defaultGracefulTimeout = 30 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync agent in the foreground",
		Long: `Run the sync agent: automatic sync on a timer, on local changes and when the
network comes back, plus the local control API.

The agent follows the configuration file and reschedules itself whenever it
changes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runServe(cmd)
		},
	}
	cmd.Flags().String("address", "", "Address of the control API (defaults to api.address from the configuration)")
	cmd.Flags().String("state-dir", "", "Directory for the database, the status file and the device id")
	return cmd
}

func (c *cli) runServe(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []syncapp.SyncAppOptions{syncapp.WithConfigPath(c.configPath())}
	if addr, _ := cmd.Flags().GetString("address"); addr != "" {
		opts = append(opts, syncapp.WithAddress(addr))
	}
	if dir, _ := cmd.Flags().GetString("state-dir"); dir != "" {
		opts = append(opts, syncapp.WithStateDirectory(dir))
	}

	slog.Info("Starting promptsync agent", "config", c.configPath())
	a, err := c.newApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to build sync agent: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			_ = a.Stop(defaultGracefulTimeout)
			return err
		}
	}

	return a.Stop(defaultGracefulTimeout)
}

