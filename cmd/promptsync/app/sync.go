package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/promptsync/internal/service"
	pkgsync "github.com/stacklok/promptsync/internal/sync"
)

// errSyncFailed makes a failed run exit non-zero once the result is printed
var errSyncFailed = errors.New("sync failed")

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", outputText, "Output format (text or json)")
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return "", fmt.Errorf("failed to get output flag: %w", err)
	}
	return format, validateOutput(format)
}

func newSyncCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize now",
		Long: `Run a sync immediately. If merging the local and remote libraries needs
confirmation (for example when both hold many items and this device has never
synced with the remote), the run stops before writing anything and describes
the merge. Re-run with --confirm to merge anyway.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			confirm, _ := cmd.Flags().GetBool("confirm")

			return c.withApp(cmd, func(svc service.SyncService) error {
				var res *pkgsync.Result
				if confirm {
					res = svc.SyncWithMergeConfirmed(cmd.Context())
				} else {
					res = svc.SyncNow(cmd.Context())
				}

				if format == outputJSON {
					if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				} else {
					newPrinter(cmd.OutOrStdout()).printResult(res)
				}
				if !res.Success && !res.NeedsConfirmation {
					return errSyncFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("confirm", false, "Merge even when the merge would normally need confirmation")
	addOutputFlag(cmd)
	return cmd
}

func newStatusCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(svc service.SyncService) error {
				st, err := svc.GetSyncStatus(cmd.Context())
				if err != nil {
					return err
				}
				if format == outputJSON {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				newPrinter(cmd.OutOrStdout()).printStatus(st)
				return nil
			})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func newTestCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test the connection to the remote store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(svc service.SyncService) error {
				res := svc.TestAvailability(cmd.Context())
				if format == outputJSON {
					if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				} else {
					newPrinter(cmd.OutOrStdout()).printConnection(res)
				}
				if !res.Valid {
					return fmt.Errorf("connection test failed: %s", res.Message)
				}
				return nil
			})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func newCompareCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Preview what a sync would change",
		Long: `Compare the local library with the remote snapshot and list what a sync
would do to each item. Nothing is written on either side.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(svc service.SyncService) error {
				preview, err := svc.CompareSnapshots(cmd.Context())
				if err != nil {
					return err
				}
				if format == outputJSON {
					return writeJSON(cmd.OutOrStdout(), preview)
				}
				return newPrinter(cmd.OutOrStdout()).printPreview(preview)
			})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func newOpenCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open the sync directory",
		Long:  `Open the iCloud Drive folder in the file manager, or the WebDAV server in the browser.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(svc service.SyncService) error {
				target, err := svc.OpenSyncDirectory(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "Opened "+target)
				return err
			})
		},
	}
}
