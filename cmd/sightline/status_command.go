package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"sightline/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, connectivity, and task status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "running at "+client.BaseURL(), colorize))
				if status.Online {
					fmt.Fprintln(out, renderStatusLine("Backend", statusOK, "reachable", colorize))
				} else {
					fmt.Fprintln(out, renderStatusLine("Backend", statusWarn, "offline", colorize))
				}
				queueKind := statusOK
				if status.OfflineDepth > 0 {
					queueKind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine("Offline queue", queueKind, fmt.Sprintf("%d pending", status.OfflineDepth), colorize))
				fmt.Fprintln(out, renderStatusLine("Active tasks", statusInfo, strconv.Itoa(status.Active), colorize))
				fmt.Fprintln(out)
				fmt.Fprint(out, renderTable([]string{"Status", "Count"}, countRows(status.Counts), 1))
				return nil
			})
		},
	}
}

func countRows(c api.Counts) [][]string {
	return [][]string{
		{displayLabel("pending"), strconv.Itoa(c.Pending)},
		{displayLabel("processing"), strconv.Itoa(c.Processing)},
		{displayLabel("analyzing"), strconv.Itoa(c.Analyzing)},
		{displayLabel("complete"), strconv.Itoa(c.Complete)},
		{displayLabel("error"), strconv.Itoa(c.Error)},
	}
}
