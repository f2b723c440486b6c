package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"sightline/internal/api"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Inspect task batches",
	}
	batchCmd.AddCommand(&cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show a batch and its member tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Batch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				b := resp.Batch
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintf(out, "Batch %s\n", b.ID)
				fmt.Fprintln(out, renderStatusLine("Status", taskKind(b.Status), displayLabel(b.Status), colorize))
				fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Tasks:", strconv.Itoa(len(b.TaskIDs)))
				fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Created:", b.CreatedAt)
				fmt.Fprintln(out)
				if len(b.Tasks) > 0 {
					fmt.Fprint(out, renderTable(
						[]string{"ID", "Status", "Attempts", "URL", "Updated"},
						taskRows(b.Tasks), 2,
					))
					return nil
				}
				fmt.Fprint(out, renderTable([]string{"Status", "Count"}, countRows(b.Counts), 1))
				return nil
			})
		},
	})
	return batchCmd
}
