package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sightline/internal/api"
)

func newOfflineCommand(ctx *commandContext) *cobra.Command {
	offlineCmd := &cobra.Command{
		Use:   "offline",
		Short: "Inspect and replay the offline request queue",
	}

	offlineCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued and dead-lettered requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Offline(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				if resp.Online {
					fmt.Fprintln(out, renderStatusLine("Backend", statusOK, "reachable", colorize))
				} else {
					fmt.Fprintln(out, renderStatusLine("Backend", statusWarn, "offline", colorize))
				}
				fmt.Fprintf(out, "%s%-*s %d\n", statusIndent, statusLabelWidth, "Queued:", resp.Depth)
				fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Replaying:", yesNo(resp.Replaying))

				if len(resp.Requests) > 0 {
					fmt.Fprintln(out)
					rows := make([][]string, 0, len(resp.Requests))
					for _, r := range resp.Requests {
						rows = append(rows, []string{r.EnqueuedAt, r.Method, r.Endpoint})
					}
					fmt.Fprint(out, renderTable([]string{"Enqueued", "Method", "Endpoint"}, rows))
				}
				if len(resp.DeadLetters) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, "Rejected requests:")
					rows := make([][]string, 0, len(resp.DeadLetters))
					for _, r := range resp.DeadLetters {
						rows = append(rows, []string{r.FailedAt, r.Method, r.Endpoint, truncate(r.Error, 60)})
					}
					fmt.Fprint(out, renderTable([]string{"Failed", "Method", "Endpoint", "Error"}, rows))
				}
				return nil
			})
		},
	})

	offlineCmd.AddCommand(&cobra.Command{
		Use:   "replay",
		Short: "Deliver queued requests now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Replay(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				switch {
				case resp.Skipped:
					fmt.Fprintln(out, "Replay skipped: already running or backend offline")
				default:
					fmt.Fprintf(out, "Replayed %d requests: %d delivered, %d retained, %d rejected\n",
						resp.Attempted, resp.Delivered, resp.Retained, resp.DeadLettered)
				}
				if resp.Error != "" {
					fmt.Fprintf(out, "Stopped early: %s\n", resp.Error)
				}
				return nil
			})
		},
	})

	return offlineCmd
}
