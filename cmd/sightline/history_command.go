package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"sightline/internal/api"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent capture submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("limit must be non-negative")
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.History(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Entries) == 0 {
					fmt.Fprintln(out, "No captures recorded")
					return nil
				}
				rows := make([][]string, 0, len(resp.Entries))
				for _, e := range resp.Entries {
					tab := "-"
					if e.TabID != nil {
						tab = strconv.Itoa(*e.TabID)
					}
					rows = append(rows, []string{
						e.At,
						displayLabel(e.Source),
						tab,
						displayLabel(e.Outcome),
						truncate(e.URL, 60),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"At", "Source", "Tab", "Outcome", "URL"},
					rows, 2,
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show (0 for all)")
	return cmd
}
